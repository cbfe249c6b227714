package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	pkgch "RLSignal/pkg/clickhouse"
	applogger "RLSignal/pkg/logger"
)

// CHCandleStore reads 1m candles from ClickHouse. Coarser timeframes are
// aggregated in the query.
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database, table string, l *applogger.Logger) *CHCandleStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandleStore{db: ch.DB(), table: database + "." + table, l: l}
}

// EnsureSchema creates the candle table when it does not exist.
func (s *CHCandleStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, candleDDL(s.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func candleDDL(table string) string {
	return fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            bucket DateTime,
            symbol LowCardinality(String),
            open   Float64,
            high   Float64,
            low    Float64,
            close  Float64,
            volume Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (symbol, bucket)`, table)
}

// rangeQuery selects candles of tf in [from, to] ascending.
func rangeQuery(table string, tf domrepo.Timeframe) string {
	if tf == domrepo.TF1m {
		return fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC`, table)
	}
	return fmt.Sprintf(`
        SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b, symbol,
               argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(volume)
        FROM %s FINAL
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        GROUP BY b, symbol
        ORDER BY b ASC`, int(tf.Duration().Seconds()), table)
}

// latestQuery selects the newest n candles of tf, newest first.
func latestQuery(table string, tf domrepo.Timeframe) string {
	if tf == domrepo.TF1m {
		return fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?`, table)
	}
	return fmt.Sprintf(`
        SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b, symbol,
               argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(volume)
        FROM %s FINAL
        WHERE symbol = ?
        GROUP BY b, symbol
        ORDER BY b DESC
        LIMIT ?`, int(tf.Duration().Seconds()), table)
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	start := time.Now()
	from, to = tf.Align(from, to)
	out, err := s.query(ctx, rangeQuery(s.table, tf), 1024, symbol, from, to)
	if err != nil {
		s.l.Error("clickhouse get_candles failed",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get candles: %w", err)
	}
	s.l.Debug("clickhouse get_candles ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	if n <= 0 {
		return nil, nil
	}
	start := time.Now()
	out, err := s.query(ctx, latestQuery(s.table, tf), n, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles failed",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	reverseCandles(out)
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHCandleStore) query(ctx context.Context, q string, capHint int, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, capHint)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func reverseCandles(c []models.Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}
