package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RLSignal/internal/domain/models"
	pkgch "RLSignal/pkg/clickhouse"
)

const decisionColumns = `ts, symbol, source, action, confidence, expected_return, model_version,
        entry, stop_loss, take_profit, risk_reward, reasoning, smc_analysis, volume_analysis`

// CHDecisionLog is an append-only ClickHouse table of served decisions.
type CHDecisionLog struct {
	db    *sql.DB
	table string
	ttl   int // days
}

func NewCHDecisionLog(ch *pkgch.Client, database, table string, ttlDays int) *CHDecisionLog {
	return &CHDecisionLog{db: ch.DB(), table: database + "." + table, ttl: ttlDays}
}

func decisionDDL(table string, ttlDays int) string {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts              DateTime64(3),
            symbol          LowCardinality(String),
            source          LowCardinality(String),
            action          LowCardinality(String),
            confidence      Float64,
            expected_return Float64,
            model_version   String,
            entry           Nullable(Float64),
            stop_loss       Nullable(Float64),
            take_profit     Nullable(Float64),
            risk_reward     Nullable(Float64),
            reasoning       String,
            smc_analysis    String,
            volume_analysis String
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (symbol, ts)`, table)
	if ttlDays > 0 {
		ddl += fmt.Sprintf("\n        TTL toDateTime(ts) + INTERVAL %d DAY", ttlDays)
	}
	return ddl
}

// Init creates the table when it does not exist.
func (s *CHDecisionLog) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, decisionDDL(s.table, s.ttl)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *CHDecisionLog) Append(ctx context.Context, ev models.DecisionEvent) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, decisionColumns)
	_, err := s.db.ExecContext(ctx, q,
		time.UnixMilli(ev.Timestamp).UTC(),
		ev.Symbol,
		ev.Source,
		string(ev.Action),
		ev.Confidence,
		ev.ExpectedReturn,
		ev.ModelVersion,
		ev.Entry,
		ev.StopLoss,
		ev.TakeProfit,
		ev.RiskRewardRatio,
		ev.Reasoning,
		ev.SMCAnalysis,
		ev.VolumeAnalysis,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// Recent returns up to limit decisions, newest first. An empty symbol
// matches every symbol.
func (s *CHDecisionLog) Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE (? = '' OR symbol = ?) ORDER BY ts DESC LIMIT ?`, decisionColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()

	out := make([]models.DecisionEvent, 0, limit)
	for rows.Next() {
		var (
			ev                models.DecisionEvent
			ts                time.Time
			action            string
			entry, sl, tp, rr sql.NullFloat64
		)
		if err := rows.Scan(&ts, &ev.Symbol, &ev.Source, &action, &ev.Confidence, &ev.ExpectedReturn, &ev.ModelVersion,
			&entry, &sl, &tp, &rr, &ev.Reasoning, &ev.SMCAnalysis, &ev.VolumeAnalysis); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		ev.Timestamp = ts.UnixMilli()
		ev.Action = models.Action(action)
		ev.Entry = nullable(entry)
		ev.StopLoss = nullable(sl)
		ev.TakeProfit = nullable(tp)
		ev.RiskRewardRatio = nullable(rr)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool belongs to the ClickHouse client.
func (s *CHDecisionLog) Close() error { return nil }

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
