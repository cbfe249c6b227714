package simulation

import (
	"fmt"

	"RLSignal/internal/domain/models"
	"RLSignal/internal/services/features"
)

// Action is the discrete action alphabet of the environment.
type Action int

const (
	Hold  Action = 0
	Long  Action = 1
	Short Action = 2
)

// ObservationSize is the width of every observation vector.
const ObservationSize = 10

const churnThreshold = 0.3
const churnPenalty = 0.1

// Observation is the fixed-width feature vector handed to a policy.
type Observation [ObservationSize]float64

// Float32 returns the observation as a float32 slice for model inputs.
func (o Observation) Float32() []float32 {
	out := make([]float32, ObservationSize)
	for i, v := range o {
		out[i] = float32(v)
	}
	return out
}

// Info is the per-step accounting. The json keys are consumed by external
// training code and must not change.
type Info struct {
	TotalPnL float64 `json:"total_pnl"`
	Position int     `json:"position"`
	Trades   int     `json:"trades"`
	Balance  float64 `json:"balance"`
}

// StepResult is the outcome of a single Step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Info        Info
}

// Trade records a closed position.
type Trade struct {
	Type  string  `json:"type"`
	Step  int     `json:"step"`
	Price float64 `json:"price"`
	PnL   float64 `json:"pnl"`
}

// Config holds the environment parameters.
type Config struct {
	InitialBalance  float64 `json:"initial_balance"`
	TransactionCost float64 `json:"transaction_cost"`
	PositionSize    float64 `json:"position_size"`
	Lookback        int     `json:"lookback_window"`
}

// DefaultConfig returns the standard episode parameters.
func DefaultConfig() Config {
	return Config{
		InitialBalance:  10000,
		TransactionCost: 0.001,
		PositionSize:    1.0,
		Lookback:        20,
	}
}

// Option configures a MarketEnv.
type Option func(*Config)

func WithInitialBalance(v float64) Option  { return func(c *Config) { c.InitialBalance = v } }
func WithTransactionCost(v float64) Option { return func(c *Config) { c.TransactionCost = v } }
func WithPositionSize(v float64) Option    { return func(c *Config) { c.PositionSize = v } }
func WithLookback(n int) Option            { return func(c *Config) { c.Lookback = n } }

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option { return func(c *Config) { *c = cfg } }

// MarketEnv replays a candle series one row per Step. An instance owns its
// state and must not be stepped from more than one goroutine.
type MarketEnv struct {
	cfg    Config
	series features.Series

	step     int
	balance  float64
	position int
	entry    float64
	totalPnL float64
	trades   []Trade
	done     bool
}

// NewMarketEnv validates the series and precomputes its indicators. The
// series must hold more than Lookback+1 rows with positive closes.
func NewMarketEnv(candles []models.Candle, opts ...Option) (*MarketEnv, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Lookback < 1 {
		return nil, fmt.Errorf("%w: lookback must be >= 1", ErrInvalidSeries)
	}
	if cfg.InitialBalance <= 0 || cfg.PositionSize <= 0 || cfg.TransactionCost < 0 {
		return nil, fmt.Errorf("%w: balance, position size and cost must be positive", ErrInvalidSeries)
	}
	if len(candles) <= cfg.Lookback+1 {
		return nil, fmt.Errorf("%w: %d rows, need more than %d", ErrInsufficientHistory, len(candles), cfg.Lookback+1)
	}
	for i, c := range candles {
		if c.Close <= 0 {
			return nil, fmt.Errorf("%w: non-positive close at row %d", ErrInvalidSeries, i)
		}
	}
	e := &MarketEnv{cfg: cfg, series: features.Compute(candles)}
	e.Reset(nil)
	return e, nil
}

// Reset starts a new episode at the end of the warm-up window. Episodes
// are deterministic, so the seed does not change the outcome.
func (e *MarketEnv) Reset(_ *int64) Observation {
	e.step = e.cfg.Lookback
	e.balance = e.cfg.InitialBalance
	e.position = 0
	e.entry = 0
	e.totalPnL = 0
	e.trades = e.trades[:0]
	e.done = false
	return e.observe()
}

// Step applies the action at the current row, computes the reward and
// advances one row. The returned observation is for the new row.
func (e *MarketEnv) Step(a Action) (StepResult, error) {
	if a < Hold || a > Short {
		return StepResult{}, fmt.Errorf("%w: %d", ErrInvalidAction, a)
	}
	if e.done {
		return StepResult{}, ErrEpisodeDone
	}
	price := e.series.Close[e.step]

	switch a {
	case Long:
		if e.position == -1 {
			e.close(price)
		}
		if e.position != 1 {
			e.open(1, price)
		}
	case Short:
		if e.position == 1 {
			e.close(price)
		}
		if e.position != -1 {
			e.open(-1, price)
		}
	default:
		if e.position != 0 {
			e.close(price)
		}
	}

	reward := e.totalPnL/e.cfg.InitialBalance*100 + e.unrealized(price)*10
	if len(e.trades) > 0 && e.step > e.cfg.Lookback+1 {
		freq := float64(len(e.trades)) / float64(e.step-e.cfg.Lookback)
		if freq > churnThreshold {
			reward -= churnPenalty
		}
	}

	e.step++
	e.done = e.step >= e.series.Len()-1
	return StepResult{
		Observation: e.observe(),
		Reward:      reward,
		Terminated:  e.done,
		Info:        e.info(),
	}, nil
}

// Trades returns a copy of the closed-trade log of the current episode.
func (e *MarketEnv) Trades() []Trade {
	out := make([]Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Info returns the current accounting snapshot.
func (e *MarketEnv) Info() Info { return e.info() }

// Done reports whether the episode has terminated.
func (e *MarketEnv) Done() bool { return e.done }

// Len returns the number of rows in the series.
func (e *MarketEnv) Len() int { return e.series.Len() }

// Config returns the environment parameters.
func (e *MarketEnv) Config() Config { return e.cfg }

func (e *MarketEnv) open(side int, price float64) {
	e.position = side
	e.entry = price
	e.balance -= price * e.cfg.TransactionCost
}

func (e *MarketEnv) close(price float64) {
	var pnl float64
	kind := "close_long"
	if e.position == 1 {
		pnl = (price - e.entry) * e.cfg.PositionSize
	} else {
		pnl = (e.entry - price) * e.cfg.PositionSize
		kind = "close_short"
	}
	e.totalPnL += pnl - price*e.cfg.TransactionCost
	e.trades = append(e.trades, Trade{Type: kind, Step: e.step, Price: price, PnL: pnl})
	e.position = 0
	e.entry = 0
}

func (e *MarketEnv) unrealized(price float64) float64 {
	switch e.position {
	case 1:
		return (price - e.entry) / e.entry
	case -1:
		return (e.entry - price) / e.entry
	default:
		return 0
	}
}

func (e *MarketEnv) info() Info {
	return Info{
		TotalPnL: e.totalPnL,
		Position: e.position,
		Trades:   len(e.trades),
		Balance:  e.balance + e.totalPnL,
	}
}

func (e *MarketEnv) observe() Observation {
	s := e.series
	i := e.step
	c := s.Close[i]
	norm := c*0.01 + features.Epsilon
	vr := s.VolumeRatio[i]
	if vr > 3 {
		vr = 3
	}
	return Observation{
		s.PriceChange[i] * 100,
		(s.RSI[i] - 50) / 50,
		s.MACD[i] / norm,
		s.BBPosition[i]*2 - 1,
		vr - 1,
		float64(e.position),
		e.totalPnL / e.cfg.InitialBalance,
		(s.High[i] - s.Low[i]) / c,
		s.MACDSignal[i] / norm,
		float64(i)/float64(s.Len())*2 - 1,
	}
}
