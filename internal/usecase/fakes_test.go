package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/repository"
	"RLSignal/internal/services/simulation"
	"RLSignal/pkg/cache"
)

type fakePredictor struct {
	name  string
	ready bool
	sig   models.BaseSignal
	err   error
	calls int
}

func (p *fakePredictor) Name() string { return p.name }
func (p *fakePredictor) Ready() bool  { return p.ready }
func (p *fakePredictor) Predict(context.Context, []float64) (models.BaseSignal, error) {
	p.calls++
	return p.sig, p.err
}

type fakePublisher struct {
	mu          sync.Mutex
	decisions   []models.DecisionEvent
	results     []models.TrainResult
	dispatched  []models.TrainJobMessage
	err         error
	dispatchErr error
}

func (p *fakePublisher) PublishDecision(_ context.Context, ev models.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.decisions = append(p.decisions, ev)
	return nil
}

func (p *fakePublisher) PublishTrainResult(_ context.Context, res models.TrainResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
	return p.err
}

func (p *fakePublisher) DispatchTraining(_ context.Context, msg models.TrainJobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dispatchErr != nil {
		return p.dispatchErr
	}
	p.dispatched = append(p.dispatched, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) resultCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

type fakeLog struct {
	events []models.DecisionEvent
}

func (l *fakeLog) Init(context.Context) error { return nil }
func (l *fakeLog) Append(_ context.Context, ev models.DecisionEvent) error {
	l.events = append(l.events, ev)
	return nil
}
func (l *fakeLog) Recent(_ context.Context, symbol string, limit int) ([]models.DecisionEvent, error) {
	var out []models.DecisionEvent
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || l.events[i].Symbol == symbol {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}
func (l *fakeLog) Close() error { return nil }

type fakeMetrics struct {
	mu        sync.Mutex
	decisions int
	overrides int
	errors    map[string]int
	training  map[string]int
	episodes  []float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: map[string]int{}, training: map[string]int{}}
}

func (m *fakeMetrics) RecordDecision(string, string, float64) { m.mu.Lock(); m.decisions++; m.mu.Unlock() }
func (m *fakeMetrics) RecordOverride(string)                  { m.mu.Lock(); m.overrides++; m.mu.Unlock() }
func (m *fakeMetrics) RecordMessageSent(string, string)       {}
func (m *fakeMetrics) RecordError(kind string)                { m.mu.Lock(); m.errors[kind]++; m.mu.Unlock() }
func (m *fakeMetrics) RecordEpisode(r float64) {
	m.mu.Lock()
	m.episodes = append(m.episodes, r)
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordTraining(outcome string) {
	m.mu.Lock()
	m.training[outcome]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *fakeMetrics) trainingCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.training[outcome]
}

type fakeCandles struct {
	rows []models.Candle
	err  error
}

func (c *fakeCandles) GetCandles(context.Context, string, time.Time, time.Time, domrepo.Timeframe) ([]models.Candle, error) {
	return c.rows, c.err
}

func (c *fakeCandles) GetLatestNCandles(context.Context, string, int, domrepo.Timeframe) ([]models.Candle, error) {
	return c.rows, c.err
}

// fakeTrainer blocks each Train call until release is closed or ctx ends.
type fakeTrainer struct {
	mu      sync.Mutex
	release chan struct{}
	err     error
	loaded  bool
	symbols []string
}

func (t *fakeTrainer) Train(ctx context.Context, _ []models.Candle, symbol string, _ int, _ float64) (models.TrainResult, error) {
	if t.release != nil {
		select {
		case <-t.release:
		case <-ctx.Done():
			return models.TrainResult{Error: ctx.Err().Error()}, ctx.Err()
		}
	}
	t.mu.Lock()
	t.symbols = append(t.symbols, symbol)
	t.mu.Unlock()
	if t.err != nil {
		return models.TrainResult{Error: t.err.Error()}, t.err
	}
	return models.TrainResult{
		Success:           true,
		ModelID:           "ppo_" + symbol,
		Metrics:           &models.EvalMetrics{Sharpe: 1.5, WinRate: 0.6, MaxDrawdown: 0.05, TotalPnL: 500},
		IsProductionReady: true,
	}, nil
}

func (t *fakeTrainer) Update(_ context.Context, _ []models.Candle, symbol string) (models.TrainResult, error) {
	return models.TrainResult{Success: true, Symbol: symbol, ModelID: "ppo_updated"}, nil
}

func (t *fakeTrainer) IsModelLoaded() bool { return t.loaded }

func (t *fakeTrainer) LoadLatest() (bool, error) { return t.loaded, nil }

func (t *fakeTrainer) ModelID() string {
	if t.loaded {
		return "ppo_latest"
	}
	return ""
}

func newJobStore(t *testing.T) *repository.CacheJobStore {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return repository.NewCacheJobStore(mc, time.Hour)
}

func trendCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		p := 100 + float64(i)
		out[i] = models.Candle{Bucket: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1000}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fixedActor struct {
	ready bool
	a     simulation.Action
}

func (f fixedActor) Ready() bool { return f.ready }
func (f fixedActor) Act(simulation.Observation) (simulation.Action, error) {
	return f.a, nil
}
