package policy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"RLSignal/internal/domain/models"
	"RLSignal/internal/services/simulation"
)

type fakeRuntime struct {
	loaded bool
	path   string
	probs  []float32
	err    error
	loads  []string
}

func (f *fakeRuntime) Loaded() bool      { return f.loaded }
func (f *fakeRuntime) ModelPath() string { return f.path }
func (f *fakeRuntime) Load(path string) error {
	f.loads = append(f.loads, path)
	f.loaded, f.path = true, path
	return nil
}
func (f *fakeRuntime) Infer(obs []float32) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.probs, nil
}
func (f *fakeRuntime) Close() error { return nil }

func TestRuleBasedPredictor(t *testing.T) {
	p := NewRuleBasedPredictor()
	cases := []struct {
		features []float64
		action   models.Action
		conf     float64
	}{
		{[]float64{80}, models.ActionLong, 0.68},
		{[]float64{20}, models.ActionShort, 0.68},
		{[]float64{55}, models.ActionHold, 0.55},
		{[]float64{100}, models.ActionLong, 0.75},
		{[]float64{-5, -10}, models.ActionShort, 0.75},
		{[]float64{150, 1}, models.ActionLong, 0.75},
		{nil, models.ActionHold, 0.55},
	}
	for _, c := range cases {
		sig, err := p.Predict(context.Background(), c.features)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if sig.Action != c.action || math.Abs(sig.Confidence-c.conf) > 1e-9 {
			t.Errorf("features %v: got %+v", c.features, sig)
		}
	}
}

func TestLearnedPredictorNotLoaded(t *testing.T) {
	p := NewLearnedPredictor(&fakeRuntime{})
	if p.Ready() {
		t.Fatalf("should not be ready")
	}
	_, err := p.Predict(context.Background(), make([]float64, 10))
	var pf *PredictionFailure
	if !errors.As(err, &pf) || pf.Reason != ReasonNotLoaded || !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLearnedPredictorShapeAndInference(t *testing.T) {
	rt := &fakeRuntime{loaded: true, probs: []float32{0.1, 0.2, 0.7}}
	p := NewLearnedPredictor(rt)

	_, err := p.Predict(context.Background(), []float64{1, 2, 3})
	var pf *PredictionFailure
	if !errors.As(err, &pf) || pf.Reason != ReasonShape {
		t.Fatalf("expected shape failure, got %v", err)
	}

	sig, err := p.Predict(context.Background(), make([]float64, 10))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if sig.Action != models.ActionShort || math.Abs(sig.Confidence-0.7) > 1e-6 {
		t.Fatalf("unexpected signal %+v", sig)
	}

	rt.err = errors.New("session crashed")
	_, err = p.Predict(context.Background(), make([]float64, 10))
	if !errors.As(err, &pf) || pf.Reason != ReasonInference {
		t.Fatalf("expected inference failure, got %v", err)
	}

	rt.err = nil
	rt.probs = []float32{0.5}
	_, err = p.Predict(context.Background(), make([]float64, 10))
	if !errors.As(err, &pf) || pf.Reason != ReasonBadOutputs {
		t.Fatalf("expected output failure, got %v", err)
	}
}

func candles(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		p := 100 + 5*math.Sin(float64(i)/7)
		out[i] = models.Candle{Bucket: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 50}
	}
	return out
}

func TestRunEpisodeAndScore(t *testing.T) {
	env, err := simulation.NewMarketEnv(candles(60))
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	step := 0
	actor := ActorFunc(func(simulation.Observation) (simulation.Action, error) {
		step++
		if step%2 == 1 {
			return simulation.Long, nil
		}
		return simulation.Hold, nil
	})
	ep, err := RunEpisode(context.Background(), env, actor)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ep.Rewards) != 39 {
		t.Fatalf("rewards = %d", len(ep.Rewards))
	}
	m := Score(ep)
	if m.TotalTrades != 19 {
		t.Fatalf("trades = %d", m.TotalTrades)
	}
	if m.WinRate < 0 || m.WinRate > 1 || m.MaxDrawdown < 0 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestRunEpisodeHonoursContext(t *testing.T) {
	env, _ := simulation.NewMarketEnv(candles(60))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hold := ActorFunc(func(simulation.Observation) (simulation.Action, error) { return simulation.Hold, nil })
	if _, err := RunEpisode(ctx, env, hold); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScoreKnownRewards(t *testing.T) {
	m := Score(Episode{Rewards: []float64{1, -1, 1, 1}})
	if m.WinRate != 0.75 {
		t.Fatalf("win rate = %v", m.WinRate)
	}
	// cum 1,0,1,2: drawdown peaks at (1-0)/1
	if math.Abs(m.MaxDrawdown-1) > 1e-6 {
		t.Fatalf("max drawdown = %v", m.MaxDrawdown)
	}
	// mean 0.5, population std sqrt(0.75)
	want := 0.5 / math.Sqrt(0.75) * math.Sqrt(252)
	if math.Abs(m.Sharpe-want) > 1e-6 {
		t.Fatalf("sharpe = %v want %v", m.Sharpe, want)
	}
}

func TestScoreConstantRewards(t *testing.T) {
	m := Score(Episode{Rewards: []float64{0.5, 0.5, 0.5}})
	if math.IsNaN(m.Sharpe) || math.IsInf(m.Sharpe, 0) {
		t.Fatalf("sharpe = %v", m.Sharpe)
	}
	if m.Sharpe <= 0 {
		t.Errorf("sharpe = %v, want positive", m.Sharpe)
	}
	if m.MaxDrawdown != 0 {
		t.Errorf("max drawdown = %v", m.MaxDrawdown)
	}
	if got := (Episode{Rewards: []float64{0.5, 0.5, 0.5}}).TotalReward(); got != 1.5 {
		t.Errorf("total reward = %v", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		curve []float64
		want  float64
	}{
		{[]float64{1, 2, 3}, 0},
		{[]float64{2, 1, 4, 3}, 0.5},
		{[]float64{4, 1, 2}, 0.75},
	}
	for _, tt := range tests {
		if got := maxDrawdown(tt.curve); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("maxDrawdown(%v) = %v, want %v", tt.curve, got, tt.want)
		}
	}
}

func TestValidateMessages(t *testing.T) {
	th := DefaultThresholds()
	v := Validate(models.EvalMetrics{Sharpe: 1.5, WinRate: 0.6, MaxDrawdown: 0.1, TotalTrades: 25}, th)
	if !v.IsValid || v.Message != "Model passed all 4 validation checks" {
		t.Fatalf("unexpected validation %+v", v)
	}
	v = Validate(models.EvalMetrics{Sharpe: 0.5, WinRate: 0.6, MaxDrawdown: 0.3, TotalTrades: 5}, th)
	if v.IsValid || v.Message != "Model failed 3 of 4 checks" {
		t.Fatalf("unexpected validation %+v", v)
	}
	if v.PassedChecks[0] != "Win Rate: 60.0% >= 52%" {
		t.Fatalf("passed check = %q", v.PassedChecks[0])
	}
	if !strings.HasSuffix(v.FailedChecks[2], "(low statistical significance)") {
		t.Fatalf("failed check = %q", v.FailedChecks[2])
	}
}

func newTestTrainer(t *testing.T, handler http.HandlerFunc, rt Runtime) (*HTTPTrainer, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	tr := NewHTTPTrainer(NewHTTPServiceBase(srv.URL, time.Second), rt, TrainerConfig{
		ModelDir:   dir,
		MinRows:    100,
		Retries:    1,
		Env:        simulation.DefaultConfig(),
		Thresholds: DefaultThresholds(),
	})
	tr.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC) }
	return tr, dir
}

func TestTrainRejectsShortHistory(t *testing.T) {
	tr, _ := newTestTrainer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("policy service must not be called")
	}, &fakeRuntime{})
	res, err := tr.Train(context.Background(), candles(50), "BTCUSDT", 1000, 0.0003)
	if !errors.Is(err, simulation.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if res.Success || res.Error != "Insufficient data: 50 rows (need 100+)" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTrainEvaluatesExportedModel(t *testing.T) {
	var got trainRequest
	rt := &fakeRuntime{probs: []float32{0.9, 0.05, 0.05}}
	tr, dir := newTestTrainer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy/train" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(trainResponse{Success: true})
	}, rt)

	res, err := tr.Train(context.Background(), candles(150), "BTCUSDT", 2000, 0.001)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if got.TotalTimesteps != 2000 || got.LearningRate != 0.001 || len(got.Candles) != 150 {
		t.Fatalf("unexpected request %+v", got)
	}
	wantPath := filepath.Join(dir, "ppo-btcusdt-202405060708.onnx")
	if len(rt.loads) != 1 || rt.loads[0] != wantPath {
		t.Fatalf("loads = %v", rt.loads)
	}
	if !res.Success || res.ModelID != "ppo-btcusdt-202405060708" {
		t.Fatalf("unexpected result %+v", res)
	}
	// an always-hold policy never trades
	if res.Metrics.TotalTrades != 0 || res.IsProductionReady {
		t.Fatalf("unexpected metrics %+v", res.Metrics)
	}
	if res.Message != "Training completed: 2000 timesteps. Validation: FAILED" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestTrainSurfacesServiceFailure(t *testing.T) {
	tr, _ := newTestTrainer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(trainResponse{Success: false, Error: "cuda out of memory"})
	}, &fakeRuntime{})
	res, err := tr.Train(context.Background(), candles(120), "ETHUSDT", 100, 0)
	if err == nil || !strings.Contains(err.Error(), "cuda out of memory") || res.Success {
		t.Fatalf("expected failure, got %v %+v", err, res)
	}
}

func TestUpdateRequiresModel(t *testing.T) {
	tr, _ := newTestTrainer(t, func(w http.ResponseWriter, r *http.Request) {}, &fakeRuntime{})
	res, err := tr.Update(context.Background(), candles(120), "BTCUSDT")
	if !errors.Is(err, ErrModelNotLoaded) || res.Error != "No model loaded" {
		t.Fatalf("unexpected %v %+v", err, res)
	}
}

func TestLoadLatestPicksNewestFile(t *testing.T) {
	rt := &fakeRuntime{}
	tr, dir := newTestTrainer(t, func(w http.ResponseWriter, r *http.Request) {}, rt)
	if ok, err := tr.LoadLatest(); ok || err != nil {
		t.Fatalf("empty dir: %v %v", ok, err)
	}
	old := filepath.Join(dir, "ppo-a-1.onnx")
	newer := filepath.Join(dir, "ppo-b-2.onnx")
	for _, p := range []string{old, newer} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	_ = os.Chtimes(old, past, past)
	ok, err := tr.LoadLatest()
	if !ok || err != nil {
		t.Fatalf("load latest: %v %v", ok, err)
	}
	if rt.path != newer || tr.ModelID() != "ppo-b-2" {
		t.Fatalf("loaded %s (%s)", rt.path, tr.ModelID())
	}
}
