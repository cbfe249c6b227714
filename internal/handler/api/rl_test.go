package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/service/ratelimit"
	"RLSignal/internal/services/policy"
	"RLSignal/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type stubTrainer struct{ release chan struct{} }

func (s *stubTrainer) Train(ctx context.Context, _ []models.Candle, symbol string, _ int, _ float64) (models.TrainResult, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return models.TrainResult{}, ctx.Err()
	}
	return models.TrainResult{Success: true, ModelID: "ppo_" + symbol}, nil
}

func (s *stubTrainer) Update(context.Context, []models.Candle, string) (models.TrainResult, error) {
	return models.TrainResult{}, nil
}

func (s *stubTrainer) IsModelLoaded() bool { return false }

func (s *stubTrainer) LoadLatest() (bool, error) { return false, nil }

func (s *stubTrainer) ModelID() string { return "" }

type stubCandles struct{}

func (stubCandles) GetCandles(context.Context, string, time.Time, time.Time, domrepo.Timeframe) ([]models.Candle, error) {
	return nil, nil
}

func (stubCandles) GetLatestNCandles(context.Context, string, int, domrepo.Timeframe) ([]models.Candle, error) {
	return make([]models.Candle, 150), nil
}

type testServer struct {
	e       *echo.Echo
	state   *usecase.ServiceState
	trainer *stubTrainer
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	state := usecase.NewServiceState("v1.1.0-smc", nil, nil)
	trainer := &stubTrainer{release: make(chan struct{})}
	t.Cleanup(func() { close(trainer.release) })

	decisions := usecase.NewDecisionUseCase(nil, policy.NewRuleBasedPredictor(), state, usecase.NewJitter(0, 1), nil, nil, nil, nil)
	training := usecase.NewTrainingUseCase(state, trainer, stubCandles{}, nil, nil, nil, nil, nil, usecase.TrainingConfig{})
	simulate := usecase.NewSimulateUseCase(nil, nil, nil)

	e := echo.New()
	h := NewRLHandler(nil, state, decisions, training, simulate, limiter, NewTrainingStream(state, nil, nil))
	h.RegisterRoutes(e)
	return &testServer{e: e, state: state, trainer: trainer}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndRoot(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health", "")
	var health struct {
		Status   string   `json:"status"`
		Features []string `json:"features"`
	}
	decode(t, rec, &health)
	if rec.Code != http.StatusOK || health.Status != "ok" || len(health.Features) != 4 {
		t.Fatalf("health %d %+v", rec.Code, health)
	}

	rec = s.do(t, http.MethodGet, "/", "")
	var root map[string]interface{}
	decode(t, rec, &root)
	if root["service"] != "RL Trading Service" || root["version"] != "1.1.0" || root["model_version"] != "v1.1.0-smc" || root["status"] != "idle" {
		t.Fatalf("root %+v", root)
	}
}

func TestPredict(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/predict", `{"symbol":"BTC-USD","features":[80,0,0,0,0,0,2],"currentPrice":100}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.PredictResponse
	decode(t, rec, &resp)
	if resp.Action != models.ActionLong || resp.Confidence != 0.68 || resp.ModelVersion != "v1.1.0-smc" {
		t.Fatalf("response %+v", resp)
	}
	if resp.Entry != nil || resp.StopLoss != nil || resp.TakeProfit != nil {
		t.Fatalf("levels without smc %+v", resp)
	}
	if resp.SMCAnalysis != "No SMC data" || resp.VolumeAnalysis != "No volume data" {
		t.Errorf("analysis %q / %q", resp.SMCAnalysis, resp.VolumeAnalysis)
	}

	rec = s.do(t, http.MethodPost, "/predict", `{"symbol":"BTC-USD","features":[80,0,0,0,0,0,2],"currentPrice":100,"smc":{"orderBlocks":[{"type":"sideways","high":99,"low":98,"strength":-1}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("loose smc payload status %d: %s", rec.Code, rec.Body.String())
	}
	resp = models.PredictResponse{}
	decode(t, rec, &resp)
	if resp.Entry == nil || *resp.Entry != 100 || resp.StopLoss == nil || *resp.StopLoss != 97 {
		t.Fatalf("levels %+v", resp)
	}

	rec = s.do(t, http.MethodPost, "/predict", `{"symbol":"BTC-USD","features":[50]}`)
	var hold map[string]interface{}
	decode(t, rec, &hold)
	if hold["action"] != "HOLD" {
		t.Fatalf("hold %+v", hold)
	}
	if _, ok := hold["entry"]; ok {
		t.Error("hold response carries levels")
	}
}

func TestPredictValidation(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/predict", `{"symbol":"BTC-USD","features":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "features") {
		t.Errorf("error does not name the field: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/predict", `{"features":[1],"methodology":"Elliott"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("free-form methodology status %d", rec.Code)
	}
}

func TestPredictRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimit.New(0.001, 1))
	body := `{"features":[80]}`
	if rec := s.do(t, http.MethodPost, "/predict", body); rec.Code != http.StatusOK {
		t.Fatalf("first request %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/predict", body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request %d", rec.Code)
	}
}

func TestParams(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPut, "/params", `{"learning_rate":0.001,"batch_size":128}`)
	var resp struct {
		Success bool          `json:"success"`
		Params  models.Params `json:"params"`
	}
	decode(t, rec, &resp)
	if !resp.Success || resp.Params.LearningRate != 0.001 || resp.Params.BatchSize != 128 || resp.Params.Gamma != 0.99 {
		t.Fatalf("update %+v", resp)
	}

	rec = s.do(t, http.MethodGet, "/params", "")
	var p models.Params
	decode(t, rec, &p)
	if p.BatchSize != 128 {
		t.Fatalf("params %+v", p)
	}

	if rec := s.do(t, http.MethodPut, "/params", `{"gamma":1.5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid gamma status %d", rec.Code)
	}
}

func TestTrainLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/stop", "")
	if !strings.Contains(rec.Body.String(), "No training in progress") {
		t.Fatalf("idle stop %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/train", `{"symbols":["ETH-USD"],"timesteps":2000}`)
	var started models.TrainResponse
	decode(t, rec, &started)
	if rec.Code != http.StatusOK || started.JobID == "" {
		t.Fatalf("train %d %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodPost, "/train", ""); rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "Training already in progress") {
		t.Fatalf("conflict %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/training/status", "")
	var st models.TrainingStatusResponse
	decode(t, rec, &st)
	if st.Status != models.TrainingRunning || st.TotalEpisodes != 2000 {
		t.Fatalf("status %+v", st)
	}

	rec = s.do(t, http.MethodGet, "/metrics", "")
	var perf models.PerformanceMetrics
	decode(t, rec, &perf)
	if perf.TrainingStatus != models.TrainingRunning {
		t.Fatalf("metrics %+v", perf)
	}

	rec = s.do(t, http.MethodPost, "/stop", `{"reason":"test"}`)
	var stop models.StopResponse
	decode(t, rec, &stop)
	if !stop.Success || stop.Message != "Training stopped" {
		t.Fatalf("stop %+v", stop)
	}
}

func TestTrainingJobNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(t, http.MethodGet, "/training/jobs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestUpdateWithoutModel(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(t, http.MethodPost, "/train/update", `{"symbol":"BTC-USD"}`); rec.Code != http.StatusConflict {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}
}

func TestSimulate(t *testing.T) {
	s := newTestServer(t, nil)

	var b strings.Builder
	b.WriteString(`{"lookback":3,"actions":[1,1,0],"candles":[`)
	for i := 0; i < 10; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		c := 100 + float64(i)
		fmt.Fprintf(&b, `{"open":%g,"high":%g,"low":%g,"close":%g,"volume":10}`, c, c+1, c-1, c)
	}
	b.WriteString(`]}`)

	rec := s.do(t, http.MethodPost, "/simulate", b.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data models.SimulateResponse `json:"data"`
	}
	decode(t, rec, &env)
	if len(env.Data.Steps) != 3 || env.Data.Final.Trades != 1 {
		t.Fatalf("simulate %+v", env.Data)
	}

	if rec := s.do(t, http.MethodPost, "/simulate", `{"actions":[3],"candles":[{"close":1},{"close":2},{"close":3}]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid action status %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/simulate", `{"candles":[{"close":1},{"close":2},{"close":3}]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("short series status %d", rec.Code)
	}
}

func TestDecisionsWithoutLog(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/decisions?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("decisions %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/decisions?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", rec.Code)
	}
}

func TestTrainingStream(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/training", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first statusFrame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if first.Type != "training_status" || first.Status != models.TrainingIdle {
		t.Fatalf("first frame %+v", first)
	}

	if rec := s.do(t, http.MethodPost, "/train", ""); rec.Code != http.StatusOK {
		t.Fatalf("train %d", rec.Code)
	}
	var next statusFrame
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if next.Status != models.TrainingRunning || next.JobID == "" {
		t.Fatalf("next frame %+v", next)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws/training", nil)
	if !check(r) {
		t.Error("request without origin rejected")
	}
	r.Header.Set("Origin", "https://evil.example.com")
	if check(r) {
		t.Error("foreign origin accepted")
	}
	r.Header.Set("Origin", "https://app.example.com")
	if !check(r) {
		t.Error("allowed origin rejected")
	}
}
