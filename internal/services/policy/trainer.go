package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"RLSignal/internal/domain/models"
	domsvc "RLSignal/internal/domain/service"
	"RLSignal/internal/services/simulation"
)

const updateTimesteps = 10000

// TrainerConfig configures HTTPTrainer.
type TrainerConfig struct {
	ModelDir   string
	MinRows    int
	Retries    int
	Env        simulation.Config
	Thresholds models.Thresholds
}

// HTTPTrainer delegates gradient training to the policy service, then
// loads the exported ONNX policy, evaluates it on a fresh MarketEnv
// episode and validates the result.
type HTTPTrainer struct {
	base *HTTPServiceBase
	rt   Runtime
	cfg  TrainerConfig
	now  func() time.Time

	mu      sync.Mutex // one training or update at a time
	modelID string
}

func NewHTTPTrainer(base *HTTPServiceBase, rt Runtime, cfg TrainerConfig) *HTTPTrainer {
	if cfg.MinRows <= 0 {
		cfg.MinRows = 100
	}
	return &HTTPTrainer{base: base, rt: rt, cfg: cfg, now: time.Now}
}

type trainRequest struct {
	Symbol         string            `json:"symbol"`
	Candles        []models.Candle   `json:"candles"`
	TotalTimesteps int               `json:"total_timesteps"`
	LearningRate   float64           `json:"learning_rate,omitempty"`
	OutputPath     string            `json:"output_path"`
	Env            simulation.Config `json:"env"`
	ResumeFrom     string            `json:"resume_from,omitempty"`
}

type trainResponse struct {
	Success   bool   `json:"success"`
	ModelPath string `json:"model_path"`
	Error     string `json:"error"`
}

// IsModelLoaded reports whether a policy is ready for inference.
func (t *HTTPTrainer) IsModelLoaded() bool { return t.rt.Loaded() }

// ModelID returns the identifier of the loaded policy.
func (t *HTTPTrainer) ModelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelID
}

// Train fits a new policy on candles. Too little history is a hard failure
// wrapping simulation.ErrInsufficientHistory.
func (t *HTTPTrainer) Train(ctx context.Context, candles []models.Candle, symbol string, timesteps int, learningRate float64) (models.TrainResult, error) {
	res := models.TrainResult{Symbol: symbol}
	if len(candles) < t.cfg.MinRows {
		err := fmt.Errorf("%w: %d rows (need %d+)", simulation.ErrInsufficientHistory, len(candles), t.cfg.MinRows)
		res.Error = fmt.Sprintf("Insufficient data: %d rows (need %d+)", len(candles), t.cfg.MinRows)
		return res, err
	}
	env, err := simulation.NewMarketEnv(candles, simulation.WithConfig(t.cfg.Env))
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("build env: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	modelID := fmt.Sprintf("ppo-%s-%s", strings.ToLower(symbol), t.now().Format("200601021504"))
	req := trainRequest{
		Symbol:         symbol,
		Candles:        candles,
		TotalTimesteps: timesteps,
		LearningRate:   learningRate,
		OutputPath:     filepath.Join(t.cfg.ModelDir, modelID+".onnx"),
		Env:            env.Config(),
	}
	path, err := t.fit(ctx, "/policy/train", req)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	if err := t.rt.Load(path); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("load trained model: %w", err)
	}
	t.modelID = modelID

	metrics, validation, err := t.evaluate(ctx, env)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}

	verdict := "FAILED"
	if validation.IsValid {
		verdict = "PASSED"
	}
	res.Success = true
	res.ModelID = modelID
	res.Metrics = &metrics
	res.Validation = &validation
	res.IsProductionReady = validation.IsValid
	res.Message = fmt.Sprintf("Training completed: %d timesteps. Validation: %s", timesteps, verdict)
	return res, nil
}

// Update continues training the loaded policy on fresh candles.
func (t *HTTPTrainer) Update(ctx context.Context, candles []models.Candle, symbol string) (models.TrainResult, error) {
	res := models.TrainResult{Symbol: symbol}
	if !t.rt.Loaded() {
		res.Error = "No model loaded"
		return res, ErrModelNotLoaded
	}
	env, err := simulation.NewMarketEnv(candles, simulation.WithConfig(t.cfg.Env))
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("build env: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.rt.ModelPath()
	path, err := t.fit(ctx, "/policy/update", trainRequest{
		Symbol:         symbol,
		Candles:        candles,
		TotalTimesteps: updateTimesteps,
		OutputPath:     current,
		ResumeFrom:     current,
		Env:            env.Config(),
	})
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	if err := t.rt.Load(path); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("reload model: %w", err)
	}
	res.Success = true
	res.ModelID = t.modelID
	res.Message = "Model updated"
	return res, nil
}

// LoadLatest loads the most recently modified .onnx file in the model dir.
// It returns false when the directory holds no model.
func (t *HTTPTrainer) LoadLatest() (bool, error) {
	matches, err := filepath.Glob(filepath.Join(t.cfg.ModelDir, "*.onnx"))
	if err != nil {
		return false, fmt.Errorf("glob models: %w", err)
	}
	var latest string
	var latestMod time.Time
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || fi.ModTime().After(latestMod) {
			latest, latestMod = m, fi.ModTime()
		}
	}
	if latest == "" {
		return false, nil
	}
	if err := t.rt.Load(latest); err != nil {
		return false, fmt.Errorf("load %s: %w", latest, err)
	}
	t.mu.Lock()
	t.modelID = strings.TrimSuffix(filepath.Base(latest), ".onnx")
	t.mu.Unlock()
	return true, nil
}

func (t *HTTPTrainer) fit(ctx context.Context, path string, req trainRequest) (string, error) {
	var resp trainResponse
	if err := t.base.PostJSONWithRetry(ctx, path, req, &resp, t.cfg.Retries); err != nil {
		return "", fmt.Errorf("policy service: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return "", errors.New("policy service: " + msg)
	}
	if resp.ModelPath == "" {
		return req.OutputPath, nil
	}
	return resp.ModelPath, nil
}

func (t *HTTPTrainer) evaluate(ctx context.Context, env *simulation.MarketEnv) (models.EvalMetrics, models.Validation, error) {
	ep, err := RunEpisode(ctx, env, NewLearnedPredictor(t.rt))
	if err != nil {
		return models.EvalMetrics{}, models.Validation{}, fmt.Errorf("evaluate: %w", err)
	}
	metrics := Score(ep)
	return metrics, Validate(metrics, t.cfg.Thresholds), nil
}

var _ domsvc.PolicyTrainer = (*HTTPTrainer)(nil)
