package models

import "time"

// TrainingStatus is the lifecycle state of the training job.
type TrainingStatus string

const (
	TrainingIdle      TrainingStatus = "idle"
	TrainingRunning   TrainingStatus = "training"
	TrainingCompleted TrainingStatus = "completed"
	TrainingStopped   TrainingStatus = "stopped"
	TrainingFailed    TrainingStatus = "failed"
)

// Params are the policy hyperparameters.
type Params struct {
	LearningRate   float64 `json:"learning_rate"`
	Gamma          float64 `json:"gamma"`
	BatchSize      int     `json:"batch_size"`
	TotalTimesteps int     `json:"total_timesteps"`
	Algorithm      string  `json:"algorithm"`
}

// DefaultParams returns the PPO defaults.
func DefaultParams() Params {
	return Params{
		LearningRate:   0.0003,
		Gamma:          0.99,
		BatchSize:      64,
		TotalTimesteps: 100000,
		Algorithm:      "PPO",
	}
}

// ParamsUpdate is the body of PUT /params; nil fields are left unchanged.
type ParamsUpdate struct {
	LearningRate   *float64 `json:"learning_rate,omitempty" validate:"omitempty,gt=0,lt=1"`
	Gamma          *float64 `json:"gamma,omitempty" validate:"omitempty,gt=0,lte=1"`
	BatchSize      *int     `json:"batch_size,omitempty" validate:"omitempty,gte=1"`
	TotalTimesteps *int     `json:"total_timesteps,omitempty" validate:"omitempty,gte=1"`
	Algorithm      *string  `json:"algorithm,omitempty" validate:"omitempty,min=1"`
}

// Apply merges the non-nil fields into p.
func (u ParamsUpdate) Apply(p Params) Params {
	if u.LearningRate != nil {
		p.LearningRate = *u.LearningRate
	}
	if u.Gamma != nil {
		p.Gamma = *u.Gamma
	}
	if u.BatchSize != nil {
		p.BatchSize = *u.BatchSize
	}
	if u.TotalTimesteps != nil {
		p.TotalTimesteps = *u.TotalTimesteps
	}
	if u.Algorithm != nil {
		p.Algorithm = *u.Algorithm
	}
	return p
}

// PerformanceMetrics summarizes the live model for GET /metrics.
type PerformanceMetrics struct {
	SharpeRatio    float64        `json:"sharpeRatio"`
	WinRate        float64        `json:"winRate"`
	MaxDrawdown    float64        `json:"maxDrawdown"`
	TotalReturn    float64        `json:"totalReturn"`
	TrainingStatus TrainingStatus `json:"trainingStatus"`
}

// DefaultPerformance returns the baseline figures reported before any
// model has been evaluated.
func DefaultPerformance() PerformanceMetrics {
	return PerformanceMetrics{
		SharpeRatio:    1.35,
		WinRate:        0.62,
		MaxDrawdown:    0.10,
		TotalReturn:    0.38,
		TrainingStatus: TrainingIdle,
	}
}

// EvalMetrics are computed from one deterministic evaluation episode.
type EvalMetrics struct {
	WinRate     float64 `json:"win_rate"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TotalTrades int     `json:"total_trades"`
	TotalPnL    float64 `json:"total_pnl"`
}

// Thresholds are the minimum quality bar for a production model.
type Thresholds struct {
	MinSharpe      float64 `json:"min_sharpe_ratio"`
	MinWinRate     float64 `json:"min_win_rate"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MinTotalTrades int     `json:"min_total_trades"`
}

// Validation is the outcome of checking EvalMetrics against Thresholds.
type Validation struct {
	IsValid      bool       `json:"is_valid"`
	PassedChecks []string   `json:"passed_checks"`
	FailedChecks []string   `json:"failed_checks"`
	Message      string     `json:"message"`
	Thresholds   Thresholds `json:"thresholds"`
}

// TrainResult is returned by a training or update run.
type TrainResult struct {
	JobID             string       `json:"job_id,omitempty"`
	Symbol            string       `json:"symbol,omitempty"`
	Success           bool         `json:"success"`
	ModelID           string       `json:"model_id,omitempty"`
	Metrics           *EvalMetrics `json:"metrics,omitempty"`
	Validation        *Validation  `json:"validation,omitempty"`
	IsProductionReady bool         `json:"is_production_ready"`
	Message           string       `json:"message,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// TrainingJob is the persisted record of one training request.
type TrainingJob struct {
	ID             string         `json:"id"`
	Symbols        []string       `json:"symbols"`
	Timesteps      int            `json:"timesteps"`
	Algorithm      string         `json:"algorithm"`
	LearningRate   float64        `json:"learning_rate"`
	Status         TrainingStatus `json:"status"`
	Progress       float64        `json:"progress"`
	CurrentEpisode int            `json:"current_episode"`
	TotalEpisodes  int            `json:"total_episodes"`
	Results        []TrainResult  `json:"results,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StateSnapshot is the persisted form of the service state.
type StateSnapshot struct {
	ModelVersion string             `json:"model_version"`
	ModelID      string             `json:"model_id,omitempty"`
	JobID        string             `json:"job_id,omitempty"`
	Params       Params             `json:"params"`
	Performance  PerformanceMetrics `json:"performance"`
}

// TrainRequest is the body of POST /train.
type TrainRequest struct {
	Symbols      []string `json:"symbols" validate:"omitempty,dive,required"`
	Timesteps    int      `json:"timesteps" validate:"gte=0"`
	Algorithm    string   `json:"algorithm"`
	LearningRate float64  `json:"learningRate" validate:"gte=0,lt=1"`
}

// TrainResponse is returned by POST /train.
type TrainResponse struct {
	JobID string `json:"jobId"`
}

// StopRequest is the body of POST /stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// StopResponse is returned by POST /stop.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TrainingStatusResponse is returned by GET /training/status and pushed
// over the training websocket.
type TrainingStatusResponse struct {
	JobID          string         `json:"jobId,omitempty"`
	Status         TrainingStatus `json:"status"`
	Progress       float64        `json:"progress"`
	CurrentEpisode int            `json:"currentEpisode"`
	TotalEpisodes  int            `json:"totalEpisodes"`
}

// TrainJobMessage is the Kafka payload that triggers a training run.
type TrainJobMessage struct {
	JobID        string   `json:"job_id"`
	Symbols      []string `json:"symbols"`
	Timesteps    int      `json:"timesteps"`
	LearningRate float64  `json:"learning_rate"`
	Algorithm    string   `json:"algorithm"`
}
