package repository

import (
	"context"
	"errors"
	"time"

	"RLSignal/internal/domain/models"
)

// ErrNotFound is returned by stores when the requested record is absent.
var ErrNotFound = errors.New("not found")

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
)

// CandleStore provides read-only access to historical candles used for
// training and evaluation.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// DecisionPublisher fans decisions and training results out to consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, ev models.DecisionEvent) error
	PublishTrainResult(ctx context.Context, res models.TrainResult) error
	Close() error
}

// TrainingDispatcher hands a training job to whichever worker consumes
// the training topic.
type TrainingDispatcher interface {
	DispatchTraining(ctx context.Context, msg models.TrainJobMessage) error
}

// DecisionLog is an append-only audit of served decisions.
type DecisionLog interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, ev models.DecisionEvent) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error)
	Close() error
}

// JobStore persists training jobs and the service state snapshot. The
// training lock keeps replicas sharing a store from training at once; it
// is held by a job ID and only that job may release it.
type JobStore interface {
	SaveJob(ctx context.Context, job models.TrainingJob) error
	GetJob(ctx context.Context, id string) (models.TrainingJob, error)
	SaveState(ctx context.Context, st models.StateSnapshot) error
	LoadState(ctx context.Context) (models.StateSnapshot, bool, error)
	AcquireTrainingLock(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	TrainingLockHolder(ctx context.Context) (string, bool, error)
	ReleaseTrainingLock(ctx context.Context, jobID string) (bool, error)
}

// Metrics records service-level observations.
type Metrics interface {
	RecordDecision(action, source string, confidence float64)
	RecordOverride(reason string)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordEpisode(totalReward float64)
	RecordTraining(outcome string)
	RecordLatency(op string, seconds float64)
}
