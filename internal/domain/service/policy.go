package service

import (
	"context"

	"RLSignal/internal/domain/models"
)

// Predictor produces the base directional signal for a feature vector.
type Predictor interface {
	Name() string
	Ready() bool
	Predict(ctx context.Context, features []float64) (models.BaseSignal, error)
}

// PolicyTrainer trains and refreshes the learned policy.
type PolicyTrainer interface {
	Train(ctx context.Context, candles []models.Candle, symbol string, timesteps int, learningRate float64) (models.TrainResult, error)
	Update(ctx context.Context, candles []models.Candle, symbol string) (models.TrainResult, error)
	IsModelLoaded() bool
	// LoadLatest loads the newest exported policy; false means none exists.
	LoadLatest() (bool, error)
	ModelID() string
}
