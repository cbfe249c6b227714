package policy

import (
	"context"
	"fmt"
	"math"

	"RLSignal/internal/domain/models"
	domsvc "RLSignal/internal/domain/service"
	"RLSignal/internal/services/simulation"
)

const learnedSourceName = "ppo"

// LearnedPredictor turns policy network probabilities into a base signal.
type LearnedPredictor struct {
	rt Runtime
}

func NewLearnedPredictor(rt Runtime) *LearnedPredictor {
	return &LearnedPredictor{rt: rt}
}

func (p *LearnedPredictor) Name() string { return learnedSourceName }

// Ready reports whether a model is loaded.
func (p *LearnedPredictor) Ready() bool { return p.rt != nil && p.rt.Loaded() }

// Predict expects the features to be an environment observation. Every
// failure is a *PredictionFailure.
func (p *LearnedPredictor) Predict(_ context.Context, features []float64) (models.BaseSignal, error) {
	if !p.Ready() {
		return models.BaseSignal{}, fail(ReasonNotLoaded, ErrModelNotLoaded)
	}
	if len(features) != simulation.ObservationSize {
		return models.BaseSignal{}, fail(ReasonShape,
			fmt.Errorf("%w: got %d values, want %d", ErrObservationShape, len(features), simulation.ObservationSize))
	}
	obs := make([]float32, len(features))
	for i, f := range features {
		obs[i] = float32(f)
	}
	idx, prob, err := p.act(obs)
	if err != nil {
		return models.BaseSignal{}, err
	}
	return models.BaseSignal{Action: models.ActionFromIndex(idx), Confidence: prob}, nil
}

// Act is the evaluation-loop form of Predict.
func (p *LearnedPredictor) Act(obs simulation.Observation) (simulation.Action, error) {
	idx, _, err := p.act(obs.Float32())
	return simulation.Action(idx), err
}

func (p *LearnedPredictor) act(obs []float32) (int, float64, error) {
	probs, err := p.rt.Infer(obs)
	if err != nil {
		return 0, 0, fail(ReasonInference, err)
	}
	idx, prob, err := argmax(probs)
	if err != nil {
		return 0, 0, fail(ReasonBadOutputs, err)
	}
	return idx, prob, nil
}

func argmax(probs []float32) (int, float64, error) {
	if len(probs) != NumActions {
		return 0, 0, fmt.Errorf("got %d outputs, want %d", len(probs), NumActions)
	}
	best := 0
	for i, v := range probs {
		if math.IsNaN(float64(v)) {
			return 0, 0, fmt.Errorf("output %d is NaN", i)
		}
		if v > probs[best] {
			best = i
		}
	}
	return best, float64(probs[best]), nil
}

var _ domsvc.Predictor = (*LearnedPredictor)(nil)
