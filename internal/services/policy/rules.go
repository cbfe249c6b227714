package policy

import (
	"context"
	"math"

	"RLSignal/internal/domain/models"
	domsvc "RLSignal/internal/domain/service"
)

const (
	ruleThreshold  = 0.2
	ruleBaseConf   = 0.5
	ruleConfScale  = 0.3
	ruleMaxConf    = 0.75
	ruleHoldConf   = 0.55
	ruleSourceName = "rules"
)

// RuleBasedPredictor derives a base signal directly from the request
// features. It is always ready.
type RuleBasedPredictor struct{}

func NewRuleBasedPredictor() *RuleBasedPredictor { return &RuleBasedPredictor{} }

func (RuleBasedPredictor) Name() string { return ruleSourceName }

func (RuleBasedPredictor) Ready() bool { return true }

// Predict treats a first feature in [0,100] as an oscillator centred on 50;
// otherwise the sign of the feature sum drives the bias.
func (RuleBasedPredictor) Predict(_ context.Context, features []float64) (models.BaseSignal, error) {
	bias := FeatureBias(features)
	switch {
	case bias > ruleThreshold:
		return models.BaseSignal{Action: models.ActionLong, Confidence: ruleConfidence(bias)}, nil
	case bias < -ruleThreshold:
		return models.BaseSignal{Action: models.ActionShort, Confidence: ruleConfidence(bias)}, nil
	default:
		return models.BaseSignal{Action: models.ActionHold, Confidence: ruleHoldConf}, nil
	}
}

// FeatureBias maps the feature vector onto [-1, 1].
func FeatureBias(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	if f0 := features[0]; f0 >= 0 && f0 <= 100 {
		return (f0 - 50) / 50
	}
	sum := 0.0
	for _, f := range features {
		sum += f
	}
	return sum / math.Max(math.Abs(sum), 1)
}

func ruleConfidence(bias float64) float64 {
	return math.Min(ruleBaseConf+math.Abs(bias)*ruleConfScale, ruleMaxConf)
}

var _ domsvc.Predictor = (*RuleBasedPredictor)(nil)
