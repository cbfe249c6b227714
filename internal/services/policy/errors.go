package policy

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotLoaded   = errors.New("no model loaded")
	ErrObservationShape = errors.New("observation has wrong shape")
)

// FailureReason classifies why learned inference could not produce a signal.
type FailureReason string

const (
	ReasonNotLoaded  FailureReason = "model_not_loaded"
	ReasonShape      FailureReason = "observation_shape"
	ReasonInference  FailureReason = "inference"
	ReasonBadOutputs FailureReason = "bad_outputs"
)

// PredictionFailure is returned by LearnedPredictor instead of a signal.
// Callers fall back to the rule predictor on any PredictionFailure.
type PredictionFailure struct {
	Reason FailureReason
	Err    error
}

func (f *PredictionFailure) Error() string {
	return fmt.Sprintf("learned prediction failed (%s): %v", f.Reason, f.Err)
}

func (f *PredictionFailure) Unwrap() error { return f.Err }

func fail(reason FailureReason, err error) error {
	return &PredictionFailure{Reason: reason, Err: err}
}
