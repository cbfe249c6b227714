package simulation

import "errors"

var (
	// ErrInsufficientHistory is returned when a series is too short to warm
	// up indicators and run at least one step.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidSeries is returned for structurally invalid candles.
	ErrInvalidSeries = errors.New("invalid series")
	ErrInvalidAction = errors.New("invalid action")
	ErrEpisodeDone   = errors.New("episode terminated; call Reset")
)
