package engine

import "errors"

var (
	// ErrEngineNotReady is returned by Generate before Load has succeeded
	ErrEngineNotReady = errors.New("generation engine not ready")

	// ErrGenerationTimeout is returned when the wall-clock limit passes and timeout fallback is off
	ErrGenerationTimeout = errors.New("schedule generation timed out")
)
