package scheduler

import "errors"

// Sentinel kinds for scheduler errors.
var (
	ErrTaskPanicked = errors.New("task panicked")
)
