package tracereplay

import "time"

// Default configuration constants.
const (
	DefaultGestures        = 200
	DefaultMovesPerGesture = 40
	DefaultConcurrent      = 3
	DefaultZeroDeltaRate   = 0.05
	DefaultCancelRate      = 0.1
	DefaultMaxQueueSize    = 64
	DefaultTargetFPS       = 60
	DefaultSeed            = 1
)

// Gesture shape constants.
const (
	minMoveInterval  = 4 * time.Millisecond
	maxMoveInterval  = 12 * time.Millisecond
	minSpeed         = 200.0  // px/s
	maxSpeed         = 2500.0 // px/s
	surfaceSize      = 1000.0 // px
	turnRadians      = 0.3    // max heading change per move
	coalescedPerMove = 2
	predictedAhead   = 8 * time.Millisecond
	zeroDeltaJitter  = 0.5 // px
)

// Runner constants.
const (
	SamplerTask          = "trace-sampler"
	PercentageMultiplier = 100
)
