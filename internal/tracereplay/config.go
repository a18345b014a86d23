package tracereplay

import (
	"fmt"
	"time"
)

// Mode selects how the reducer delivers notifications during a replay.
type Mode string

// Delivery modes.
const (
	ModeImmediate Mode = "immediate"
	ModeQueued    Mode = "queued"
)

// Config holds configuration for a trace replay
type Config struct {
	Gestures        int     // Number of synthetic gestures to generate
	MovesPerGesture int     // Moves between start and end of each gesture
	Concurrent      int     // Contacts allowed down at the same time
	Mode            Mode    // Reducer delivery mode
	Coalesced       bool    // Attach coalesced sub-samples to moves
	Predicted       bool    // Attach predicted sub-samples to moves
	ZeroDeltaRate   float64 // Share of moves followed by a same-timestamp move
	CancelRate      float64 // Share of gestures that end in a cancel
	MaxQueueSize    int     // Reducer queue capacity in queued mode
	TargetFPS       int     // Frame rate of the simulated display
	Seed            uint64  // Generator seed; equal seeds give equal traces
	InputFile       string  // Replay this saved trace instead of generating one
	OutputFile      string  // Output file for the trace
	LogFile         string  // Log file for replay output
	Verbose         bool    // Enable verbose logging
}

// DefaultConfig returns the configuration used by the CLI when no flags are given.
func DefaultConfig() *Config {
	return &Config{
		Gestures:        DefaultGestures,
		MovesPerGesture: DefaultMovesPerGesture,
		Concurrent:      DefaultConcurrent,
		Mode:            ModeImmediate,
		Coalesced:       true,
		Predicted:       true,
		ZeroDeltaRate:   DefaultZeroDeltaRate,
		CancelRate:      DefaultCancelRate,
		MaxQueueSize:    DefaultMaxQueueSize,
		TargetFPS:       DefaultTargetFPS,
		Seed:            DefaultSeed,
	}
}

// Validate reports the first unusable setting. A replay from InputFile does
// not need generator settings.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeImmediate, ModeQueued:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("%w: max queue size must be positive", ErrInvalidConfig)
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("%w: target fps must be positive", ErrInvalidConfig)
	}
	if c.InputFile != "" {
		return nil
	}
	if c.Gestures <= 0 {
		return fmt.Errorf("%w: gestures must be positive", ErrInvalidConfig)
	}
	if c.MovesPerGesture < 0 {
		return fmt.Errorf("%w: moves per gesture must not be negative", ErrInvalidConfig)
	}
	if c.Concurrent <= 0 {
		return fmt.Errorf("%w: concurrent contacts must be positive", ErrInvalidConfig)
	}
	if c.ZeroDeltaRate < 0 || c.ZeroDeltaRate > 1 {
		return fmt.Errorf("%w: zero delta rate must be in [0,1]", ErrInvalidConfig)
	}
	if c.CancelRate < 0 || c.CancelRate > 1 {
		return fmt.Errorf("%w: cancel rate must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// SubSample is a coalesced or predicted sample stored in a trace.
type SubSample struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	OffsetUs int64   `json:"offset_us"`
}

// TraceEvent is one dispatched input event. Offsets are microseconds from
// the start of the trace.
type TraceEvent struct {
	GestureID string      `json:"gesture_id"`
	PointerID int         `json:"pointer_id"`
	Kind      string      `json:"kind"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	OffsetUs  int64       `json:"offset_us"`
	Coalesced []SubSample `json:"coalesced,omitempty"`
	Predicted []SubSample `json:"predicted,omitempty"`
}

// Trace is a replayable sequence of input events.
type Trace struct {
	ID       string       `json:"id"`
	Seed     uint64       `json:"seed"`
	Gestures int          `json:"gestures"`
	Events   []TraceEvent `json:"events"`
}

// Stats holds replay statistics
type Stats struct {
	GesturesGenerated   int
	EventsGenerated     int
	EventsReplayed      int
	Notifications       int
	Frames              uint64
	DroppedFrames       uint64
	SamplerRuns         uint64
	EventsProcessed     uint64
	CoalescedEventsUsed uint64
	PredictedEventsUsed uint64
	EventsQueued        uint64
	EventsEvicted       uint64
	EventsExpired       uint64
	MaxQueueLength      int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
