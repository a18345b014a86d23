package reducer

import (
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// Default reducer configuration.
const (
	DefaultMaxQueueSize         = 64
	DefaultEventDeadline        = 50 * time.Millisecond
	DefaultLatencySampleSize    = 100
	DefaultHighPriorityVelocity = 1000.0 // px/s
	DefaultFlushInterval        = 8 * time.Millisecond
)

// Option applies a configuration option to the Reducer.
type Option func(*Reducer)

// WithMaxQueueSize bounds the queued-mode buffer.
func WithMaxQueueSize(n int) Option {
	return func(r *Reducer) {
		if n > 0 {
			r.maxQueueSize = n
		}
	}
}

// WithEventDeadline sets how long a queued move stays deliverable.
func WithEventDeadline(d time.Duration) Option {
	return func(r *Reducer) {
		if d > 0 {
			r.eventDeadline = d
		}
	}
}

// WithImmediateFeedback selects immediate (true) or queued (false) dispatch.
func WithImmediateFeedback(enabled bool) Option {
	return func(r *Reducer) {
		r.immediate = enabled
	}
}

// WithCoalescedEvents toggles replay of coalesced sub-samples.
func WithCoalescedEvents(enabled bool) Option {
	return func(r *Reducer) {
		r.useCoalesced = enabled
	}
}

// WithPredictedEvents toggles use of platform-predicted sub-samples.
func WithPredictedEvents(enabled bool) Option {
	return func(r *Reducer) {
		r.usePredicted = enabled
	}
}

// WithLatencyMeasurement toggles input latency sampling.
func WithLatencyMeasurement(enabled bool) Option {
	return func(r *Reducer) {
		r.measureLatency = enabled
	}
}

// WithLatencySampleSize sets the latency window length.
func WithLatencySampleSize(n int) Option {
	return func(r *Reducer) {
		if n > 0 {
			r.latencySampleSize = n
		}
	}
}

// WithSmoothingFactor sets the weight of the previous velocity, in [0, 1].
func WithSmoothingFactor(f float64) Option {
	return func(r *Reducer) {
		if f >= 0 && f <= 1 {
			r.smoothing = f
		}
	}
}

// WithHighPriorityVelocity sets the speed in px/s above which a queued move is promoted.
func WithHighPriorityVelocity(v float64) Option {
	return func(r *Reducer) {
		if v > 0 {
			r.highPriorityVelocity = v
		}
	}
}

// WithFlushInterval sets the queued-mode flush timer period.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Reducer) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithClock sets the time source used for latency and deadlines.
func WithClock(clock func() time.Time) Option {
	return func(r *Reducer) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithLogger sets a custom logger for the reducer.
func WithLogger(l logger.Logger) Option {
	return func(r *Reducer) {
		if l != nil {
			r.logger = l
		}
	}
}
