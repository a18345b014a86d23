package scheduler

import (
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// Default scheduler configuration.
const (
	DefaultTargetFPS       = 60
	DefaultMinFPS          = 30
	MaxFPS                 = 120
	BatterySaverFPS        = 30
	DefaultMaxSkipFrames   = 5
	DefaultMaxOncePerFrame = 10
	DefaultSampleWindow    = 100
)

// Option applies a configuration option to the Scheduler. The same options
// are accepted by New and UpdateConfig.
type Option func(*Scheduler)

// WithTargetFPS sets the preferred frame rate.
func WithTargetFPS(fps int) Option {
	return func(s *Scheduler) {
		if fps > 0 {
			s.preferredFPS = fps
		}
	}
}

// WithMinFPS sets the lowest rate adaptive tuning may reach.
func WithMinFPS(fps int) Option {
	return func(s *Scheduler) {
		if fps > 0 {
			s.minFPS = fps
		}
	}
}

// WithFrameBudget fixes the per-frame work budget. Zero derives it from the target rate.
func WithFrameBudget(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.fixedBudget = d
		}
	}
}

// WithAdaptiveFrameRate toggles utilization-driven target rate tuning.
func WithAdaptiveFrameRate(enabled bool) Option {
	return func(s *Scheduler) {
		s.adaptive = enabled
	}
}

// WithEnabled toggles the scheduler. A disabled scheduler ignores Start.
func WithEnabled(enabled bool) Option {
	return func(s *Scheduler) {
		s.enabled = enabled
	}
}

// WithBatterySaver caps the effective rate at BatterySaverFPS.
func WithBatterySaver(enabled bool) Option {
	return func(s *Scheduler) {
		s.batterySaver = enabled
	}
}

// WithMaxOncePerFrame bounds how many RunOnce callbacks one frame processes.
func WithMaxOncePerFrame(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxOncePerFrame = n
		}
	}
}

// WithSampleWindow sets the frame-time window length.
func WithSampleWindow(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sampleWindow = n
		}
	}
}

// WithClock sets the time source used to measure task work.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRateListener registers fn to receive the effective frame rate whenever it
// changes, including through adaptive tuning. fn runs with the scheduler lock
// held and must not call back into the scheduler.
func WithRateListener(fn func(fps int)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onRate = fn
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
