// Package config defines pipeline configuration and its loading hooks.
//
// Conventions:
// - New builds a Config with defaults; Load layers a YAML file and env vars on top.
// - Durations are expressed in milliseconds to keep env and YAML values plain numbers.
// - Validation errors wrap ErrInvalidConfig; loading errors wrap ErrLoadConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Reducer.

	// MaxQueueSize bounds the queued-mode input buffer.
	MaxQueueSize int `koanf:"max_queue_size"`
	// EventDeadlineMS is how long a queued move stays deliverable.
	EventDeadlineMS int `koanf:"event_deadline_ms"`
	// ImmediateFeedback delivers samples synchronously instead of queueing them.
	ImmediateFeedback bool `koanf:"immediate_feedback"`
	// ProcessCoalescedEvents replays batched hardware samples.
	ProcessCoalescedEvents bool `koanf:"process_coalesced_events"`
	// UsePredictedEvents lets platform-predicted samples extend the lookahead horizon.
	UsePredictedEvents bool `koanf:"use_predicted_events"`
	// MeasureLatency records input-to-consumption latency.
	MeasureLatency bool `koanf:"measure_latency"`
	// LatencySampleSize is the latency window length.
	LatencySampleSize int `koanf:"latency_sample_size"`
	// SmoothingFactor is the weight of the previous velocity, 0 disables smoothing.
	SmoothingFactor float64 `koanf:"smoothing_factor"`
	// HighPriorityVelocity promotes queued moves faster than this many px/s.
	HighPriorityVelocity float64 `koanf:"high_priority_velocity"`
	// FlushIntervalMS is the queued-mode flush timer period.
	FlushIntervalMS int `koanf:"flush_interval_ms"`

	// Scheduler.

	// TargetFPS is the preferred frame rate.
	TargetFPS int `koanf:"target_fps"`
	// MinFPS is the floor for adaptive tuning.
	MinFPS int `koanf:"min_fps"`
	// FrameBudgetMS fixes the per-frame budget; 0 derives it from the frame rate.
	FrameBudgetMS float64 `koanf:"frame_budget_ms"`
	// AdaptiveFrameRate lets sustained load move the target rate.
	AdaptiveFrameRate bool `koanf:"adaptive_frame_rate"`
	// Enabled turns the scheduler on.
	Enabled bool `koanf:"enabled"`
	// BatterySaver caps the frame rate at 30.
	BatterySaver bool `koanf:"battery_saver"`
	// MaxOncePerFrame bounds one-time callbacks processed per frame.
	MaxOncePerFrame int `koanf:"max_once_per_frame"`
	// SampleWindow is the frame-time window length.
	SampleWindow int `koanf:"sample_window"`

	// StatsIntervalMS is how often the host mirrors snapshots into metrics.
	StatsIntervalMS int `koanf:"stats_interval_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel: "info",

		MaxQueueSize:           64,
		EventDeadlineMS:        50,
		ImmediateFeedback:      true,
		ProcessCoalescedEvents: true,
		UsePredictedEvents:     true,
		MeasureLatency:         true,
		LatencySampleSize:      100,
		SmoothingFactor:        0,
		HighPriorityVelocity:   1000,
		FlushIntervalMS:        8,

		TargetFPS:         60,
		MinFPS:            30,
		FrameBudgetMS:     0,
		AdaptiveFrameRate: true,
		Enabled:           true,
		BatterySaver:      false,
		MaxOncePerFrame:   10,
		SampleWindow:      100,

		StatsIntervalMS: 1000,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	positive := []struct {
		key string
		val int
	}{
		{"max_queue_size", c.MaxQueueSize},
		{"event_deadline_ms", c.EventDeadlineMS},
		{"latency_sample_size", c.LatencySampleSize},
		{"flush_interval_ms", c.FlushIntervalMS},
		{"target_fps", c.TargetFPS},
		{"min_fps", c.MinFPS},
		{"max_once_per_frame", c.MaxOncePerFrame},
		{"sample_window", c.SampleWindow},
		{"stats_interval_ms", c.StatsIntervalMS},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.key, p.val)
		}
	}

	if c.SmoothingFactor < 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("%w: smoothing_factor must be within [0, 1], got %g", ErrInvalidConfig, c.SmoothingFactor)
	}
	if c.HighPriorityVelocity <= 0 {
		return fmt.Errorf("%w: high_priority_velocity must be positive, got %g", ErrInvalidConfig, c.HighPriorityVelocity)
	}
	if c.FrameBudgetMS < 0 {
		return fmt.Errorf("%w: frame_budget_ms must not be negative, got %g", ErrInvalidConfig, c.FrameBudgetMS)
	}
	if c.MinFPS > c.TargetFPS {
		return fmt.Errorf("%w: min_fps %d exceeds target_fps %d", ErrInvalidConfig, c.MinFPS, c.TargetFPS)
	}
	return nil
}

// EventDeadline returns EventDeadlineMS as a duration.
func (c *Config) EventDeadline() time.Duration { return ms(c.EventDeadlineMS) }

// FlushInterval returns FlushIntervalMS as a duration.
func (c *Config) FlushInterval() time.Duration { return ms(c.FlushIntervalMS) }

// FrameBudget returns FrameBudgetMS as a duration.
func (c *Config) FrameBudget() time.Duration {
	return time.Duration(c.FrameBudgetMS * float64(time.Millisecond))
}

// StatsInterval returns StatsIntervalMS as a duration.
func (c *Config) StatsInterval() time.Duration { return ms(c.StatsIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
