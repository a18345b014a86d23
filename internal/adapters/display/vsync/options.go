package vsync

import (
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// Option applies a configuration option to the Ticker.
type Option func(*Ticker)

// WithInterval sets the refresh period.
func WithInterval(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithRate sets the refresh period from a rate in Hz.
func WithRate(hz int) Option {
	return func(t *Ticker) {
		if hz > 0 {
			t.interval = time.Second / time.Duration(hz)
		}
	}
}

// WithName sets the ticker name for logging.
func WithName(name string) Option {
	return func(t *Ticker) {
		if name != "" {
			t.name = name
		}
	}
}

// WithLogger sets a custom logger for the ticker.
func WithLogger(l logger.Logger) Option {
	return func(t *Ticker) {
		if l != nil {
			t.logger = l
		}
	}
}
