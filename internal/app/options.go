package service

import (
	"time"

	"github.com/okian/cadence/internal/adapters/display/vsync"
	"github.com/okian/cadence/internal/config"
	"github.com/okian/cadence/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the pipeline configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithRequester drives frames from a host-provided source instead of an
// internal ticker.
func WithRequester(req vsync.Requester) Option {
	return func(s *Service) {
		if req != nil {
			s.requester = req
		}
	}
}

// WithLookahead fixes how far ahead the input sampler predicts. Zero uses
// one frame budget.
func WithLookahead(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.lookahead = d
		}
	}
}

// WithClock sets the time source shared by the reducer and scheduler.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
