package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/cadence/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 64)
			convey.So(cfg.ImmediateFeedback, convey.ShouldBeTrue)
			convey.So(cfg.TargetFPS, convey.ShouldEqual, 60)
			convey.So(cfg.MinFPS, convey.ShouldEqual, 30)
			convey.So(cfg.Enabled, convey.ShouldBeTrue)
			convey.So(cfg.BatterySaver, convey.ShouldBeFalse)
			convey.So(cfg.LatencySampleSize, convey.ShouldEqual, cfg.SampleWindow)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations convert from milliseconds", func() {
			convey.So(cfg.EventDeadline(), convey.ShouldEqual, 50*time.Millisecond)
			convey.So(cfg.FlushInterval(), convey.ShouldEqual, 8*time.Millisecond)
			convey.So(cfg.FrameBudget(), convey.ShouldEqual, time.Duration(0))
			convey.So(cfg.StatsInterval(), convey.ShouldEqual, time.Second)

			cfg.FrameBudgetMS = 12.5
			convey.So(cfg.FrameBudget(), convey.ShouldEqual, 12500*time.Microsecond)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one invalid setting", t, func() {
		cases := map[string]func(*config.Config){
			"log_level":              func(c *config.Config) { c.LogLevel = "verbose" },
			"max_queue_size":         func(c *config.Config) { c.MaxQueueSize = 0 },
			"event_deadline_ms":      func(c *config.Config) { c.EventDeadlineMS = -1 },
			"target_fps":             func(c *config.Config) { c.TargetFPS = 0 },
			"smoothing_factor":       func(c *config.Config) { c.SmoothingFactor = 1.5 },
			"high_priority_velocity": func(c *config.Config) { c.HighPriorityVelocity = 0 },
			"frame_budget_ms":        func(c *config.Config) { c.FrameBudgetMS = -2 },
			"min_fps":                func(c *config.Config) { c.MinFPS = 90 },
		}

		for key, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, key)
		}
	})
}
