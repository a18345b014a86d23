package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/cadence/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CADENCE_TARGET_FPS", "120")
			_ = os.Setenv("CADENCE_MAX_QUEUE_SIZE", "8")
			_ = os.Setenv("CADENCE_IMMEDIATE_FEEDBACK", "false")
			_ = os.Setenv("CADENCE_SMOOTHING_FACTOR", "0.25")
			_ = os.Setenv("CADENCE_FRAME_BUDGET_MS", "7.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.TargetFPS, convey.ShouldEqual, 120)
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 8)
				convey.So(cfg.ImmediateFeedback, convey.ShouldBeFalse)
				convey.So(cfg.SmoothingFactor, convey.ShouldEqual, 0.25)
				convey.So(cfg.FrameBudgetMS, convey.ShouldEqual, 7.5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
# pipeline tuning
log_level: debug
target_fps: 90
min_fps: 45
battery_saver: true
adaptive_frame_rate: false
event_deadline_ms: 30  # tighter deadline
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep defaults elsewhere", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.TargetFPS, convey.ShouldEqual, 90)
				convey.So(cfg.MinFPS, convey.ShouldEqual, 45)
				convey.So(cfg.BatterySaver, convey.ShouldBeTrue)
				convey.So(cfg.AdaptiveFrameRate, convey.ShouldBeFalse)
				convey.So(cfg.EventDeadlineMS, convey.ShouldEqual, 30)
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
target_fps: 90
max_queue_size: 16
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENCE_CONFIG", tmpFile)
			_ = os.Setenv("CADENCE_TARGET_FPS", "75")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.TargetFPS, convey.ShouldEqual, 75)
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 16)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("CADENCE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("CADENCE_TARGET_FPS", "fast")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config that fails validation", func() {
			_ = os.Setenv("CADENCE_MIN_FPS", "100")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "min_fps")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"CADENCE_CONFIG",
		"CADENCE_TARGET_FPS",
		"CADENCE_MIN_FPS",
		"CADENCE_MAX_QUEUE_SIZE",
		"CADENCE_IMMEDIATE_FEEDBACK",
		"CADENCE_SMOOTHING_FACTOR",
		"CADENCE_FRAME_BUDGET_MS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "cadence-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
