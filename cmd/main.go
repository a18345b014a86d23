package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	service "github.com/okian/cadence/internal/app"
	"github.com/okian/cadence/internal/config"
	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/internal/scheduler"
	"github.com/okian/cadence/pkg/logger"
	"github.com/okian/cadence/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Background updater constants.
const (
	systemMetricsInterval = 10 * time.Second
	serviceStatsInterval  = 5 * time.Second
	renderTask            = "render"
	renderLogEvery        = 300 // frames between render task debug lines
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := newService(cfg, loggerInstance)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service stats reporter
	go startServiceStatsReporter(ctx, svc)

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down...")
}

// newService builds the pipeline with the demo render task and a touch logger.
func newService(cfg *config.Config, l logger.Logger) *service.Service {
	svc := service.New(
		service.WithConfig(cfg),
		service.WithLogger(l),
	)

	svc.Reducer().OnTouch(func(n model.TouchNotification) {
		if n.Kind == model.KindMove {
			return
		}
		l.Debug(context.Background(), "touch",
			logger.Int("pointer", n.PointerID),
			logger.String("kind", n.Kind.String()),
			logger.Bool("cancelled", n.Cancelled))
	})

	svc.Scheduler().ScheduleTask(renderTask, func(ctx context.Context, info scheduler.FrameInfo) error {
		sample := svc.LatestSample()
		if info.FrameNumber%renderLogEvery == 0 {
			l.Debug(ctx, "render",
				logger.Uint64("frame", info.FrameNumber),
				logger.Float64("delta_ms", info.DeltaTimeMs),
				logger.Bool("active", sample.Active),
				logger.Float64("x", sample.Predicted.X),
				logger.Float64("y", sample.Predicted.Y))
		}
		return nil
	}, scheduler.PriorityHigh, 0)

	return svc
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceStatsReporter logs pipeline statistics until ctx is done.
func startServiceStatsReporter(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reportServiceStats(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// reportServiceStats logs a compact view of GetStats.
func reportServiceStats(ctx context.Context, svc *service.Service) {
	stats := svc.GetStats()
	fields := make([]logger.Field, 0, len(reportedStats))
	for _, key := range reportedStats {
		fields = append(fields, logger.Any(key, stats[key]))
	}
	logger.Get().Info(ctx, "pipeline stats", fields...)
}

var reportedStats = []string{ //nolint:gochecknoglobals // read-only list
	"schedulerState",
	"targetFps",
	"totalFrames",
	"droppedFrames",
	"utilization",
	"activeTouches",
	"eventsProcessed",
	"queueLength",
	"latencyP95Ms",
}
