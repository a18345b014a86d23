// Package service wires the input reducer, the frame scheduler and a frame
// source into one pipeline with a start/stop lifecycle.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/okian/cadence/internal/adapters/display/vsync"
	"github.com/okian/cadence/internal/config"
	"github.com/okian/cadence/internal/reducer"
	"github.com/okian/cadence/internal/scheduler"
	"github.com/okian/cadence/pkg/logger"
	"github.com/okian/cadence/pkg/metrics"
)

// InputSamplerTask is the built-in critical task that samples the predicted
// pointer position once per frame.
const InputSamplerTask = "input-sampler"

const shutdownTimeout = 5 * time.Second

// Sample is the pointer state captured by the input sampler for one frame.
type Sample struct {
	Frame     uint64
	Active    bool
	Predicted r2.Point
	Velocity  r2.Point
}

// Service owns one reducer and one scheduler.
type Service struct {
	mu sync.RWMutex

	// Core components
	reducer   *reducer.Reducer
	scheduler *scheduler.Scheduler
	requester vsync.Requester
	ticker    *vsync.Ticker // nil when the host drives frames

	// Configuration
	cfg       *config.Config
	queueCap  int
	lookahead time.Duration
	now       func() time.Time

	// State
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	sampleMu sync.RWMutex
	sample   Sample

	// Logging
	logger logger.Logger
}

// New constructs a Service. Tasks may be registered on Scheduler() and
// handlers on Reducer() before Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.queueCap = s.cfg.MaxQueueSize

	if s.requester == nil {
		s.ticker = vsync.NewTicker(
			vsync.WithRate(s.cfg.TargetFPS),
			vsync.WithLogger(s.logger),
		)
		s.requester = s.ticker
	}

	s.reducer = reducer.New(ReducerOptions(s.cfg, s.now, s.logger.Named("reducer"))...)
	schedOpts := SchedulerOptions(s.cfg, s.now, s.logger.Named("scheduler"))
	if s.ticker != nil {
		schedOpts = append(schedOpts, scheduler.WithRateListener(s.followRate))
	}
	s.scheduler = scheduler.New(s.requester, schedOpts...)
	s.scheduler.ScheduleTask(InputSamplerTask, s.sampleInput, scheduler.PriorityCritical, 0)
	return s
}

// ReducerOptions maps configuration onto reducer options.
func ReducerOptions(cfg *config.Config, clock func() time.Time, l logger.Logger) []reducer.Option {
	return []reducer.Option{
		reducer.WithMaxQueueSize(cfg.MaxQueueSize),
		reducer.WithEventDeadline(cfg.EventDeadline()),
		reducer.WithImmediateFeedback(cfg.ImmediateFeedback),
		reducer.WithCoalescedEvents(cfg.ProcessCoalescedEvents),
		reducer.WithPredictedEvents(cfg.UsePredictedEvents),
		reducer.WithLatencyMeasurement(cfg.MeasureLatency),
		reducer.WithLatencySampleSize(cfg.LatencySampleSize),
		reducer.WithSmoothingFactor(cfg.SmoothingFactor),
		reducer.WithHighPriorityVelocity(cfg.HighPriorityVelocity),
		reducer.WithFlushInterval(cfg.FlushInterval()),
		reducer.WithClock(clock),
		reducer.WithLogger(l),
	}
}

// SchedulerOptions maps configuration onto scheduler options.
func SchedulerOptions(cfg *config.Config, clock func() time.Time, l logger.Logger) []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithTargetFPS(cfg.TargetFPS),
		scheduler.WithMinFPS(cfg.MinFPS),
		scheduler.WithFrameBudget(cfg.FrameBudget()),
		scheduler.WithAdaptiveFrameRate(cfg.AdaptiveFrameRate),
		scheduler.WithEnabled(cfg.Enabled),
		scheduler.WithBatterySaver(cfg.BatterySaver),
		scheduler.WithMaxOncePerFrame(cfg.MaxOncePerFrame),
		scheduler.WithSampleWindow(cfg.SampleWindow),
		scheduler.WithClock(clock),
		scheduler.WithLogger(l),
	}
}

// Reducer returns the input reducer.
func (s *Service) Reducer() *reducer.Reducer { return s.reducer }

// Scheduler returns the frame scheduler.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Start validates the configuration and starts the flush timer, the frame
// source and the scheduler. A stopped Service cannot be restarted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	s.logger.Info(ctx, "starting input pipeline...")

	s.reducer.Start(ctx)
	if s.ticker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ticker.Run(ctx)
		}()
	}
	s.scheduler.Start(ctx)

	s.wg.Add(1)
	go s.statsLoop(ctx, s.cfg.StatsInterval())

	s.started = true
	s.logger.Info(ctx, "input pipeline started",
		logger.Int("target_fps", s.scheduler.TargetFPS()),
		logger.Bool("immediate_feedback", s.cfg.ImmediateFeedback),
		logger.Int("max_queue_size", s.cfg.MaxQueueSize),
	)
	return nil
}

// Stop shuts the pipeline down and releases the reducer state.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping input pipeline...")

	s.scheduler.Stop()
	s.reducer.Dispose()

	if s.ticker != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := s.ticker.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "frame source shutdown failed", logger.Error(err))
		}
		cancel()
	}

	close(s.stopCh)
	s.wg.Wait()

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "input pipeline stopped")
}

// ApplyConfig pushes scheduler settings from cfg to the running scheduler.
// Reducer settings are fixed at construction.
func (s *Service) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.scheduler.UpdateConfig(SchedulerOptions(cfg, s.now, s.logger.Named("scheduler"))...)
	return nil
}

// LatestSample returns what the input sampler captured on the last frame.
func (s *Service) LatestSample() Sample {
	s.sampleMu.RLock()
	defer s.sampleMu.RUnlock()
	return s.sample
}

// sampleInput is the input sampler task body.
func (s *Service) sampleInput(_ context.Context, info scheduler.FrameInfo) error {
	lookaheadMs := info.BudgetMs
	if s.lookahead > 0 {
		lookaheadMs = float64(s.lookahead) / float64(time.Millisecond)
	}
	pos, ok := s.reducer.GetPredictedPosition(lookaheadMs)

	s.sampleMu.Lock()
	s.sample = Sample{
		Frame:     info.FrameNumber,
		Active:    ok,
		Predicted: pos,
		Velocity:  s.reducer.Velocity(),
	}
	s.sampleMu.Unlock()
	return nil
}

// statsLoop mirrors snapshots into metrics until Stop.
func (s *Service) statsLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

// followRate keeps an owned ticker at the scheduler's effective rate. The
// scheduler calls it on every rate change.
func (s *Service) followRate(fps int) {
	if fps > 0 {
		s.ticker.SetInterval(time.Second / time.Duration(fps))
	}
}

// FrameInterval returns the period of the owned frame source, or zero when
// the host drives frames.
func (s *Service) FrameInterval() time.Duration {
	if s.ticker == nil {
		return 0
	}
	return s.ticker.Interval()
}

func (s *Service) publish() {
	rm := s.reducer.Metrics()
	sm := s.scheduler.Metrics()
	metrics.UpdateActiveTouches(rm.ActiveTouches)
	metrics.UpdateInputQueue(rm.QueueLength, s.queueCap)
	metrics.UpdateScheduledTasks(sm.ScheduledTasks)
	metrics.UpdateFrameRate(sm.TargetFPS, sm.BudgetMs)
}

// GetStats returns pipeline statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	rm := s.reducer.Metrics()
	sm := s.scheduler.Metrics()

	return map[string]interface{}{
		"started":             started,
		"schedulerState":      sm.State.String(),
		"targetFps":           sm.TargetFPS,
		"budgetMs":            sm.BudgetMs,
		"frameNumber":         sm.FrameNumber,
		"totalFrames":         sm.TotalFrames,
		"droppedFrames":       sm.DroppedFrames,
		"tasksExecuted":       sm.TasksExecuted,
		"tasksSkipped":        sm.TasksSkipped,
		"taskErrors":          sm.TaskErrors,
		"scheduledTasks":      sm.ScheduledTasks,
		"utilization":         sm.Utilization,
		"frameTimeAvgMs":      sm.FrameTime.Avg,
		"frameTimeP95Ms":      sm.FrameTime.P95,
		"activeTouches":       rm.ActiveTouches,
		"eventsProcessed":     rm.EventsProcessed,
		"coalescedEventsUsed": rm.CoalescedEventsUsed,
		"predictedEventsUsed": rm.PredictedEventsUsed,
		"eventsQueued":        rm.EventsQueued,
		"eventsEvicted":       rm.EventsEvicted,
		"eventsExpired":       rm.EventsExpired,
		"queueLength":         rm.QueueLength,
		"latencyAvgMs":        rm.Latency.Avg,
		"latencyP95Ms":        rm.Latency.P95,
		"latencyMaxMs":        rm.Latency.Max,
	}
}
