package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/cadence/pkg/logger"
	"github.com/okian/cadence/pkg/metrics"
)

// Frame processing thresholds.
const (
	earlyFrameRatio   = 0.9  // callbacks earlier than this share of the interval are skipped
	droppedFrameRatio = 1.5  // deltas above this share of the budget count as dropped
	budgetLimitRatio  = 0.9  // non-critical work stops at this share of the budget
	adaptWindow       = 30   // frames of utilization considered by adaptive tuning
	adaptHighUtil     = 0.85 // average utilization that lowers the target rate
	adaptLowUtil      = 0.5  // average utilization that raises the target rate
	adaptStepFPS      = 10
)

// onFrame handles one display refresh. Callbacks from an older generation are
// stale and ignored.
func (s *Scheduler) onFrame(gen uint64, ts time.Time) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.handle = 0

	deltaMs := s.intervalMs
	if !s.lastTS.IsZero() {
		deltaMs = millis(ts.Sub(s.lastTS))
		if deltaMs < earlyFrameRatio*s.intervalMs {
			s.requestLocked()
			s.mu.Unlock()
			return
		}
	}
	s.lastTS = ts

	s.counters.FrameNumber++
	s.counters.TotalFrames++
	if deltaMs > droppedFrameRatio*s.budgetMs {
		if n := roundDropped(deltaMs, s.budgetMs); n > 0 {
			s.counters.DroppedFrames += n
			metrics.RecordDroppedFrames(int(n))
			s.logger.Debug(s.ctx, "frames dropped",
				logger.Uint64("frame", s.counters.FrameNumber),
				logger.Float64("delta_ms", deltaMs),
				logger.Uint64("dropped", n))
		}
	}

	info := FrameInfo{
		FrameNumber: s.counters.FrameNumber,
		Timestamp:   ts,
		DeltaTimeMs: deltaMs,
		BudgetMs:    s.budgetMs,
	}
	order := s.sortPassLocked()
	s.inFrame = true
	ctx := s.ctx
	start := s.now()
	s.mu.Unlock()

	if !s.runTasks(ctx, gen, info, order, start) || !s.runOnce(ctx, gen, info, start) {
		s.mu.Lock()
		s.finishFrameLocked()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishFrameLocked()

	workMs := millis(s.now().Sub(start))
	s.frameTimes.Add(workMs)
	s.utilization = workMs / s.budgetMs
	metrics.RecordFrame(workMs, s.budgetMs)
	if s.adaptive {
		s.adaptLocked(s.utilization)
	}

	if gen == s.gen && s.state == StateRunning {
		s.requestLocked()
	}
}

// applyPendingLocked applies buffered table mutations in call order.
func (s *Scheduler) applyPendingLocked() {
	pending := s.pending
	s.pending = nil
	for _, op := range pending {
		s.applyLocked(op)
	}
}

// sortPassLocked returns the enabled tasks in execution order. Disabled tasks
// accrue a skipped frame.
func (s *Scheduler) sortPassLocked() []*task {
	s.applyPendingLocked()

	order := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.enabled {
			t.framesSinceRun++
			continue
		}
		order = append(order, t)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.framesSinceRun != b.framesSinceRun {
			return a.framesSinceRun < b.framesSinceRun
		}
		return a.seq < b.seq
	})
	return order
}

// finishFrameLocked ends the mutation buffering window and applies what the
// frame's tasks changed, so the table is current before the next frame.
func (s *Scheduler) finishFrameLocked() {
	s.inFrame = false
	s.applyPendingLocked()
	metrics.UpdateScheduledTasks(len(s.tasks))
}

// runTasks executes the ordered tasks. It returns false when the scheduler was
// stopped or paused by a task.
func (s *Scheduler) runTasks(ctx context.Context, gen uint64, info FrameInfo, order []*task, start time.Time) bool {
	limit := budgetLimitRatio * info.BudgetMs

	for _, t := range order {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return false
		}
		elapsed := millis(s.now().Sub(start))
		if t.priority != PriorityCritical && t.framesSinceRun < t.maxSkipFrames && elapsed >= limit {
			t.framesSinceRun++
			s.counters.TasksSkipped++
			s.mu.Unlock()
			metrics.RecordTaskSkipped(t.priority.String())
			continue
		}
		fn := t.fn
		s.mu.Unlock()

		runStart := s.now()
		err := s.call(ctx, fn, info)
		runMs := millis(s.now().Sub(runStart))

		s.mu.Lock()
		t.recordRun(runMs)
		s.counters.TasksExecuted++
		if err != nil {
			t.errors++
			s.counters.TaskErrors++
		}
		s.mu.Unlock()

		metrics.RecordTaskRun(t.priority.String(), runMs)
		if err != nil {
			metrics.RecordTaskError(t.name)
			s.logger.Error(ctx, "task failed",
				logger.String("task", t.name),
				logger.Uint64("frame", info.FrameNumber),
				logger.Error(err))
		}
	}
	return true
}

// runOnce executes up to maxOncePerFrame queued one-time callbacks, highest
// priority first. Callbacks over budget wait for a later frame.
func (s *Scheduler) runOnce(ctx context.Context, gen uint64, info FrameInfo, start time.Time) bool {
	s.mu.Lock()
	if len(s.once) == 0 {
		s.mu.Unlock()
		return true
	}
	batch := s.once
	s.once = nil
	perFrame := s.maxOncePerFrame
	s.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].priority > batch[j].priority })

	limit := budgetLimitRatio * info.BudgetMs
	var deferred []onceTask
	ran := 0
	for i, o := range batch {
		if gen != s.currentGen() {
			deferred = append(deferred, batch[i:]...)
			s.requeueOnce(deferred)
			return false
		}
		if ran >= perFrame || (o.priority != PriorityCritical && millis(s.now().Sub(start)) >= limit) {
			deferred = append(deferred, o)
			continue
		}
		ran++
		if err := s.call(ctx, o.fn, info); err != nil {
			metrics.RecordTaskError("once")
			s.logger.Error(ctx, "one-time task failed",
				logger.String("priority", o.priority.String()),
				logger.Error(err))
			s.mu.Lock()
			s.counters.TaskErrors++
			s.mu.Unlock()
		}
		s.mu.Lock()
		s.counters.OnceExecuted++
		s.mu.Unlock()
	}
	s.requeueOnce(deferred)
	return true
}

// requeueOnce puts deferred callbacks ahead of ones queued during the frame.
func (s *Scheduler) requeueOnce(deferred []onceTask) {
	if len(deferred) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once = append(deferred, s.once...)
}

func (s *Scheduler) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// call runs fn, converting a panic into an error wrapping ErrTaskPanicked.
func (s *Scheduler) call(ctx context.Context, fn TaskFunc, info FrameInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(ctx, info)
}

// adaptLocked moves the target rate by adaptStepFPS once a full window of
// utilization agrees, then starts a fresh window.
func (s *Scheduler) adaptLocked(util float64) {
	s.utilWindow = append(s.utilWindow, util)
	if len(s.utilWindow) > adaptWindow {
		s.utilWindow = s.utilWindow[1:]
	}
	if len(s.utilWindow) < adaptWindow {
		return
	}

	var sum float64
	for _, u := range s.utilWindow {
		sum += u
	}
	avg := sum / float64(len(s.utilWindow))

	next := s.targetFPS
	switch {
	case avg >= adaptHighUtil && s.targetFPS > s.minFPS:
		next = clamp(s.targetFPS-adaptStepFPS, s.minFPS, s.preferredFPS)
	case avg <= adaptLowUtil && s.targetFPS < s.preferredFPS:
		next = clamp(s.targetFPS+adaptStepFPS, s.minFPS, s.preferredFPS)
	}
	if next == s.targetFPS {
		return
	}

	s.logger.Info(s.ctx, "target frame rate adjusted",
		logger.Int("from", s.targetFPS),
		logger.Int("to", next),
		logger.Float64("utilization", avg))
	s.targetFPS = next
	s.utilWindow = s.utilWindow[:0]
	s.normalize()
}
