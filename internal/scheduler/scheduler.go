// Package scheduler runs named tasks once per display refresh within an
// adaptive time budget.
//
// Tasks are ordered by priority. Critical tasks run every processed frame;
// other tasks are deferred once 90% of the budget is spent, until they have
// been skipped maxSkipFrames times in a row. Task-table changes made while a
// frame is running take effect at the next frame's sort pass.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/okian/cadence/internal/adapters/display/vsync"
	"github.com/okian/cadence/internal/stats"
	"github.com/okian/cadence/pkg/logger"
	"github.com/okian/cadence/pkg/metrics"
)

// State is the scheduler lifecycle state.
type State int

// Scheduler states.
const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time view of the scheduler counters.
type Metrics struct {
	State          State
	FrameNumber    uint64
	TotalFrames    uint64
	DroppedFrames  uint64
	TasksExecuted  uint64
	TasksSkipped   uint64
	TaskErrors     uint64
	OnceExecuted   uint64
	OncePending    int
	ScheduledTasks int
	TargetFPS      int
	BudgetMs       float64
	Utilization    float64       // work time / budget of the last processed frame
	FrameTime      stats.Summary // work time per processed frame, milliseconds
}

// Scheduler is safe for concurrent use. Task callbacks run without the
// internal lock held and may call any method.
type Scheduler struct {
	requester vsync.Requester

	mu sync.Mutex

	// configuration
	preferredFPS    int
	minFPS          int
	fixedBudget     time.Duration
	adaptive        bool
	enabled         bool
	batterySaver    bool
	maxOncePerFrame int
	sampleWindow    int
	now             func() time.Time
	logger          logger.Logger
	onRate          func(fps int)

	// derived
	targetFPS    int
	effectiveFPS int
	intervalMs   float64
	budgetMs     float64

	state  State
	gen    uint64
	handle vsync.Handle
	ctx    context.Context
	cancel context.CancelFunc
	lastTS time.Time

	tasks   []*task
	index   map[string]*task
	pending []tableOp
	inFrame bool
	taskSeq uint64
	once    []onceTask

	counters    Metrics
	frameTimes  *stats.Window
	utilWindow  []float64
	utilization float64
}

// New creates a scheduler that requests frames from req.
func New(req vsync.Requester, opts ...Option) *Scheduler {
	s := &Scheduler{
		requester:       req,
		preferredFPS:    DefaultTargetFPS,
		minFPS:          DefaultMinFPS,
		adaptive:        true,
		enabled:         true,
		maxOncePerFrame: DefaultMaxOncePerFrame,
		sampleWindow:    DefaultSampleWindow,
		now:             time.Now,
		logger:          logger.Get().Named("scheduler"),
		index:           make(map[string]*task),
		ctx:             context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.frameTimes = stats.NewWindow(s.sampleWindow)
	s.targetFPS = s.preferredFPS
	s.normalize()
	return s
}

// normalize clamps the rate settings and derives interval and budget. Must be
// called with mu held.
func (s *Scheduler) normalize() {
	if s.minFPS > MaxFPS {
		s.minFPS = MaxFPS
	}
	s.preferredFPS = clamp(s.preferredFPS, s.minFPS, MaxFPS)
	s.targetFPS = clamp(s.targetFPS, s.minFPS, s.preferredFPS)

	fps := s.targetFPS
	if s.batterySaver && fps > BatterySaverFPS {
		fps = BatterySaverFPS
	}
	s.intervalMs = 1000 / float64(fps)
	s.budgetMs = s.intervalMs
	if s.fixedBudget > 0 {
		s.budgetMs = float64(s.fixedBudget) / float64(time.Millisecond)
	}
	metrics.UpdateFrameRate(fps, s.budgetMs)

	if fps != s.effectiveFPS {
		s.effectiveFPS = fps
		if s.onRate != nil {
			s.onRate(fps)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Start begins requesting frames. It is a no-op when already running or when
// the scheduler is disabled; from the paused state it resumes.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		s.logger.Debug(ctx, "scheduler disabled, start ignored")
		return
	}
	switch s.state {
	case StateRunning:
		return
	case StatePaused:
		s.resumeLocked()
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateRunning
	s.counters.FrameNumber = 0
	s.lastTS = time.Time{}
	s.gen++
	s.requestLocked()
	s.logger.Info(ctx, "scheduler started",
		logger.Int("target_fps", s.targetFPS),
		logger.Float64("budget_ms", s.budgetMs))
}

// Stop cancels the outstanding frame request; no frame work starts after it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.state = StateIdle
	s.gen++
	s.cancelRequestLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Info(s.ctx, "scheduler stopped", logger.Uint64("frames", s.counters.TotalFrames))
}

// Pause suspends frame processing until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.gen++
	s.cancelRequestLocked()
}

// Resume continues a paused scheduler.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.resumeLocked()
}

func (s *Scheduler) resumeLocked() {
	s.state = StateRunning
	s.lastTS = time.Time{}
	s.gen++
	s.requestLocked()
}

// IsRunning reports whether frames are being processed.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// IsPaused reports whether the scheduler is paused.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePaused
}

// requestLocked must be called with mu held.
func (s *Scheduler) requestLocked() {
	gen := s.gen
	s.handle = s.requester.RequestFrame(func(ts time.Time) {
		s.onFrame(gen, ts)
	})
}

// cancelRequestLocked must be called with mu held.
func (s *Scheduler) cancelRequestLocked() {
	if s.handle != 0 {
		s.requester.CancelFrame(s.handle)
		s.handle = 0
	}
}

// ScheduleTask registers fn under name, replacing any task with that name.
// A non-positive maxSkipFrames uses DefaultMaxSkipFrames.
func (s *Scheduler) ScheduleTask(name string, fn TaskFunc, priority Priority, maxSkipFrames int) {
	if name == "" || fn == nil {
		return
	}
	if maxSkipFrames <= 0 {
		maxSkipFrames = DefaultMaxSkipFrames
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskSeq++
	s.mutateLocked(tableOp{kind: opSchedule, name: name, task: &task{
		name:          name,
		priority:      priority,
		fn:            fn,
		maxSkipFrames: maxSkipFrames,
		enabled:       true,
		seq:           s.taskSeq,
	}})
}

// UnscheduleTask removes the named task. Unknown names are ignored.
func (s *Scheduler) UnscheduleTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateLocked(tableOp{kind: opUnschedule, name: name})
}

// EnableTask lets the named task run again.
func (s *Scheduler) EnableTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateLocked(tableOp{kind: opEnable, name: name})
}

// DisableTask stops the named task from running. Its skip counter keeps growing.
func (s *Scheduler) DisableTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateLocked(tableOp{kind: opDisable, name: name})
}

// mutateLocked applies op now, or once the running frame finishes. Ops queue
// behind any still-buffered ones so they apply in call order. Must be called
// with mu held.
func (s *Scheduler) mutateLocked(op tableOp) {
	if s.inFrame || len(s.pending) > 0 {
		s.pending = append(s.pending, op)
		return
	}
	s.applyLocked(op)
}

func (s *Scheduler) applyLocked(op tableOp) {
	switch op.kind {
	case opSchedule:
		if old, ok := s.index[op.name]; ok {
			s.removeLocked(old)
		}
		s.index[op.name] = op.task
		s.tasks = append(s.tasks, op.task)
	case opUnschedule:
		if t, ok := s.index[op.name]; ok {
			s.removeLocked(t)
			delete(s.index, op.name)
		}
	case opEnable, opDisable:
		if t, ok := s.index[op.name]; ok {
			t.enabled = op.kind == opEnable
		}
	}
	metrics.UpdateScheduledTasks(len(s.tasks))
}

func (s *Scheduler) removeLocked(t *task) {
	for i, cur := range s.tasks {
		if cur == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// RunOnce queues fn to run in an upcoming frame under the budget rules of priority.
func (s *Scheduler) RunOnce(fn TaskFunc, priority Priority) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once = append(s.once, onceTask{fn: fn, priority: priority})
}

// SetTargetFPS sets the preferred rate, clamped to [minFPS, MaxFPS].
func (s *Scheduler) SetTargetFPS(fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferredFPS = clamp(fps, s.minFPS, MaxFPS)
	s.targetFPS = s.preferredFPS
	s.utilWindow = s.utilWindow[:0]
	s.normalize()
}

// UpdateConfig applies opts to a live scheduler. Disabling stops it.
func (s *Scheduler) UpdateConfig(opts ...Option) {
	s.mu.Lock()
	prevPreferred := s.preferredFPS
	prevWindow := s.sampleWindow
	for _, opt := range opts {
		opt(s)
	}
	if s.preferredFPS != prevPreferred {
		s.targetFPS = s.preferredFPS
	}
	if s.sampleWindow != prevWindow {
		s.frameTimes = stats.NewWindow(s.sampleWindow)
	}
	s.normalize()
	disabled := !s.enabled
	s.mu.Unlock()

	if disabled {
		s.Stop()
	}
}

// TaskInfo returns a snapshot of the named task.
func (s *Scheduler) TaskInfo(name string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.index[name]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// TargetFPS returns the effective frame rate.
func (s *Scheduler) TargetFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batterySaver && s.targetFPS > BatterySaverFPS {
		return BatterySaverFPS
	}
	return s.targetFPS
}

// BudgetMs returns the current per-frame work budget.
func (s *Scheduler) BudgetMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetMs
}

// Metrics returns a snapshot of the counters and frame-time window.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.counters
	m.State = s.state
	m.OncePending = len(s.once)
	m.ScheduledTasks = len(s.tasks)
	m.TargetFPS = s.targetFPS
	if s.batterySaver && m.TargetFPS > BatterySaverFPS {
		m.TargetFPS = BatterySaverFPS
	}
	m.BudgetMs = s.budgetMs
	m.Utilization = s.utilization
	m.FrameTime = s.frameTimes.Summary()
	return m
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func roundDropped(deltaMs, budgetMs float64) uint64 {
	n := math.Round(deltaMs/budgetMs) - 1
	if n < 0 {
		return 0
	}
	return uint64(n)
}
