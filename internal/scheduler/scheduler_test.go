package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/cadence/internal/adapters/display/vsync"
	"github.com/okian/cadence/pkg/logger"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// frame60 is one 60 Hz refresh interval.
const frame60 = 16670 * time.Microsecond

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock *fakeClock
	vs    *vsync.Manual
	s     *Scheduler
	ts    time.Time
}

func newHarness(opts ...Option) *harness {
	h := &harness{clock: &fakeClock{now: t0}, vs: vsync.NewManual(), ts: t0}
	h.s = New(h.vs, append([]Option{WithClock(h.clock.Now), WithAdaptiveFrameRate(false)}, opts...)...)
	return h
}

// frames fires n refreshes spaced by d.
func (h *harness) frames(n int, d time.Duration) {
	for i := 0; i < n; i++ {
		h.vs.Fire(h.ts)
		h.ts = h.ts.Add(d)
	}
}

func counter() (TaskFunc, func() int) {
	var mu sync.Mutex
	n := 0
	return func(context.Context, FrameInfo) error {
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		}, func() int {
			mu.Lock()
			defer mu.Unlock()
			return n
		}
}

func burn(c *fakeClock, d time.Duration) TaskFunc {
	return func(context.Context, FrameInfo) error {
		c.Advance(d)
		return nil
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	_ = logger.Init()

	Convey("Given an idle scheduler", t, func() {
		h := newHarness()
		So(h.s.IsRunning(), ShouldBeFalse)
		So(h.vs.Pending(), ShouldEqual, 0)

		Convey("When started", func() {
			h.s.Start(context.Background())
			So(h.s.IsRunning(), ShouldBeTrue)
			So(h.vs.Pending(), ShouldEqual, 1)
			h.frames(2, frame60)

			Convey("Then starting again keeps the frame number", func() {
				h.s.Start(context.Background())
				So(h.s.IsRunning(), ShouldBeTrue)
				So(h.s.Metrics().FrameNumber, ShouldEqual, 2)
				So(h.vs.Pending(), ShouldEqual, 1)
			})

			Convey("Then stopping cancels the outstanding request", func() {
				h.s.Stop()
				So(h.s.IsRunning(), ShouldBeFalse)
				So(h.vs.Pending(), ShouldEqual, 0)
				h.frames(3, frame60)
				So(h.s.Metrics().TotalFrames, ShouldEqual, 2)
			})

			Convey("Then pause and resume suspend processing", func() {
				h.s.Pause()
				So(h.s.IsPaused(), ShouldBeTrue)
				So(h.vs.Pending(), ShouldEqual, 0)
				h.frames(2, frame60)
				So(h.s.Metrics().TotalFrames, ShouldEqual, 2)

				h.ts = h.ts.Add(time.Second)
				h.s.Resume()
				So(h.s.IsRunning(), ShouldBeTrue)
				h.frames(2, frame60)
				m := h.s.Metrics()
				So(m.TotalFrames, ShouldEqual, 4)
				So(m.DroppedFrames, ShouldEqual, 0)
			})
		})

		Convey("When disabled", func() {
			h.s.UpdateConfig(WithEnabled(false))
			h.s.Start(context.Background())

			Convey("Then start is ignored", func() {
				So(h.s.IsRunning(), ShouldBeFalse)
				So(h.vs.Pending(), ShouldEqual, 0)
			})
		})

		Convey("When disabled while running", func() {
			h.s.Start(context.Background())
			h.s.UpdateConfig(WithEnabled(false))

			Convey("Then it stops", func() {
				So(h.s.IsRunning(), ShouldBeFalse)
				So(h.vs.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestScheduler_Frames(t *testing.T) {
	_ = logger.Init()

	Convey("Given a 60 fps scheduler with a critical and a low task", t, func() {
		h := newHarness(WithTargetFPS(60))
		critical, criticalRuns := counter()
		low, lowRuns := counter()
		h.s.ScheduleTask("critical", critical, PriorityCritical, 0)
		h.s.ScheduleTask("low", low, PriorityLow, 5)
		h.s.Start(context.Background())

		Convey("When six frames arrive at the refresh interval", func() {
			h.frames(6, frame60)

			Convey("Then the critical task ran every frame and the low task ran", func() {
				So(criticalRuns(), ShouldEqual, 6)
				So(lowRuns(), ShouldBeGreaterThanOrEqualTo, 1)
				m := h.s.Metrics()
				So(m.FrameNumber, ShouldEqual, 6)
				So(m.DroppedFrames, ShouldEqual, 0)
				So(m.BudgetMs, ShouldAlmostEqual, 1000.0/60, 1e-9)
			})
		})

		Convey("When a single 100ms delta occurs", func() {
			h.frames(1, 100*time.Millisecond)
			h.frames(1, frame60)

			Convey("Then five frames are counted as dropped", func() {
				So(h.s.Metrics().DroppedFrames, ShouldEqual, 5)
			})
		})

		Convey("When a delta stays under one and a half budgets", func() {
			h.frames(1, 24*time.Millisecond)
			h.frames(1, frame60)

			Convey("Then nothing is counted as dropped", func() {
				So(h.s.Metrics().DroppedFrames, ShouldEqual, 0)
			})
		})

		Convey("When a callback arrives too early", func() {
			h.frames(1, 5*time.Millisecond)
			h.frames(1, frame60)

			Convey("Then it does no work but keeps the frame loop alive", func() {
				So(h.s.Metrics().FrameNumber, ShouldEqual, 1)
				So(criticalRuns(), ShouldEqual, 1)
				So(h.vs.Pending(), ShouldEqual, 1)
			})
		})
	})
}

func TestScheduler_Budget(t *testing.T) {
	_ = logger.Init()

	Convey("Given a critical task that overruns the budget", t, func() {
		h := newHarness()
		h.s.ScheduleTask("heavy", burn(h.clock, 20*time.Millisecond), PriorityCritical, 0)
		normal, normalRuns := counter()
		h.s.ScheduleTask("normal", normal, PriorityNormal, 2)
		h.s.Start(context.Background())

		Convey("When nine frames are processed", func() {
			h.frames(9, frame60)

			Convey("Then the starved task runs once every three frames", func() {
				So(normalRuns(), ShouldEqual, 3)
				m := h.s.Metrics()
				So(m.TasksSkipped, ShouldEqual, 6)
				So(m.TasksExecuted, ShouldEqual, 12)
				So(m.Utilization, ShouldBeGreaterThan, 1)
			})

			Convey("Then task info reflects the skips", func() {
				info, ok := h.s.TaskInfo("normal")
				So(ok, ShouldBeTrue)
				So(info.Runs, ShouldEqual, 3)
				So(info.FramesSinceRun, ShouldEqual, 0)
				heavy, _ := h.s.TaskInfo("heavy")
				So(heavy.AverageRunTimeMs, ShouldAlmostEqual, 20, 1e-6)
			})
		})
	})

	Convey("Given tasks of every priority within budget", t, func() {
		h := newHarness()
		var order []string
		add := func(name string, p Priority) {
			h.s.ScheduleTask(name, func(context.Context, FrameInfo) error {
				order = append(order, name)
				return nil
			}, p, 0)
		}
		add("idle", PriorityIdle)
		add("normal", PriorityNormal)
		add("critical", PriorityCritical)
		add("low", PriorityLow)
		add("high", PriorityHigh)
		h.s.Start(context.Background())
		h.frames(1, frame60)

		So(order, ShouldResemble, []string{"critical", "high", "normal", "low", "idle"})
	})
}

func TestScheduler_TaskTable(t *testing.T) {
	_ = logger.Init()

	Convey("Given a running scheduler", t, func() {
		h := newHarness()
		h.s.Start(context.Background())

		Convey("When a task is registered twice under one name", func() {
			first, firstRuns := counter()
			second, secondRuns := counter()
			h.s.ScheduleTask("render", first, PriorityNormal, 3)
			h.s.ScheduleTask("render", second, PriorityHigh, 3)
			h.frames(1, frame60)

			Convey("Then the second registration replaces the first", func() {
				So(firstRuns(), ShouldEqual, 0)
				So(secondRuns(), ShouldEqual, 1)
				So(h.s.Metrics().ScheduledTasks, ShouldEqual, 1)
				info, _ := h.s.TaskInfo("render")
				So(info.Priority, ShouldEqual, PriorityHigh)
			})
		})

		Convey("When a task is disabled", func() {
			fn, runs := counter()
			h.s.ScheduleTask("overlay", fn, PriorityLow, 2)
			h.s.DisableTask("overlay")
			h.frames(4, frame60)

			Convey("Then it never runs but keeps accruing skipped frames", func() {
				So(runs(), ShouldEqual, 0)
				info, _ := h.s.TaskInfo("overlay")
				So(info.Enabled, ShouldBeFalse)
				So(info.FramesSinceRun, ShouldEqual, 4)
			})

			Convey("Then enabling lets it run again", func() {
				h.s.EnableTask("overlay")
				h.frames(1, frame60)
				So(runs(), ShouldEqual, 1)
			})
		})

		Convey("When operations name unknown tasks", func() {
			So(func() {
				h.s.UnscheduleTask("missing")
				h.s.EnableTask("missing")
				h.s.DisableTask("missing")
			}, ShouldNotPanic)
			_, ok := h.s.TaskInfo("missing")
			So(ok, ShouldBeFalse)
		})

		Convey("When a task mutates the table from its own callback", func() {
			added, addedRuns := counter()
			selfRuns := 0
			h.s.ScheduleTask("self", func(context.Context, FrameInfo) error {
				selfRuns++
				h.s.ScheduleTask("added", added, PriorityLow, 0)
				h.s.UnscheduleTask("self")
				return nil
			}, PriorityHigh, 0)
			h.frames(1, frame60)

			Convey("Then the change applies from the next frame", func() {
				So(selfRuns, ShouldEqual, 1)
				So(addedRuns(), ShouldEqual, 0)

				h.frames(1, frame60)
				So(selfRuns, ShouldEqual, 1)
				So(addedRuns(), ShouldEqual, 1)
				_, ok := h.s.TaskInfo("self")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a task adds a task and the host removes it between frames", func() {
			added, addedRuns := counter()
			h.s.ScheduleTask("adder", func(context.Context, FrameInfo) error {
				h.s.ScheduleTask("x", added, PriorityNormal, 0)
				h.s.UnscheduleTask("adder")
				return nil
			}, PriorityHigh, 0)
			h.frames(1, frame60)

			_, ok := h.s.TaskInfo("x")
			So(ok, ShouldBeTrue)
			h.s.UnscheduleTask("x")
			h.frames(3, frame60)

			Convey("Then the host's removal wins", func() {
				_, ok := h.s.TaskInfo("x")
				So(ok, ShouldBeFalse)
				So(addedRuns(), ShouldEqual, 0)
			})
		})

		Convey("When a task changes the table and then stops the scheduler", func() {
			h.s.ScheduleTask("closer", func(context.Context, FrameInfo) error {
				h.s.DisableTask("closer")
				h.s.Stop()
				return nil
			}, PriorityCritical, 0)
			h.frames(1, frame60)

			Convey("Then the change is visible without another frame", func() {
				info, ok := h.s.TaskInfo("closer")
				So(ok, ShouldBeTrue)
				So(info.Enabled, ShouldBeFalse)
			})
		})

		Convey("When a task stops the scheduler", func() {
			later, laterRuns := counter()
			h.s.ScheduleTask("stopper", func(context.Context, FrameInfo) error {
				h.s.Stop()
				return nil
			}, PriorityCritical, 0)
			h.s.ScheduleTask("later", later, PriorityLow, 0)
			h.frames(2, frame60)

			Convey("Then the rest of the frame is abandoned and no frame is requested", func() {
				So(laterRuns(), ShouldEqual, 0)
				So(h.s.IsRunning(), ShouldBeFalse)
				So(h.vs.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestScheduler_Failures(t *testing.T) {
	_ = logger.Init()

	Convey("Given failing and panicking tasks next to a healthy one", t, func() {
		h := newHarness()
		healthy, healthyRuns := counter()
		h.s.ScheduleTask("fails", func(context.Context, FrameInfo) error {
			return errors.New("render target lost")
		}, PriorityHigh, 0)
		h.s.ScheduleTask("panics", func(context.Context, FrameInfo) error {
			panic("nil texture")
		}, PriorityHigh, 0)
		h.s.ScheduleTask("healthy", healthy, PriorityNormal, 0)
		h.s.Start(context.Background())

		So(func() { h.frames(2, frame60) }, ShouldNotPanic)

		Convey("Then failures are counted and isolated", func() {
			So(healthyRuns(), ShouldEqual, 2)
			So(h.s.Metrics().TaskErrors, ShouldEqual, 4)
			info, _ := h.s.TaskInfo("panics")
			So(info.Errors, ShouldEqual, 2)
			So(h.s.IsRunning(), ShouldBeTrue)
		})
	})

	Convey("Given a panicking task function", t, func() {
		h := newHarness()
		err := h.s.call(context.Background(), func(context.Context, FrameInfo) error { panic("x") }, FrameInfo{})
		So(errors.Is(err, ErrTaskPanicked), ShouldBeTrue)
	})
}

func TestScheduler_RunOnce(t *testing.T) {
	_ = logger.Init()

	Convey("Given a scheduler processing two one-time callbacks per frame", t, func() {
		h := newHarness(WithMaxOncePerFrame(2))
		var order []string
		once := func(name string) TaskFunc {
			return func(context.Context, FrameInfo) error {
				order = append(order, name)
				return nil
			}
		}
		h.s.RunOnce(once("a"), PriorityLow)
		h.s.RunOnce(once("b"), PriorityHigh)
		h.s.RunOnce(once("c"), PriorityNormal)
		h.s.Start(context.Background())

		Convey("When two frames run", func() {
			h.frames(1, frame60)
			So(order, ShouldResemble, []string{"b", "c"})
			So(h.s.Metrics().OncePending, ShouldEqual, 1)
			h.frames(1, frame60)

			Convey("Then the overflow ran in the following frame, once", func() {
				So(order, ShouldResemble, []string{"b", "c", "a"})
				h.frames(1, frame60)
				So(order, ShouldHaveLength, 3)
				So(h.s.Metrics().OnceExecuted, ShouldEqual, 3)
			})
		})
	})

	Convey("Given a frame whose budget is spent by a critical task", t, func() {
		h := newHarness()
		h.s.ScheduleTask("heavy", burn(h.clock, 20*time.Millisecond), PriorityCritical, 0)
		var order []string
		h.s.RunOnce(func(context.Context, FrameInfo) error { order = append(order, "low"); return nil }, PriorityLow)
		h.s.RunOnce(func(context.Context, FrameInfo) error { order = append(order, "critical"); return nil }, PriorityCritical)
		h.s.Start(context.Background())
		h.frames(1, frame60)

		Convey("Then only the critical one-time callback runs", func() {
			So(order, ShouldResemble, []string{"critical"})
			So(h.s.Metrics().OncePending, ShouldEqual, 1)
		})
	})
}

func TestScheduler_FrameRate(t *testing.T) {
	_ = logger.Init()

	Convey("Given a scheduler with a minimum of 30 fps", t, func() {
		h := newHarness(WithMinFPS(30))

		Convey("Then target rates are clamped", func() {
			h.s.SetTargetFPS(500)
			So(h.s.TargetFPS(), ShouldEqual, MaxFPS)
			h.s.SetTargetFPS(1)
			So(h.s.TargetFPS(), ShouldEqual, 30)
			h.s.SetTargetFPS(90)
			So(h.s.TargetFPS(), ShouldEqual, 90)
			So(h.s.BudgetMs(), ShouldAlmostEqual, 1000.0/90, 1e-9)
		})

		Convey("Then battery saver caps the rate", func() {
			h.s.UpdateConfig(WithBatterySaver(true))
			So(h.s.TargetFPS(), ShouldEqual, BatterySaverFPS)
			So(h.s.BudgetMs(), ShouldAlmostEqual, 1000.0/30, 1e-9)
		})

		Convey("Then a fixed budget overrides the derived one", func() {
			h.s.UpdateConfig(WithFrameBudget(10 * time.Millisecond))
			So(h.s.BudgetMs(), ShouldEqual, 10)
			So(h.s.TargetFPS(), ShouldEqual, 60)
		})
	})

	Convey("Given a rate listener", t, func() {
		var rates []int
		h := newHarness(WithRateListener(func(fps int) { rates = append(rates, fps) }))

		Convey("Then it hears the initial rate and every change", func() {
			h.s.SetTargetFPS(90)
			h.s.SetTargetFPS(90)
			h.s.UpdateConfig(WithBatterySaver(true))
			So(rates, ShouldResemble, []int{60, 90, BatterySaverFPS})
		})
	})

	Convey("Given adaptive tuning with a rate listener", t, func() {
		var rates []int
		h := newHarness(WithTargetFPS(60), WithMinFPS(30),
			WithRateListener(func(fps int) { rates = append(rates, fps) }))
		h.s.UpdateConfig(WithAdaptiveFrameRate(true))
		h.s.ScheduleTask("load", burn(h.clock, 15*time.Millisecond), PriorityCritical, 0)
		h.s.Start(context.Background())
		h.frames(adaptWindow, 20*time.Millisecond)

		Convey("Then the listener hears the lowered rate in the same frame", func() {
			So(rates, ShouldResemble, []int{60, 50})
		})
	})

	Convey("Given adaptive tuning under sustained load", t, func() {
		h := newHarness(WithTargetFPS(60), WithMinFPS(30))
		h.s.UpdateConfig(WithAdaptiveFrameRate(true))
		load := 15 * time.Millisecond
		var mu sync.Mutex
		h.s.ScheduleTask("load", func(context.Context, FrameInfo) error {
			mu.Lock()
			d := load
			mu.Unlock()
			h.clock.Advance(d)
			return nil
		}, PriorityCritical, 0)
		h.s.Start(context.Background())

		Convey("When utilization stays high for a full window", func() {
			h.frames(adaptWindow, 20*time.Millisecond)

			Convey("Then the target drops by one step", func() {
				So(h.s.TargetFPS(), ShouldEqual, 50)
			})

			Convey("Then a source following the new rate sees no dropped frames", func() {
				dropped := h.s.Metrics().DroppedFrames
				h.frames(10, 20*time.Millisecond)
				So(h.s.Metrics().DroppedFrames, ShouldEqual, dropped)
			})

			Convey("Then low utilization raises it back after another window", func() {
				mu.Lock()
				load = 0
				mu.Unlock()
				h.frames(adaptWindow-1, 20*time.Millisecond)
				So(h.s.TargetFPS(), ShouldEqual, 50)
				h.frames(1, 20*time.Millisecond)
				So(h.s.TargetFPS(), ShouldEqual, 60)
			})
		})
	})
}
