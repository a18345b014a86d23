package tracereplay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/internal/reducer"
	"github.com/okian/cadence/internal/scheduler"
	"github.com/okian/cadence/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func smallConfig(dir string) *Config {
	c := DefaultConfig()
	c.Gestures = 12
	c.MovesPerGesture = 15
	c.OutputFile = filepath.Join(dir, "trace.json")
	return c
}

func TestConfig_Validate(t *testing.T) {
	Convey("Given the default replay configuration", t, func() {
		c := DefaultConfig()

		Convey("It should be valid", func() {
			So(c.Validate(), ShouldBeNil)
		})

		Convey("It should reject an unknown mode", func() {
			c.Mode = "batch"
			So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("It should reject out-of-range rates", func() {
			c.ZeroDeltaRate = 1.5
			So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("It should reject a non-positive gesture count", func() {
			c.Gestures = 0
			So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("It should not need generator settings when replaying a file", func() {
			c.Gestures = 0
			c.InputFile = "trace.json"
			So(c.Validate(), ShouldBeNil)
		})
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		ctx := context.Background()
		c := DefaultConfig()
		c.Gestures = 5
		c.MovesPerGesture = 10
		c.ZeroDeltaRate = 0.5

		a, err := generateTrace(ctx, c, &Stats{})
		So(err, ShouldBeNil)

		Convey("The same seed should give the same trace", func() {
			b, err := generateTrace(ctx, c, &Stats{})
			So(err, ShouldBeNil)
			So(b.ID, ShouldEqual, a.ID)
			So(b.Events, ShouldResemble, a.Events)
		})

		Convey("A different seed should give a different trace", func() {
			c.Seed = 99
			b, err := generateTrace(ctx, c, &Stats{})
			So(err, ShouldBeNil)
			So(b.ID, ShouldNotEqual, a.ID)
		})

		Convey("Events should be ordered by offset", func() {
			for i := 1; i < len(a.Events); i++ {
				So(a.Events[i].OffsetUs, ShouldBeGreaterThanOrEqualTo, a.Events[i-1].OffsetUs)
			}
		})

		Convey("Every gesture should open with a start and close exactly once", func() {
			first := map[string]string{}
			last := map[string]string{}
			closes := map[string]int{}
			for _, e := range a.Events {
				if _, ok := first[e.GestureID]; !ok {
					first[e.GestureID] = e.Kind
				}
				last[e.GestureID] = e.Kind
				if e.Kind == model.KindEnd.String() || e.Kind == model.KindCancel.String() {
					closes[e.GestureID]++
				}
			}
			So(len(first), ShouldEqual, c.Gestures)
			for id, kind := range first {
				So(kind, ShouldEqual, model.KindStart.String())
				So(last[id], ShouldBeIn, model.KindEnd.String(), model.KindCancel.String())
				So(closes[id], ShouldEqual, 1)
			}
		})

		Convey("The last coalesced sample of a move should coincide with it", func() {
			for _, e := range a.Events {
				if len(e.Coalesced) == 0 {
					continue
				}
				tail := e.Coalesced[len(e.Coalesced)-1]
				So(tail.OffsetUs, ShouldEqual, e.OffsetUs)
				So(tail.X, ShouldEqual, e.X)
				So(tail.Y, ShouldEqual, e.Y)
			}
		})

		Convey("Zero-delta moves should be present at a high rate", func() {
			dup := 0
			for i := 1; i < len(a.Events); i++ {
				p, e := a.Events[i-1], a.Events[i]
				if p.GestureID == e.GestureID && p.Kind == "move" && e.Kind == "move" && p.OffsetUs == e.OffsetUs {
					dup++
				}
			}
			So(dup, ShouldBeGreaterThan, 0)
		})
	})

	Convey("Given a trace event of an unknown kind", t, func() {
		_, err := toSample(replayBase, TraceEvent{Kind: "hover"})

		Convey("It should not convert", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given an immediate-mode replay", t, func() {
		ctx := context.Background()
		c := smallConfig(t.TempDir())

		stats, err := Run(ctx, c)

		Convey("It should pass verification", func() {
			So(err, ShouldBeNil)
			So(stats.EventsReplayed, ShouldEqual, stats.EventsGenerated)
			So(stats.SamplerRuns, ShouldEqual, stats.Frames)
			So(stats.Frames, ShouldBeGreaterThan, 0)
			So(stats.DroppedFrames, ShouldEqual, 0)
			So(stats.CoalescedEventsUsed, ShouldBeGreaterThan, 0)
			So(stats.PredictedEventsUsed, ShouldBeGreaterThan, 0)
			So(stats.EventsQueued, ShouldEqual, 0)
		})

		Convey("It should save a trace that replays identically", func() {
			_, statErr := os.Stat(c.OutputFile)
			So(statErr, ShouldBeNil)

			trace, err := LoadTrace(c.OutputFile)
			So(err, ShouldBeNil)
			So(trace.Gestures, ShouldEqual, c.Gestures)

			again := *c
			again.InputFile = c.OutputFile
			again.Gestures = 0
			replayed, err := Run(ctx, &again)
			So(err, ShouldBeNil)
			So(replayed.EventsProcessed, ShouldEqual, stats.EventsProcessed)
			So(replayed.Frames, ShouldEqual, stats.Frames)
		})
	})

	Convey("Given a queued-mode replay with a small queue", t, func() {
		c := smallConfig(t.TempDir())
		c.Mode = ModeQueued
		c.MaxQueueSize = 4
		c.Concurrent = 6

		stats, err := Run(context.Background(), c)

		Convey("It should stay within the queue bound and still pass", func() {
			So(err, ShouldBeNil)
			So(stats.MaxQueueLength, ShouldBeLessThanOrEqualTo, 4)
			So(stats.EventsQueued, ShouldBeGreaterThan, 0)
			So(stats.EventsEvicted, ShouldBeGreaterThan, 0)
			So(stats.SamplerRuns, ShouldEqual, stats.Frames)
		})
	})

	Convey("Given an invalid configuration", t, func() {
		c := DefaultConfig()
		c.Mode = "batch"
		_, err := Run(context.Background(), c)

		Convey("Run should refuse it", func() {
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, smallConfig(t.TempDir()))

		Convey("Run should stop with the context error", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})

	Convey("Given a missing input trace", t, func() {
		c := DefaultConfig()
		c.InputFile = filepath.Join(t.TempDir(), "missing.json")
		_, err := Run(context.Background(), c)

		Convey("Run should fail", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestVerifyReplay(t *testing.T) {
	Convey("Given a replay result that breaks invariants", t, func() {
		c := DefaultConfig()
		res := &result{
			Gestures:       2,
			Starts:         2,
			Ends:           1,
			Leftover:       1,
			MaxQueueLength: c.MaxQueueSize + 1,
			SamplerRuns:    9,
			FramesFired:    10,
			Reducer:        reducer.Metrics{},
			Scheduler:      scheduler.Metrics{TotalFrames: 10},
		}

		err := verifyReplay(context.Background(), c, res)

		Convey("It should report every violation", func() {
			So(errors.Is(err, ErrVerification), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "still active")
			So(err.Error(), ShouldContainSubstring, "capacity")
			So(err.Error(), ShouldContainSubstring, "critical task ran 9 times")
			So(err.Error(), ShouldContainSubstring, "end notifications")
		})
	})

	Convey("Given a clean replay result", t, func() {
		res := &result{
			Gestures:    1,
			Starts:      1,
			Cancels:     1,
			SamplerRuns: 3,
			FramesFired: 3,
			Scheduler:   scheduler.Metrics{TotalFrames: 3},
		}

		Convey("It should pass", func() {
			So(verifyReplay(context.Background(), DefaultConfig(), res), ShouldBeNil)
		})
	})
}
