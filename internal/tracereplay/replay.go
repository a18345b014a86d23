package tracereplay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"

	"github.com/okian/cadence/internal/adapters/display/vsync"
	"github.com/okian/cadence/internal/adapters/input"
	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/internal/reducer"
	"github.com/okian/cadence/internal/scheduler"
	"github.com/okian/cadence/pkg/logger"
)

// replayBase anchors trace offsets. The replay never reads the wall clock.
var replayBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed epoch

// simClock is advanced by the replay loop only.
type simClock struct{ now time.Time }

func (c *simClock) Now() time.Time { return c.now }

// result is what a replay observed.
type result struct {
	Gestures       int
	EventsReplayed int
	FramesFired    int
	Notifications  int
	Starts         int
	Ends           int
	Cancels        int
	NonFinite      int
	SamplerRuns    uint64
	FrameGaps      int
	MaxQueueLength int
	Leftover       int
	Reducer        reducer.Metrics
	Scheduler      scheduler.Metrics
	Sampler        scheduler.TaskInfo
}

// replay feeds the trace through a reducer and a scheduler on a simulated
// display. Events due before a frame are processed before that frame fires;
// in queued mode the queue is flushed right before each frame.
func replay(ctx context.Context, config *Config, trace *Trace) (*result, error) {
	samples := make([]input.Sample, len(trace.Events))
	offsets := make([]time.Duration, len(trace.Events))
	for i, e := range trace.Events {
		s, err := toSample(replayBase, e)
		if err != nil {
			return nil, fmt.Errorf("trace event %d: %w", i, err)
		}
		samples[i] = s
		offsets[i] = time.Duration(e.OffsetUs) * time.Microsecond
	}

	log := logger.Get().Named("tracereplay")
	clock := &simClock{now: replayBase}
	res := &result{Gestures: trace.Gestures}
	queued := config.Mode == ModeQueued

	r := reducer.New(
		reducer.WithImmediateFeedback(!queued),
		reducer.WithMaxQueueSize(config.MaxQueueSize),
		reducer.WithClock(clock.Now),
		reducer.WithLogger(log.Named("reducer")),
	)
	defer r.Dispose()

	sub := r.OnTouch(func(n model.TouchNotification) {
		res.Notifications++
		switch {
		case n.Kind == model.KindStart:
			res.Starts++
		case n.Kind == model.KindEnd && n.Cancelled:
			res.Cancels++
		case n.Kind == model.KindEnd:
			res.Ends++
		}
		if !finitePoint(n.Velocity) {
			res.NonFinite++
		}
	})
	defer sub.Unsubscribe()

	display := vsync.NewManual()
	sch := scheduler.New(display,
		scheduler.WithTargetFPS(config.TargetFPS),
		scheduler.WithAdaptiveFrameRate(false),
		scheduler.WithClock(clock.Now),
		scheduler.WithLogger(log.Named("scheduler")),
	)
	var lastFrame uint64
	sch.ScheduleTask(SamplerTask, func(_ context.Context, info scheduler.FrameInfo) error {
		res.SamplerRuns++
		if lastFrame != 0 && info.FrameNumber != lastFrame+1 {
			res.FrameGaps++
		}
		lastFrame = info.FrameNumber
		if pos, ok := r.GetPredictedPosition(info.BudgetMs); ok && !finitePoint(pos) {
			res.NonFinite++
		}
		if !finitePoint(r.Velocity()) {
			res.NonFinite++
		}
		return nil
	}, scheduler.PriorityCritical, 0)
	sch.Start(ctx)
	defer sch.Stop()

	interval := time.Second / time.Duration(sch.TargetFPS())
	frameAt := interval
	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during replay: %w", err)
		}
		for next < len(samples) && offsets[next] <= frameAt {
			clock.now = replayBase.Add(offsets[next])
			r.ProcessEvent(samples[next])
			next++
			res.EventsReplayed++
			if queued {
				if n := r.Metrics().QueueLength; n > res.MaxQueueLength {
					res.MaxQueueLength = n
				}
			}
		}

		clock.now = replayBase.Add(frameAt)
		if queued {
			r.FlushQueue()
		}
		display.Fire(clock.now)
		res.FramesFired++

		if next == len(samples) {
			break
		}
		frameAt += interval
	}

	res.Leftover = r.ActiveTouches()
	res.Reducer = r.Metrics()
	res.Scheduler = sch.Metrics()
	res.Sampler, _ = sch.TaskInfo(SamplerTask)
	return res, nil
}

func finitePoint(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
