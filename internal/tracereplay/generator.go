package tracereplay

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"github.com/okian/cadence/internal/adapters/input"
	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/pkg/logger"
)

// kindNames maps trace kind names back to event kinds.
var kindNames = map[string]model.EventKind{ //nolint:gochecknoglobals // read-only lookup
	model.KindStart.String():  model.KindStart,
	model.KindMove.String():   model.KindMove,
	model.KindEnd.String():    model.KindEnd,
	model.KindCancel.String(): model.KindCancel,
}

// generator produces reproducible gestures. Gesture and trace ids are drawn
// from the same seeded stream as the geometry.
type generator struct {
	src *rand.ChaCha8
	rng *rand.Rand
}

func newGenerator(seed uint64) *generator {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	src := rand.NewChaCha8(key)
	return &generator{src: src, rng: rand.New(src)}
}

func (g *generator) id() string {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// generateTrace creates the configured number of gestures and merges them into
// one timeline ordered by offset.
func generateTrace(ctx context.Context, config *Config, stats *Stats) (*Trace, error) {
	logger.Get().Info(ctx, "generating synthetic gestures",
		logger.Int("gestures", config.Gestures),
		logger.Int("movesPerGesture", config.MovesPerGesture),
		logger.Uint64("seed", config.Seed))

	g := newGenerator(config.Seed)
	trace := &Trace{ID: g.id(), Seed: config.Seed, Gestures: config.Gestures}

	nominal := time.Duration(config.MovesPerGesture+1) * (minMoveInterval + maxMoveInterval) / 2
	spacing := nominal / time.Duration(config.Concurrent)

	events := make([]TraceEvent, 0, config.Gestures*(config.MovesPerGesture+2))
	for i := 0; i < config.Gestures; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during gesture generation: %w", err)
		}
		events = append(events, g.gesture(config, i+1, time.Duration(i)*spacing)...)
	}
	// Stable so a gesture's same-offset moves keep their order.
	sort.SliceStable(events, func(i, j int) bool { return events[i].OffsetUs < events[j].OffsetUs })
	trace.Events = events

	stats.GesturesGenerated = config.Gestures
	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated trace",
		logger.String("trace", trace.ID),
		logger.Int("events", len(events)))
	return trace, nil
}

// gesture produces start, moves and a closing end or cancel for one contact.
func (g *generator) gesture(config *Config, pointerID int, start time.Duration) []TraceEvent {
	id := g.id()
	pos := r2.Point{X: g.rng.Float64() * surfaceSize, Y: g.rng.Float64() * surfaceSize}
	heading := g.rng.Float64() * 2 * math.Pi
	speed := minSpeed + g.rng.Float64()*(maxSpeed-minSpeed)
	at := start

	out := make([]TraceEvent, 0, config.MovesPerGesture+2)
	out = append(out, traceEvent(id, pointerID, model.KindStart, pos, at))

	for m := 0; m < config.MovesPerGesture; m++ {
		dt := minMoveInterval + time.Duration(g.rng.Int64N(int64(maxMoveInterval-minMoveInterval)+1))
		heading += (g.rng.Float64()*2 - 1) * turnRadians
		step := r2.Point{X: math.Cos(heading), Y: math.Sin(heading)}.Mul(speed * dt.Seconds())
		prev := pos
		pos = pos.Add(step)
		at += dt

		ev := traceEvent(id, pointerID, model.KindMove, pos, at)
		if config.Coalesced {
			ev.Coalesced = coalescedSamples(prev, pos, at-dt, dt)
		}
		if config.Predicted {
			ahead := pos.Add(step.Mul(float64(predictedAhead) / float64(dt)))
			ev.Predicted = []SubSample{subSample(ahead, at+predictedAhead)}
		}
		out = append(out, ev)

		if g.rng.Float64() < config.ZeroDeltaRate {
			jitter := r2.Point{
				X: (g.rng.Float64()*2 - 1) * zeroDeltaJitter,
				Y: (g.rng.Float64()*2 - 1) * zeroDeltaJitter,
			}
			out = append(out, traceEvent(id, pointerID, model.KindMove, pos.Add(jitter), at))
		}
	}

	kind := model.KindEnd
	if g.rng.Float64() < config.CancelRate {
		kind = model.KindCancel
	}
	out = append(out, traceEvent(id, pointerID, kind, pos, at+minMoveInterval))
	return out
}

// coalescedSamples splits the segment prev->next into evenly spaced hardware
// samples. The last one coincides with the dispatched move.
func coalescedSamples(prev, next r2.Point, from, dt time.Duration) []SubSample {
	out := make([]SubSample, 0, coalescedPerMove)
	for i := 1; i <= coalescedPerMove; i++ {
		f := float64(i) / coalescedPerMove
		pos := prev.Add(next.Sub(prev).Mul(f))
		at := from + time.Duration(f*float64(dt))
		if i == coalescedPerMove {
			pos, at = next, from+dt
		}
		out = append(out, subSample(pos, at))
	}
	return out
}

func traceEvent(gestureID string, pointerID int, kind model.EventKind, pos r2.Point, at time.Duration) TraceEvent {
	return TraceEvent{
		GestureID: gestureID,
		PointerID: pointerID,
		Kind:      kind.String(),
		X:         pos.X,
		Y:         pos.Y,
		OffsetUs:  at.Microseconds(),
	}
}

func subSample(pos r2.Point, at time.Duration) SubSample {
	return SubSample{X: pos.X, Y: pos.Y, OffsetUs: at.Microseconds()}
}

// toSample converts a trace event to a reducer input anchored at base.
func toSample(base time.Time, e TraceEvent) (input.Sample, error) {
	kind, ok := kindNames[e.Kind]
	if !ok {
		return input.Sample{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	s := input.NewSample(e.PointerID, kind, e.X, e.Y, offsetTime(base, e.OffsetUs))
	s.Coalesced = subEvents(base, e.PointerID, e.Coalesced)
	s.Predicted = subEvents(base, e.PointerID, e.Predicted)
	return s, nil
}

func subEvents(base time.Time, pointerID int, subs []SubSample) []model.TimedEvent {
	if len(subs) == 0 {
		return nil
	}
	out := make([]model.TimedEvent, len(subs))
	for i, s := range subs {
		out[i] = model.TimedEvent{
			PointerID: pointerID,
			Kind:      model.KindMove,
			Pos:       r2.Point{X: s.X, Y: s.Y},
			TS:        offsetTime(base, s.OffsetUs),
		}
	}
	return out
}

func offsetTime(base time.Time, us int64) time.Time {
	return base.Add(time.Duration(us) * time.Microsecond)
}
