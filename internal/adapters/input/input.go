// Package input adapts platform pointer and touch events to canonical samples.
//
// The reducer only sees the Event interface. Platform variants implement it and may
// additionally implement CoalescedSource or PredictedSource when the platform exposes
// sub-samples; callers probe those capabilities through Coalesced and Predicted,
// which never fail.
package input

import (
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/okian/cadence/internal/domain/model"
)

// Event is a platform input event that reduces to one canonical sample.
type Event interface {
	// Canonical returns the normalized sample, or false when the payload is malformed.
	Canonical() (model.TimedEvent, bool)
}

// CoalescedSource exposes hardware samples batched into one dispatched event.
type CoalescedSource interface {
	CoalescedEvents() ([]model.TimedEvent, error)
}

// PredictedSource exposes platform-estimated near-future samples.
type PredictedSource interface {
	PredictedEvents() ([]model.TimedEvent, error)
}

// Coalesced returns the valid coalesced samples of ev in chronological order.
// Missing capability, errors and panics all yield nil.
func Coalesced(ev Event) []model.TimedEvent {
	src, ok := ev.(CoalescedSource)
	if !ok {
		return nil
	}
	return probe(src.CoalescedEvents)
}

// Predicted returns the valid predicted samples of ev in chronological order.
// Missing capability, errors and panics all yield nil.
func Predicted(ev Event) []model.TimedEvent {
	src, ok := ev.(PredictedSource)
	if !ok {
		return nil
	}
	return probe(src.PredictedEvents)
}

func probe(fn func() ([]model.TimedEvent, error)) (out []model.TimedEvent) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()

	events, err := fn()
	if err != nil || len(events) == 0 {
		return nil
	}

	out = make([]model.TimedEvent, 0, len(events))
	for _, e := range events {
		if validSample(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	if len(out) == 0 {
		return nil
	}
	return out
}

func validSample(e model.TimedEvent) bool {
	return !e.TS.IsZero() && finite(e.Pos.X) && finite(e.Pos.Y)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Sample is a platform-neutral event, used by hosts that already normalize input
// and by the trace replayer.
type Sample struct {
	model.TimedEvent
	Coalesced []model.TimedEvent
	Predicted []model.TimedEvent
}

// Canonical implements Event.
func (s Sample) Canonical() (model.TimedEvent, bool) {
	if !validSample(s.TimedEvent) || s.Kind < model.KindStart || s.Kind > model.KindCancel {
		return model.TimedEvent{}, false
	}
	return s.TimedEvent, true
}

// CoalescedEvents implements CoalescedSource.
func (s Sample) CoalescedEvents() ([]model.TimedEvent, error) { return s.Coalesced, nil }

// PredictedEvents implements PredictedSource.
func (s Sample) PredictedEvents() ([]model.TimedEvent, error) { return s.Predicted, nil }

// NewSample builds a Sample at (x, y).
func NewSample(pointerID int, kind model.EventKind, x, y float64, ts time.Time) Sample {
	return Sample{TimedEvent: model.TimedEvent{
		PointerID: pointerID,
		Kind:      kind,
		Pos:       r2.Point{X: x, Y: y},
		TS:        ts,
	}}
}
