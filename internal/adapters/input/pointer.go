package input

import (
	"time"

	"github.com/golang/geo/r2"
	"github.com/okian/cadence/internal/domain/model"
)

// Pointer event type names.
const (
	PointerDown   = "pointerdown"
	PointerMove   = "pointermove"
	PointerUp     = "pointerup"
	PointerCancel = "pointercancel"
)

// PointerEvent mirrors a platform pointer event. The accessor funcs are optional;
// platforms without coalesced or predicted support leave them nil.
type PointerEvent struct {
	Type      string
	PointerID int
	ClientX   float64
	ClientY   float64
	TimeStamp time.Time

	GetCoalescedEvents func() ([]PointerEvent, error)
	GetPredictedEvents func() ([]PointerEvent, error)
}

var pointerKinds = map[string]model.EventKind{ //nolint:gochecknoglobals // read-only lookup
	PointerDown:   model.KindStart,
	PointerMove:   model.KindMove,
	PointerUp:     model.KindEnd,
	PointerCancel: model.KindCancel,
}

// Canonical implements Event.
func (p PointerEvent) Canonical() (model.TimedEvent, bool) {
	kind, ok := pointerKinds[p.Type]
	if !ok {
		return model.TimedEvent{}, false
	}
	e := p.sample(kind)
	if !validSample(e) {
		return model.TimedEvent{}, false
	}
	return e, true
}

func (p PointerEvent) sample(kind model.EventKind) model.TimedEvent {
	return model.TimedEvent{
		PointerID: p.PointerID,
		Kind:      kind,
		Pos:       r2.Point{X: p.ClientX, Y: p.ClientY},
		TS:        p.TimeStamp,
	}
}

// CoalescedEvents implements CoalescedSource.
func (p PointerEvent) CoalescedEvents() ([]model.TimedEvent, error) {
	return p.subSamples(p.GetCoalescedEvents)
}

// PredictedEvents implements PredictedSource.
func (p PointerEvent) PredictedEvents() ([]model.TimedEvent, error) {
	return p.subSamples(p.GetPredictedEvents)
}

// subSamples converts platform sub-events to move samples of this pointer.
func (p PointerEvent) subSamples(get func() ([]PointerEvent, error)) ([]model.TimedEvent, error) {
	if get == nil {
		return nil, nil
	}
	subs, err := get()
	if err != nil {
		return nil, err
	}
	out := make([]model.TimedEvent, len(subs))
	for i, s := range subs {
		s.PointerID = p.PointerID
		out[i] = s.sample(model.KindMove)
	}
	return out, nil
}
