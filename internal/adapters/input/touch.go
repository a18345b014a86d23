package input

import (
	"time"

	"github.com/golang/geo/r2"
	"github.com/okian/cadence/internal/domain/model"
)

// Touch event type names.
const (
	TouchStart  = "touchstart"
	TouchMove   = "touchmove"
	TouchEnd    = "touchend"
	TouchCancel = "touchcancel"
)

// Touch is one contact point of a TouchEvent.
type Touch struct {
	Identifier int
	ClientX    float64
	ClientY    float64
}

// TouchEvent mirrors a platform touch event. Only the first changed touch is
// reduced; touch platforms expose no coalesced or predicted samples.
type TouchEvent struct {
	Type           string
	ChangedTouches []Touch
	TimeStamp      time.Time
}

var touchKinds = map[string]model.EventKind{ //nolint:gochecknoglobals // read-only lookup
	TouchStart:  model.KindStart,
	TouchMove:   model.KindMove,
	TouchEnd:    model.KindEnd,
	TouchCancel: model.KindCancel,
}

// Canonical implements Event.
func (t TouchEvent) Canonical() (model.TimedEvent, bool) {
	kind, ok := touchKinds[t.Type]
	if !ok || len(t.ChangedTouches) == 0 {
		return model.TimedEvent{}, false
	}
	first := t.ChangedTouches[0]
	e := model.TimedEvent{
		PointerID: first.Identifier,
		Kind:      kind,
		Pos:       r2.Point{X: first.ClientX, Y: first.ClientY},
		TS:        t.TimeStamp,
	}
	if !validSample(e) {
		return model.TimedEvent{}, false
	}
	return e, true
}
