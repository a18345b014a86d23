// Package model contains domain models passed between the input and frame layers.
package model

import (
	"time"

	"github.com/golang/geo/r2"
)

// EventKind classifies a normalized input sample.
type EventKind int

// Input sample kinds.
const (
	KindStart EventKind = iota
	KindMove
	KindEnd
	KindCancel
)

// String returns the lowercase kind name used in logs and metric labels.
func (k EventKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindMove:
		return "move"
	case KindEnd:
		return "end"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// IsBoundary reports whether the kind opens or closes a contact.
func (k EventKind) IsBoundary() bool {
	return k == KindStart || k == KindEnd || k == KindCancel
}

// TimedEvent is one normalized input sample.
type TimedEvent struct {
	PointerID int       // platform contact id
	Kind      EventKind // start, move, end or cancel
	Pos       r2.Point  // canonical position in pixels
	TS        time.Time // platform timestamp
}

// TouchNotification is what subscribers of the reducer receive.
// Cancelled contacts are delivered with Kind KindEnd and Cancelled set.
type TouchNotification struct {
	TimedEvent
	Velocity  r2.Point // pixels per second at the time of the sample
	Cancelled bool
}

// TrackedTouch is one active contact owned by the reducer.
type TrackedTouch struct {
	ID         int
	Pos        r2.Point
	Velocity   r2.Point
	LastUpdate time.Time
}
