// Package reducer turns platform pointer and touch events into a canonical
// position and velocity stream with as little added latency as possible.
//
// In immediate mode every processed sample reaches subscribers before
// ProcessEvent returns. In queued mode samples wait in a bounded deadline-aware
// queue until FlushQueue runs, either from the flush timer started by Start or
// from the host.
package reducer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/okian/cadence/internal/adapters/input"
	"github.com/okian/cadence/internal/adapters/input/queue"
	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/internal/domain/predict"
	"github.com/okian/cadence/internal/stats"
	"github.com/okian/cadence/pkg/logger"
	"github.com/okian/cadence/pkg/metrics"
)

// Handler receives touch notifications in delivery order.
type Handler func(model.TouchNotification)

// Metrics is a point-in-time view of the reducer counters.
type Metrics struct {
	EventsProcessed     uint64
	CoalescedEventsUsed uint64
	PredictedEventsUsed uint64
	EventsQueued        uint64
	EventsEvicted       uint64
	EventsExpired       uint64
	QueueLength         int
	ActiveTouches       int
	Latency             stats.Summary // milliseconds
}

type subscriber struct {
	id uint64
	fn Handler
}

// Reducer is safe for concurrent use. Handlers may call back into the reducer.
type Reducer struct {
	// configuration
	maxQueueSize         int
	eventDeadline        time.Duration
	immediate            bool
	useCoalesced         bool
	usePredicted         bool
	measureLatency       bool
	latencySampleSize    int
	smoothing            float64
	highPriorityVelocity float64
	flushInterval        time.Duration
	now                  func() time.Time
	logger               logger.Logger

	queue *queue.DeadlineQueue

	mu          sync.Mutex
	touches     map[int]*model.TrackedTouch
	velocity    r2.Point
	horizon     time.Duration
	latency     *stats.Window
	subscribers []subscriber
	nextSubID   uint64
	counters    Metrics
	disposed    bool

	// outbox keeps deliveries ordered when handlers or other goroutines
	// produce notifications while a delivery is in progress.
	outbox     []model.TouchNotification
	delivering bool

	timerMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a reducer with configuration options.
func New(opts ...Option) *Reducer {
	r := &Reducer{
		maxQueueSize:         DefaultMaxQueueSize,
		eventDeadline:        DefaultEventDeadline,
		immediate:            true,
		useCoalesced:         true,
		usePredicted:         true,
		measureLatency:       true,
		latencySampleSize:    DefaultLatencySampleSize,
		highPriorityVelocity: DefaultHighPriorityVelocity,
		flushInterval:        DefaultFlushInterval,
		now:                  time.Now,
		logger:               logger.Get().Named("reducer"),
		touches:              make(map[int]*model.TrackedTouch),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.latency = stats.NewWindow(r.latencySampleSize)
	r.queue = queue.New(queue.WithCapacity(r.maxQueueSize))
	return r
}

// ProcessEvent classifies ev and updates touch state. Malformed events are ignored.
func (r *Reducer) ProcessEvent(ev input.Event) {
	if ev == nil {
		return
	}
	sample, ok := ev.Canonical()
	if !ok {
		return
	}

	var coalesced, predicted []model.TimedEvent
	if sample.Kind == model.KindMove {
		if r.useCoalesced {
			coalesced = input.Coalesced(ev)
		}
		if r.usePredicted {
			predicted = input.Predicted(ev)
		}
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}

	note, ok := r.apply(sample, coalesced, predicted)
	if !ok {
		r.mu.Unlock()
		return
	}
	metrics.UpdateActiveTouches(len(r.touches))

	if !r.immediate {
		r.mu.Unlock()
		r.enqueue(note)
		return
	}
	r.recordLatency(note.TS)
	r.outbox = append(r.outbox, note)
	r.mu.Unlock()

	r.deliver()
}

// apply mutates touch state for one canonical sample. Must be called with mu held.
func (r *Reducer) apply(sample model.TimedEvent, coalesced, predicted []model.TimedEvent) (model.TouchNotification, bool) {
	switch sample.Kind {
	case model.KindStart:
		r.touches[sample.PointerID] = &model.TrackedTouch{
			ID:         sample.PointerID,
			Pos:        sample.Pos,
			LastUpdate: sample.TS,
		}
		r.velocity = r2.Point{}
		r.horizon = 0
		r.processed(model.KindStart, 1)
		return model.TouchNotification{TimedEvent: sample}, true

	case model.KindMove:
		touch, ok := r.touches[sample.PointerID]
		if !ok {
			return model.TouchNotification{}, false
		}

		// Sub-samples older than the touch's last update are stale.
		var tail *model.TimedEvent
		replayed := 0
		for i := range coalesced {
			sub := &coalesced[i]
			if sub.TS.After(sample.TS) {
				break
			}
			if sub.TS.Before(touch.LastUpdate) {
				continue
			}
			r.move(touch, sub.Pos, sub.TS)
			tail = sub
			replayed++
		}
		if replayed > 0 {
			r.counters.CoalescedEventsUsed += uint64(replayed)
			r.processed(model.KindMove, replayed)
			metrics.RecordCoalescedEvents(replayed)
		}

		// Coalesced lists usually end with the dispatched sample itself.
		if tail == nil || !tail.TS.Equal(sample.TS) || tail.Pos != sample.Pos {
			r.move(touch, sample.Pos, sample.TS)
			r.processed(model.KindMove, 1)
		}

		r.horizon = 0
		if len(predicted) > 0 {
			r.counters.PredictedEventsUsed += uint64(len(predicted))
			metrics.RecordPredictedEvents(len(predicted))
			if ahead := predicted[len(predicted)-1].TS.Sub(touch.LastUpdate); ahead > 0 {
				r.horizon = ahead
			}
		}

		return model.TouchNotification{
			TimedEvent: model.TimedEvent{PointerID: touch.ID, Kind: model.KindMove, Pos: touch.Pos, TS: touch.LastUpdate},
			Velocity:   touch.Velocity,
		}, true

	case model.KindEnd, model.KindCancel:
		touch, ok := r.touches[sample.PointerID]
		if !ok {
			return model.TouchNotification{}, false
		}
		delete(r.touches, sample.PointerID)
		r.velocity = r2.Point{}
		r.horizon = 0
		r.processed(sample.Kind, 1)

		pos := sample.Pos
		if sample.Kind == model.KindCancel {
			pos = touch.Pos
		}
		return model.TouchNotification{
			TimedEvent: model.TimedEvent{PointerID: sample.PointerID, Kind: model.KindEnd, Pos: pos, TS: sample.TS},
			Cancelled:  sample.Kind == model.KindCancel,
		}, true
	}
	return model.TouchNotification{}, false
}

// processed counts n applied samples of kind in both the snapshot counters
// and the Prometheus counter. Must be called with mu held.
func (r *Reducer) processed(kind model.EventKind, n int) {
	r.counters.EventsProcessed += uint64(n)
	for i := 0; i < n; i++ {
		metrics.RecordInputEvent(kind.String())
	}
}

// move must be called with mu held.
func (r *Reducer) move(touch *model.TrackedTouch, pos r2.Point, ts time.Time) {
	dt := ts.Sub(touch.LastUpdate).Seconds()
	v := predict.Velocity(touch.Pos, pos, dt)
	if dt > 0 {
		v = predict.Smooth(touch.Velocity, v, r.smoothing)
	}
	touch.Pos = pos
	touch.Velocity = v
	if ts.After(touch.LastUpdate) {
		touch.LastUpdate = ts
	}
	r.velocity = v
}

// recordLatency measures from the sample timestamp to delivery: at processing
// in immediate mode, at flush in queued mode. Must be called with mu held.
func (r *Reducer) recordLatency(ts time.Time) {
	if !r.measureLatency {
		return
	}
	ms := float64(r.now().Sub(ts)) / float64(time.Millisecond)
	if ms < 0 {
		return
	}
	r.latency.Add(ms)
	metrics.RecordInputLatency(ms)
}

func (r *Reducer) enqueue(note model.TouchNotification) {
	now := r.now()
	prio := queue.PriorityMove
	switch {
	case note.Kind.IsBoundary():
		prio = queue.PriorityBoundary
	case note.Velocity.Norm() > r.highPriorityVelocity:
		prio = queue.PriorityFastMove
	}

	outcome, dropped, err := r.queue.Push(queue.Entry{
		Notification: note,
		Priority:     prio,
		EnqueuedAt:   now,
		Deadline:     now.Add(r.eventDeadline),
	})
	if err != nil {
		r.logger.Debug(context.Background(), "sample dropped", logger.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case queue.Enqueued:
		r.counters.EventsQueued++
	case queue.EnqueuedWithEviction:
		r.counters.EventsQueued++
		r.counters.EventsEvicted++
		metrics.RecordInputQueueDrop("evicted")
		r.logger.Debug(context.Background(), "queued sample evicted",
			logger.Int("pointer", dropped.Notification.PointerID),
			logger.String("kind", dropped.Notification.Kind.String()))
	case queue.Rejected:
		r.counters.EventsEvicted++
		metrics.RecordInputQueueDrop("rejected")
	}
}

// FlushQueue delivers queued samples in arrival order, skipping expired moves.
func (r *Reducer) FlushQueue() {
	ready, expired := r.queue.Drain(r.now())

	r.mu.Lock()
	if len(expired) > 0 {
		r.counters.EventsExpired += uint64(len(expired))
		for range expired {
			metrics.RecordInputQueueDrop("expired")
		}
	}
	for _, e := range ready {
		r.recordLatency(e.Notification.TS)
		r.outbox = append(r.outbox, e.Notification)
	}
	r.mu.Unlock()

	r.deliver()
}

// deliver drains the outbox unless another call is already doing so.
func (r *Reducer) deliver() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true

	for len(r.outbox) > 0 {
		note := r.outbox[0]
		r.outbox = r.outbox[1:]
		subs := make([]subscriber, len(r.subscribers))
		copy(subs, r.subscribers)
		r.mu.Unlock()

		for _, s := range subs {
			r.call(s, note)
		}

		r.mu.Lock()
	}
	r.outbox = nil
	r.delivering = false
	r.mu.Unlock()
}

func (r *Reducer) call(s subscriber, note model.TouchNotification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(context.Background(), "touch handler panicked",
				logger.Uint64("subscriber", s.id),
				logger.String("panic", fmt.Sprint(rec)))
		}
	}()
	s.fn(note)
}

// Subscription cancels a handler registered with OnTouch.
type Subscription struct {
	r  *Reducer
	id uint64
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.r == nil {
		return
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for i, sub := range s.r.subscribers {
		if sub.id == s.id {
			s.r.subscribers = append(s.r.subscribers[:i:i], s.r.subscribers[i+1:]...)
			return
		}
	}
}

// OnTouch registers h. Handlers run in registration order.
func (r *Reducer) OnTouch(h Handler) Subscription {
	if h == nil {
		return Subscription{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	r.subscribers = append(r.subscribers, subscriber{id: r.nextSubID, fn: h})
	return Subscription{r: r, id: r.nextSubID}
}

// GetPredictedPosition extrapolates the most recently updated active touch
// lookaheadMs into the future. It returns false when no touch is active.
func (r *Reducer) GetPredictedPosition(lookaheadMs float64) (r2.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	touch := r.latestTouch()
	if touch == nil {
		return r2.Point{}, false
	}
	return predict.Position(touch.Pos, touch.Velocity, lookaheadMs), true
}

// PredictionHorizon returns how far ahead the platform's own predicted samples
// reached on the last move, or zero.
func (r *Reducer) PredictionHorizon() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.horizon
}

// Velocity returns the velocity of the last processed sample in px/s.
func (r *Reducer) Velocity() r2.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.velocity
}

// ActiveTouches returns the number of tracked contacts.
func (r *Reducer) ActiveTouches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touches)
}

// Touch returns a copy of the tracked contact with id.
func (r *Reducer) Touch(id int) (model.TrackedTouch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.touches[id]
	if !ok {
		return model.TrackedTouch{}, false
	}
	return *t, true
}

// latestTouch must be called with mu held.
func (r *Reducer) latestTouch() *model.TrackedTouch {
	var latest *model.TrackedTouch
	for _, t := range r.touches {
		if latest == nil || t.LastUpdate.After(latest.LastUpdate) ||
			(t.LastUpdate.Equal(latest.LastUpdate) && t.ID < latest.ID) {
			latest = t
		}
	}
	return latest
}

// Metrics returns a snapshot of the counters and latency window.
func (r *Reducer) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.counters
	m.QueueLength = r.queue.Len()
	m.ActiveTouches = len(r.touches)
	m.Latency = r.latency.Summary()
	return m
}

// Start runs the queue flush timer until ctx is canceled or Stop is called.
// It is a no-op in immediate mode or when already started.
func (r *Reducer) Start(ctx context.Context) {
	if r.immediate {
		return
	}
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.FlushQueue()
			}
		}
	}()
	r.logger.Debug(ctx, "flush timer started", logger.Duration("interval", r.flushInterval))
}

// Stop halts the flush timer and waits for it to exit.
func (r *Reducer) Stop() {
	r.timerMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.timerMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Dispose stops the timer and drops every handler, touch and queued sample.
// Further events are ignored.
func (r *Reducer) Dispose() {
	r.Stop()
	_ = r.queue.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	r.subscribers = nil
	r.outbox = nil
	r.touches = make(map[int]*model.TrackedTouch)
	r.velocity = r2.Point{}
	r.horizon = 0
	metrics.UpdateActiveTouches(0)
}
