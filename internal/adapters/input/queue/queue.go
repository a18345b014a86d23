// Package queue holds deferred input samples for the reducer's queued dispatch mode.
//
// The queue is bounded. When full, the entry with the lowest priority and then the
// earliest deadline is evicted, which may be the incoming entry itself. Boundary
// samples carry the highest priority, so they are only evicted when every
// candidate is a boundary sample.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/cadence/internal/domain/model"
	"github.com/okian/cadence/pkg/metrics"
)

const defaultCapacity = 64

// Priority orders entries for eviction.
type Priority int

// Entry priorities, lowest first.
const (
	PriorityMove Priority = iota
	PriorityFastMove
	PriorityBoundary
)

// Outcome reports what Push did.
type Outcome int

// Push outcomes.
const (
	Enqueued Outcome = iota
	EnqueuedWithEviction
	Rejected
)

// Entry is a deferred notification.
type Entry struct {
	Notification model.TouchNotification
	Priority     Priority
	EnqueuedAt   time.Time
	Deadline     time.Time

	seq uint64
}

// Expired reports whether the entry is past its deadline at now. Boundary
// entries never expire.
func (e Entry) Expired(now time.Time) bool {
	return e.Priority != PriorityBoundary && now.After(e.Deadline)
}

// less orders eviction victims first.
func (e Entry) less(o Entry) bool {
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	if !e.Deadline.Equal(o.Deadline) {
		return e.Deadline.Before(o.Deadline)
	}
	return e.seq < o.seq
}

// DeadlineQueue is a bounded, deadline-aware priority queue safe for concurrent use.
type DeadlineQueue struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	seq      uint64
	closed   bool
}

// New creates a queue with configuration options.
func New(opts ...Option) *DeadlineQueue {
	q := &DeadlineQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.entries = make([]Entry, 0, q.capacity)

	metrics.UpdateInputQueue(0, q.capacity)
	return q
}

// Push inserts e. When the queue is full the lowest-ranked candidate is dropped
// and returned; Rejected means the incoming entry itself was dropped.
func (q *DeadlineQueue) Push(e Entry) (Outcome, Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Rejected, e, ErrClosed
	}

	q.seq++
	e.seq = q.seq

	if len(q.entries) < q.capacity {
		q.entries = append(q.entries, e)
		q.report()
		return Enqueued, Entry{}, nil
	}

	victim := -1
	for i := range q.entries {
		if victim < 0 || q.entries[i].less(q.entries[victim]) {
			victim = i
		}
	}
	if e.less(q.entries[victim]) {
		return Rejected, e, nil
	}

	evicted := q.entries[victim]
	q.entries = append(q.entries[:victim], q.entries[victim+1:]...)
	q.entries = append(q.entries, e)
	q.report()
	return EnqueuedWithEviction, evicted, nil
}

// Drain removes every entry and returns those still deliverable at now in
// arrival order, plus the expired ones.
func (q *DeadlineQueue) Drain(now time.Time) (ready, expired []Entry) {
	q.mu.Lock()
	all := q.entries
	q.entries = make([]Entry, 0, q.capacity)
	q.report()
	q.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, e := range all {
		if e.Expired(now) {
			expired = append(expired, e)
			continue
		}
		ready = append(ready, e)
	}
	return ready, expired
}

// Snapshot returns a copy of the held entries in arrival order.
func (q *DeadlineQueue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the current number of entries.
func (q *DeadlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Capacity returns the configured bound.
func (q *DeadlineQueue) Capacity() int {
	return q.capacity
}

// Close rejects further pushes and drops held entries.
func (q *DeadlineQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.entries = q.entries[:0]
	q.closed = true
	q.report()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *DeadlineQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// report must be called with mu held.
func (q *DeadlineQueue) report() {
	metrics.UpdateInputQueue(len(q.entries), q.capacity)
}
