// Package vsync provides display-refresh callback sources for the frame scheduler.
package vsync

import (
	"sync"
	"time"
)

// Handle identifies an outstanding frame request. The zero Handle is never issued.
type Handle uint64

// Requester delivers one callback per request on the next display refresh.
type Requester interface {
	// RequestFrame schedules cb for the next refresh.
	RequestFrame(cb func(ts time.Time)) Handle
	// CancelFrame withdraws a request. Unknown handles are ignored.
	CancelFrame(h Handle)
}

// requests is the pending set shared by every Requester in this package.
type requests struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]func(time.Time)
	order   []Handle
}

func (r *requests) add(cb func(time.Time)) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		r.pending = make(map[Handle]func(time.Time))
	}
	r.next++
	r.pending[r.next] = cb
	r.order = append(r.order, r.next)
	return r.next
}

func (r *requests) cancel(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, h)
}

// fire runs every request issued before the call, in request order. Requests
// made by the callbacks wait for the next fire.
func (r *requests) fire(ts time.Time) int {
	r.mu.Lock()
	batch := r.order
	r.order = nil
	r.mu.Unlock()

	fired := 0
	for _, h := range batch {
		r.mu.Lock()
		cb, ok := r.pending[h]
		delete(r.pending, h)
		r.mu.Unlock()
		if !ok {
			continue
		}
		cb(ts)
		fired++
	}
	return fired
}

func (r *requests) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Manual is a Requester driven by the host's own render loop through Fire.
type Manual struct {
	reqs requests
}

// NewManual creates an idle Manual source.
func NewManual() *Manual {
	return &Manual{}
}

// RequestFrame implements Requester.
func (m *Manual) RequestFrame(cb func(time.Time)) Handle {
	return m.reqs.add(cb)
}

// CancelFrame implements Requester.
func (m *Manual) CancelFrame(h Handle) {
	m.reqs.cancel(h)
}

// Fire runs the outstanding requests with ts and returns how many ran.
func (m *Manual) Fire(ts time.Time) int {
	return m.reqs.fire(ts)
}

// Pending returns the number of outstanding requests.
func (m *Manual) Pending() int {
	return m.reqs.len()
}
