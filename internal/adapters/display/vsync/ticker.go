package vsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// defaultRate approximates a common display refresh.
const defaultRate = 60

// Ticker is a Requester backed by a goroutine and a time.Ticker, for hosts
// without a native refresh callback.
type Ticker struct {
	reqs     requests
	interval time.Duration
	name     string

	resetMu sync.Mutex
	reset   chan time.Duration

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// NewTicker creates a Ticker; callbacks fire only while Run is active.
func NewTicker(opts ...Option) *Ticker {
	t := &Ticker{
		interval: time.Second / defaultRate,
		name:     "vsync",
		reset:    make(chan time.Duration, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("vsync"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.name != "vsync" {
		t.logger = t.logger.Named(t.name)
	}
	return t
}

// RequestFrame implements Requester.
func (t *Ticker) RequestFrame(cb func(time.Time)) Handle {
	return t.reqs.add(cb)
}

// CancelFrame implements Requester. A callback that has already started is
// not interrupted.
func (t *Ticker) CancelFrame(h Handle) {
	t.reqs.cancel(h)
}

// Interval returns the current refresh period.
func (t *Ticker) Interval() time.Duration {
	t.resetMu.Lock()
	defer t.resetMu.Unlock()
	return t.interval
}

// SetInterval changes the refresh period, taking effect on the next tick. It
// never blocks, so frame callbacks may call it.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.resetMu.Lock()
	defer t.resetMu.Unlock()
	if d == t.interval {
		return
	}
	t.interval = d

	// Only the latest period matters; senders hold resetMu so the buffer is
	// free after the drain.
	select {
	case <-t.reset:
	default:
	}
	t.reset <- d
}

// Run fires pending requests once per interval until ctx is canceled or
// Shutdown is called.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()

	t.logger.Debug(ctx, "frame source running", logger.Duration("interval", t.Interval()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		case d := <-t.reset:
			ticker.Reset(d)
		case ts := <-ticker.C:
			t.reqs.fire(ts)
		}
	}
}

// Shutdown stops Run and waits for it to exit or for ctx to expire.
func (t *Ticker) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.shutdown) })

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		t.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
