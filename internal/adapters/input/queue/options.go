// Package queue holds deferred input samples for the reducer's queued dispatch mode.
package queue

// Option applies a configuration option to the DeadlineQueue.
type Option func(*DeadlineQueue)

// WithCapacity sets the maximum number of entries held.
func WithCapacity(capacity int) Option {
	return func(q *DeadlineQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
