package events

import (
	"sync"

	"github.com/roach88/knock/internal/market"
)

// queue is a thread-safe FIFO of committed events.
//
// The queue is unbounded so that Publish never blocks the engine's writer
// while a slow sink catches up.
//
// A buffered signal channel (size 1) coalesces wake-ups; it is closed by
// Close so that a waiting consumer always observes shutdown.
type queue struct {
	mu     sync.Mutex
	events []market.Event
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		events: make([]market.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends events in order. Returns false if the queue is closed.
func (q *queue) enqueue(events ...market.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, events...)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue removes the front event without blocking.
func (q *queue) tryDequeue() (market.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return market.Event{}, false
	}
	e := q.events[0]
	q.events[0] = market.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// drained reports whether the queue is closed and empty.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

func (q *queue) wait() <-chan struct{} {
	return q.signal
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// close stops further enqueues and wakes any waiter. Idempotent.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
