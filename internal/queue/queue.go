package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO with no capacity limit. Consumers wait
// on Ready instead of polling; the channel carries at most one pending wake-up,
// so a consumer must drain with TryPop until it reports empty.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	ready  chan struct{}
	closed bool
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		ready: make(chan struct{}, 1),
	}
}

// Push appends items to the queue. It returns false once the queue is closed.
func (q *Queue[T]) Push(items ...T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()

	q.notify()
	return true
}

// TryPop removes and returns the first item, reporting whether there was one.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Ready is signalled after items are pushed.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and discards anything still queued.
func (q *Queue[T]) Close() int {
	q.mu.Lock()
	q.closed = true
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.notify()
	return n
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
