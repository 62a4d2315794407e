// Package mpsc provides an unbounded blocking queue safe for many concurrent
// producers and a single consumer. It backs the per-market event queue and
// the market-data publisher's batch queue.
//
// The queue is deliberately unbounded: the matching path must never block a
// producer. Sustained overload is therefore a resource-exhaustion risk that
// callers accept rather than a condition the queue handles.
package mpsc

import "sync"

// Queue is an unbounded FIFO. Push may be called from any goroutine; Pop is
// intended for a single consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	notify *sync.Cond
	items  []T
	closed bool
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notify = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It returns false if the queue has been closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.notify.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed and drained.
// The second return is false only in the closed-and-drained case.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notify.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close rejects further pushes. Items already queued remain poppable; the
// consumer drains them before Pop reports closure.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notify.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
