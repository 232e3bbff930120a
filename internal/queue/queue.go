// Package queue provides a thread-safe FIFO used to hold pending durable
// writes until the writer drains them.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO. A positive capacity bounds it; pushing
// onto a full queue evicts the oldest items.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// New creates an empty queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:    make([]T, 0),
		capacity: capacity,
	}
}

// Push appends items and returns how many old items were evicted to make room.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.capacity <= 0 || len(q.items) <= q.capacity {
		return 0
	}
	over := len(q.items) - q.capacity
	q.items = append(q.items[:0:0], q.items[over:]...)
	return over
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain returns all items in order and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
