// Package channel provides the per-member mailbox of the in-process relay
// hub: the hub fans out without ever blocking, and a member goroutine drains
// its own mailbox in order.
package channel

import "sync"

// DefaultSize is used when a mailbox is created with a non-positive size.
const DefaultSize = 256

// Mailbox is a bounded FIFO of envelopes for one member. Sends never block:
// an envelope that does not fit is refused. Close may race with TrySend.
type Mailbox[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// New creates a mailbox holding up to size items.
func New[T any](size int) *Mailbox[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Mailbox[T]{ch: make(chan T, size)}
}

// TrySend queues v and reports false, dropping v, when the mailbox is full
// or closed.
func (m *Mailbox[T]) TrySend(v T) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the stream the member reads. It ends after Close once the
// queued items are read.
func (m *Mailbox[T]) Receive() <-chan T { return m.ch }

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int { return len(m.ch) }

// Close stops further sends. Calling it again is a no-op.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
