package worker

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Mailbox is an unbounded FIFO queue with channel-like close semantics.
// Send never blocks. After Close, receivers still drain what was queued
// before they observe the close.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  *deque.Deque[T]
	closed bool
	ready  chan struct{}
}

// NewMailbox returns an empty, open mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		queue: deque.New[T](),
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues v. It reports false when the mailbox is closed.
func (m *Mailbox[T]) Send(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue.PushBack(v)
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// TryRecv returns the next value without blocking. ok is false when nothing
// is queued; closed is true once the mailbox is closed and drained.
func (m *Mailbox[T]) TryRecv() (v T, ok bool, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue.Len() > 0 {
		return m.queue.PopFront(), true, false
	}
	return v, false, m.closed
}

// Recv blocks until a value is queued, the mailbox is closed and drained,
// or ctx is done.
func (m *Mailbox[T]) Recv(ctx context.Context) (T, bool) {
	for {
		v, ok, closed := m.TryRecv()
		if ok {
			return v, true
		}
		if closed {
			return v, false
		}
		select {
		case <-m.ready:
		case <-ctx.Done():
			return v, false
		}
	}
}

// Close marks the mailbox closed. It is safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ready)
}

// Len reports how many values are queued.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
