// Package dispatch carries commands from the issuing side to the controller
// and events back, in send order.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO with a non-blocking Send. It has one reader;
// any number of goroutines may send.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	ready  chan struct{}
	closed bool
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

func (m *Mailbox[T]) Send(v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, v)
	m.signal()
	return nil
}

// signal must be called with mu held.
func (m *Mailbox[T]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// TryReceive pops the oldest message without blocking.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.queue) == 0 {
		return zero, false
	}
	v := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	if len(m.queue) > 0 {
		m.signal()
	}
	return v, true
}

// Receive blocks until a message is available, the context ends, or the
// mailbox is closed and drained.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	for {
		if v, ok := m.TryReceive(); ok {
			return v, nil
		}

		m.mu.Lock()
		closed := m.closed && len(m.queue) == 0
		m.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-m.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready is signalled whenever a message may be pending. Consumers that select
// on it must follow up with TryReceive.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further sends. Queued messages can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.signal()
}
