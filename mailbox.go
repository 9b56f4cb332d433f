package statemux

import (
	"context"
	"sync"
)

// Mailbox is the bounded input queue of a machine. Any number of goroutines
// may Send into it, enabling fan-in; items are received strictly in order by
// the owning machine. A full mailbox blocks senders, providing natural
// backpressure; no items are ever dropped.
//
// Close marks the mailbox closed: senders fail with ErrChannelClosed and the
// machine terminates once the already-buffered items are drained.
type Mailbox[A any] struct {
	ch     chan A
	done   chan struct{}
	closer sync.Once
}

// NewMailbox creates a mailbox with the given capacity.
func NewMailbox[A any](capacity int) *Mailbox[A] {
	return &Mailbox[A]{
		ch:   make(chan A, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues an item, blocking while the mailbox is full. It fails with
// an error wrapping ErrChannelClosed if the mailbox has been closed, or with
// ctx.Err() if the context ends first.
func (m *Mailbox[A]) Send(ctx context.Context, item A) error {
	select {
	case <-m.done:
		return ErrChannelClosed
	default:
	}
	select {
	case m.ch <- item:
		return nil
	case <-m.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify makes a mailbox an Adapter for its item type.
func (m *Mailbox[A]) Notify(ctx context.Context, item A) error {
	return m.Send(ctx, item)
}

// Close marks the mailbox closed. Items already buffered are still
// delivered. Close is idempotent.
func (m *Mailbox[A]) Close() {
	m.closer.Do(func() { close(m.done) })
}

// Done is closed once the mailbox is closed. The machine closes its mailbox
// when its task ends, so Done also signals requesters that no further
// replies will come.
func (m *Mailbox[A]) Done() <-chan struct{} {
	return m.done
}

// recv returns the next item. ok is false when the mailbox is closed and
// drained, or the context ends.
func (m *Mailbox[A]) recv(ctx context.Context) (item A, ok bool) {
	// Buffered items win over close, so a closed mailbox is always drained.
	select {
	case item = <-m.ch:
		return item, true
	default:
	}
	select {
	case item = <-m.ch:
		return item, true
	case <-m.done:
		// Drain anything that raced with Close.
		select {
		case item = <-m.ch:
			return item, true
		default:
			return item, false
		}
	case <-ctx.Done():
		return item, false
	}
}
