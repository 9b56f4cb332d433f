package statemux

import "context"

// Adapter is an asynchronous single-item sink. Notify blocks until the item
// is accepted by its destination — enqueued, written, produced — or the
// destination is gone, in which case it returns an error wrapping
// ErrChannelClosed. Adapters compose; they are the wiring scheme between
// machines, logs and outputs.
type Adapter[A any] interface {
	Notify(ctx context.Context, item A) error
}

// Feed is the dual of Adapter: a source that pushes every stored or
// available item into the given sink, in storage order, then returns. A feed
// is consumed exactly once per machine lifetime, for hydration.
type Feed[A any] interface {
	Feed(ctx context.Context, sink Adapter[A]) error
}

// EventLog both records live events and can replay history.
type EventLog[E any] interface {
	Adapter[E]
	Feed[E]
}

// Placeholder accepts and discards every item, never fails, and feeds
// nothing. It is the identity element for Merge and the default wiring of an
// unconnected machine port.
type Placeholder[A any] struct{}

func (Placeholder[A]) Notify(context.Context, A) error        { return nil }
func (Placeholder[A]) Feed(context.Context, Adapter[A]) error { return nil }

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc[A any] func(ctx context.Context, item A) error

func (f AdapterFunc[A]) Notify(ctx context.Context, item A) error { return f(ctx, item) }

// MergeAdapters fans out: every item is notified to first, then to next.
// First always observes an item strictly before next does; a failure of
// either propagates and short-circuits.
func MergeAdapters[A any](first, next Adapter[A]) Adapter[A] {
	if _, ok := first.(Placeholder[A]); ok {
		return next
	}
	return merge[A]{first: first, next: next}
}

type merge[A any] struct {
	first Adapter[A]
	next  Adapter[A]
}

func (m merge[A]) Notify(ctx context.Context, item A) error {
	if err := m.first.Notify(ctx, item); err != nil {
		return err
	}
	return m.next.Notify(ctx, item)
}

// FilterMap adapts an upstream item type A to the inner adapter's item type
// B through a possibly-rejecting function. Rejected items are silently
// dropped.
func FilterMap[A, B any](f func(A) (B, bool), inner Adapter[B]) Adapter[A] {
	return AdapterFunc[A](func(ctx context.Context, item A) error {
		b, ok := f(item)
		if !ok {
			return nil
		}
		return inner.Notify(ctx, b)
	})
}

// MapAdapter adapts an upstream item type through a total function.
func MapAdapter[A, B any](f func(A) B, inner Adapter[B]) Adapter[A] {
	return FilterMap(func(a A) (B, bool) { return f(a), true }, inner)
}

// SliceAdapter is an in-memory event log: as an Adapter it appends, as a
// Feed it replays its contents in order. Useful for tests and for machines
// whose history need not survive the process.
type SliceAdapter[A any] struct {
	Items []A
}

func (s *SliceAdapter[A]) Notify(_ context.Context, item A) error {
	s.Items = append(s.Items, item)
	return nil
}

func (s *SliceAdapter[A]) Feed(ctx context.Context, sink Adapter[A]) error {
	for _, item := range s.Items {
		if err := sink.Notify(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
