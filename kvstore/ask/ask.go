// Package ask layers a typed request/response protocol over a kv-store
// machine's fire-and-forget input queue. Each call packages a callback that
// computes a local result inside the machine task and sends it back over a
// single-use reply channel; at most one reply is ever sent. A closed queue
// or a machine that terminates before answering surfaces as an error rather
// than a hang.
//
// The query functions are free functions rather than methods because the
// result type is generic per call.
package ask

import (
	"context"
	"iter"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/kvstore"
)

// Requester wraps a handle to a kv-store machine's input queue. V is the
// child state type and E the child event type.
type Requester[V, E any] struct {
	sink statemux.Adapter[statemux.Input[kvstore.Query[V, E], kvstore.Keyed[E]]]
}

// New makes a requester over the given input adapter, typically the
// machine's mailbox.
func New[V, E any](sink statemux.Adapter[statemux.Input[kvstore.Query[V, E], kvstore.Keyed[E]]]) *Requester[V, E] {
	return &Requester[V, E]{sink: sink}
}

// Get applies f to the value at path, or nil, and returns f's result. The
// *V argument borrows into the store; f must copy out anything it keeps.
func Get[V, E, R any](ctx context.Context, r *Requester[V, E], path kvstore.Path, f func(v *V) R) (R, error) {
	reply := make(chan R, 1)
	return dispatch(ctx, r, kvstore.Get[V, E](path, func(v *V) {
		reply <- f(v)
	}), reply)
}

// GetTree applies f to the entries at and under path and returns f's result.
func GetTree[V, E, R any](ctx context.Context, r *Requester[V, E], path kvstore.Path, f func(seq iter.Seq2[kvstore.Path, *V]) R) (R, error) {
	reply := make(chan R, 1)
	return dispatch(ctx, r, kvstore.GetTree[V, E](path, func(seq iter.Seq2[kvstore.Path, *V]) {
		reply <- f(seq)
	}), reply)
}

// GetRange applies f to the entries between the bounds and returns f's
// result.
func GetRange[V, E, R any](ctx context.Context, r *Requester[V, E], from, to kvstore.Bound, f func(seq iter.Seq2[kvstore.Path, *V]) R) (R, error) {
	reply := make(chan R, 1)
	return dispatch(ctx, r, kvstore.GetRange[V, E](from, to, func(seq iter.Seq2[kvstore.Path, *V]) {
		reply <- f(seq)
	}), reply)
}

// GetAll applies f to every entry and returns f's result.
func GetAll[V, E, R any](ctx context.Context, r *Requester[V, E], f func(seq iter.Seq2[kvstore.Path, *V]) R) (R, error) {
	reply := make(chan R, 1)
	return dispatch(ctx, r, kvstore.GetAll[V, E](func(seq iter.Seq2[kvstore.Path, *V]) {
		reply <- f(seq)
	}), reply)
}

// Upsert applies f to the value at path, or nil, and produces the event f
// returns for that path. The event is applied to the extant value or to a
// new default value. Reports whether an extant value was found.
func Upsert[V, E any](ctx context.Context, r *Requester[V, E], path kvstore.Path, f func(v *V) E) (kvstore.Extant, error) {
	reply := make(chan kvstore.Extant, 1)
	return dispatch(ctx, r, kvstore.Upsert[V, E](path, func(v *V) E {
		if v != nil {
			reply <- kvstore.Found
		} else {
			reply <- kvstore.NotFound
		}
		return f(v)
	}), reply)
}

// Insert applies f to every entry and produces the keyed event f returns,
// usually for a fresh path chosen from the extant keys. Returns that path.
func Insert[V, E any](ctx context.Context, r *Requester[V, E], f func(seq iter.Seq2[kvstore.Path, *V]) kvstore.Keyed[E]) (kvstore.Path, error) {
	reply := make(chan kvstore.Path, 1)
	return dispatch(ctx, r, kvstore.Insert[V, E](func(seq iter.Seq2[kvstore.Path, *V]) kvstore.Keyed[E] {
		e := f(seq)
		reply <- e.Key
		return e
	}), reply)
}

func dispatch[V, E, R any](ctx context.Context, r *Requester[V, E], q kvstore.Query[V, E], reply <-chan R) (R, error) {
	var zero R
	in := statemux.Command[kvstore.Query[V, E], kvstore.Keyed[E]](q)
	if err := r.sink.Notify(ctx, in); err != nil {
		return zero, err
	}
	var done <-chan struct{} = neverDone
	if d, ok := r.sink.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-done:
		// The machine is gone. The callback buffers its reply before the
		// task ends, so a reply that was computed is still here.
		select {
		case res := <-reply:
			return res, nil
		default:
			return zero, statemux.ErrChannelClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var neverDone = make(chan struct{})
