package kvstore

import (
	"github.com/edgefleet/statemux"
)

// Keyed pairs a Path with a value: an event or an output routed to or from
// one child of the multiplexer.
//
// Keyed never terminates the multiplexer itself; only the inner item can
// signal termination, which evicts the addressed child.
type Keyed[A any] struct {
	Key  Path `json:"key"`
	Item A    `json:"item"`
}

// Store is the path-keyed multiplexer: an FSM whose state is a Map of child
// states, whose commands are queries, and whose events are Keyed child
// events. It embeds a population of machines of the child FSM type inside
// one parent machine, executable by the machine runtime like any other.
//
// Event routing: a non-terminating event for an absent path
// default-constructs the child state first, then delegates to the child's
// OnEvent. A terminating event removes the entry without delegation — a
// child never sees its own termination — and reports Transitioned. A
// terminating event for a never-seen path is a no-op.
type Store[S, C, E, O any, SE statemux.Drain[O]] struct {
	child statemux.FSM[S, C, E, SE]
}

// NewStore makes a multiplexer over the given child FSM.
func NewStore[S, C, E, O any, SE statemux.Drain[O]](child statemux.FSM[S, C, E, SE]) Store[S, C, E, O, SE] {
	return Store[S, C, E, O, SE]{child: child}
}

// ForCommand executes the query synchronously against the borrowed map
// contents. Only Upsert and Insert produce an event.
func (st Store[S, C, E, O, SE]) ForCommand(s *Map[S], q Query[S, E], _ *Effects[O, SE]) (Keyed[E], bool) {
	switch q.kind {
	case queryGet:
		v, _ := s.Get(q.path)
		q.respondGet(v)
	case queryGetTree:
		q.respondMany(s.Tree(q.path))
	case queryGetRange:
		q.respondMany(s.Range(q.from, q.to))
	case queryGetAll:
		q.respondMany(s.All())
	case queryUpsert:
		v, _ := s.Get(q.path)
		return Keyed[E]{Key: q.path, Item: q.respondUpsert(v)}, true
	case queryInsert:
		return q.respondInsert(s.All()), true
	}
	return Keyed[E]{}, false
}

// OnEvent routes the event to the child at its path.
func (st Store[S, C, E, O, SE]) OnEvent(s *Map[S], e Keyed[E]) statemux.Change {
	v, ok := s.Get(e.Key)
	if statemux.IsTerminating(e.Item) {
		if !ok {
			return statemux.NoChange
		}
		s.delete(e.Key)
		return statemux.Transitioned
	}
	if !ok {
		v = s.put(e.Key)
		change := st.child.OnEvent(v, e.Item)
		if change == statemux.NoChange {
			// The event did not apply; an entry must not linger for a
			// change that was never logged.
			s.delete(e.Key)
		}
		return change
	}
	return st.child.OnEvent(v, e.Item)
}

// OnChange looks up the possibly just-created child and, if still present,
// delegates with effect output tagged by the same path.
func (st Store[S, C, E, O, SE]) OnChange(s *Map[S], e Keyed[E], se *Effects[O, SE], change statemux.Change) {
	if v, ok := s.Get(e.Key); ok {
		se.key = e.Key
		st.child.OnChange(v, e.Item, se.inner, change)
	}
}

// Effects wraps a child effect handler and re-keys everything it drains with
// the path of the child that produced it.
type Effects[O any, SE statemux.Drain[O]] struct {
	key   Path
	inner SE
}

// NewEffects wraps the given child effect handler.
func NewEffects[O any, SE statemux.Drain[O]](inner SE) *Effects[O, SE] {
	return &Effects[O, SE]{inner: inner}
}

// DrainAll drains the inner handler, pairing each output with the path of
// the child it came from.
func (f *Effects[O, SE]) DrainAll() []Keyed[O] {
	inner := f.inner.DrainAll()
	if len(inner) == 0 {
		return nil
	}
	out := make([]Keyed[O], len(inner))
	for i, item := range inner {
		out[i] = Keyed[O]{Key: f.key, Item: item}
	}
	return out
}

// NewMachine builds a machine running a multiplexer over the child FSM, with
// the child's effect handler shared across all children.
func NewMachine[S, C, E, O any, SE statemux.Drain[O]](child statemux.FSM[S, C, E, SE], effects SE, opts ...statemux.Option) *statemux.Machine[Map[S], Query[S, E], Keyed[E], Keyed[O], *Effects[O, SE]] {
	return statemux.New[Map[S], Query[S, E], Keyed[E], Keyed[O]](
		NewStore[S, C, E, O, SE](child),
		NewEffects[O, SE](effects),
		opts...,
	)
}
