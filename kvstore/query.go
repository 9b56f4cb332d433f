package kvstore

import "iter"

// Query is the multiplexer's command type: a read or write query against the
// store. Type parameter V is the child state type and E the child event
// type.
//
// The respond callback of a query is invoked exactly once, synchronously,
// with references borrowed from the map; it must not retain them beyond the
// call. Cross-task callers send owned, derived values back over a reply
// channel instead — see the ask package. Only Upsert and Insert produce an
// event, so only they (indirectly, through the normal event-application
// path) mutate the store.
type Query[V, E any] struct {
	kind queryKind
	path Path
	from Bound
	to   Bound

	respondGet    func(*V)
	respondMany   func(iter.Seq2[Path, *V])
	respondUpsert func(*V) E
	respondInsert func(iter.Seq2[Path, *V]) Keyed[E]
}

type queryKind uint8

const (
	queryGet queryKind = iota
	queryGetTree
	queryGetRange
	queryGetAll
	queryUpsert
	queryInsert
)

// Get queries the value at path; respond receives it, or nil.
func Get[V, E any](path Path, respond func(v *V)) Query[V, E] {
	return Query[V, E]{kind: queryGet, path: path, respondGet: respond}
}

// GetTree queries the value at path and all its strict descendants.
func GetTree[V, E any](path Path, respond func(seq iter.Seq2[Path, *V])) Query[V, E] {
	return Query[V, E]{kind: queryGetTree, path: path, respondMany: respond}
}

// GetRange queries the entries between the given bounds.
func GetRange[V, E any](from, to Bound, respond func(seq iter.Seq2[Path, *V])) Query[V, E] {
	return Query[V, E]{kind: queryGetRange, from: from, to: to, respondMany: respond}
}

// GetAll queries every entry.
func GetAll[V, E any](respond func(seq iter.Seq2[Path, *V])) Query[V, E] {
	return Query[V, E]{kind: queryGetAll, respondMany: respond}
}

// Upsert queries the value at path, or nil if absent, and produces the event
// respond returns, keyed by path. Applying that event creates a default
// child at the path first if none exists.
func Upsert[V, E any](path Path, respond func(v *V) E) Query[V, E] {
	return Query[V, E]{kind: queryUpsert, path: path, respondUpsert: respond}
}

// Insert queries the entire store and produces the keyed event respond
// returns. The callback sees every entry so it can choose a fresh path, for
// example by an auto-increment scheme over existing keys.
func Insert[V, E any](respond func(seq iter.Seq2[Path, *V]) Keyed[E]) Query[V, E] {
	return Query[V, E]{kind: queryInsert, respondInsert: respond}
}

// Extant reports whether an Upsert found a pre-existing value at its path,
// letting callers distinguish creation from mutation.
type Extant int

const (
	NotFound Extant = iota
	Found
)

func (x Extant) String() string {
	if x == Found {
		return "found"
	}
	return "not found"
}
