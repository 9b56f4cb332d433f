package kvstore

import (
	"iter"
	"sort"
)

// Map is the ordered map from Path to child state that forms the
// multiplexer's own state. The zero value is an empty map.
//
// Mutation happens only through the multiplexer's OnEvent; external code
// sees read-only iteration. The *V pointers yielded by the iteration
// sequences borrow into the map and are valid only for the synchronous
// extent of the query callback they are handed to; callbacks must copy out
// anything they intend to keep.
type Map[V any] struct {
	entries []mapEntry[V]
}

type mapEntry[V any] struct {
	path  Path
	value V
}

// lowerBound returns the index of the first entry >= p, and whether that
// entry equals p.
func (m *Map[V]) lowerBound(p Path) (int, bool) {
	i := sort.Search(len(m.entries), func(k int) bool {
		return m.entries[k].path.Compare(p) >= 0
	})
	return i, i < len(m.entries) && m.entries[i].path.Equal(p)
}

// Get returns a pointer to the value at path, if present.
func (m *Map[V]) Get(path Path) (*V, bool) {
	i, ok := m.lowerBound(path)
	if !ok {
		return nil, false
	}
	return &m.entries[i].value, true
}

// Len reports the number of entries.
func (m *Map[V]) Len() int { return len(m.entries) }

// All iterates every entry in path order.
func (m *Map[V]) All() iter.Seq2[Path, *V] {
	return func(yield func(Path, *V) bool) {
		for i := range m.entries {
			if !yield(m.entries[i].path, &m.entries[i].value) {
				return
			}
		}
	}
}

// Tree iterates the entry at path and all its strict descendants, in path
// order. Descendants are contiguous under the path ordering, so this is a
// range scan from path with a prefix take-while.
func (m *Map[V]) Tree(path Path) iter.Seq2[Path, *V] {
	return func(yield func(Path, *V) bool) {
		start, _ := m.lowerBound(path)
		for i := start; i < len(m.entries); i++ {
			if !path.IsPrefixOf(m.entries[i].path) {
				return
			}
			if !yield(m.entries[i].path, &m.entries[i].value) {
				return
			}
		}
	}
}

// Range iterates the entries between the given bounds, in path order.
func (m *Map[V]) Range(from, to Bound) iter.Seq2[Path, *V] {
	return func(yield func(Path, *V) bool) {
		start := 0
		switch from.kind {
		case boundIncluded:
			start, _ = m.lowerBound(from.path)
		case boundExcluded:
			i, eq := m.lowerBound(from.path)
			if eq {
				i++
			}
			start = i
		}
		for i := start; i < len(m.entries); i++ {
			switch to.kind {
			case boundIncluded:
				if m.entries[i].path.Compare(to.path) > 0 {
					return
				}
			case boundExcluded:
				if m.entries[i].path.Compare(to.path) >= 0 {
					return
				}
			}
			if !yield(m.entries[i].path, &m.entries[i].value) {
				return
			}
		}
	}
}

// put inserts a default value at path if absent and returns a pointer to the
// value stored there. The pointer is valid until the next mutation.
func (m *Map[V]) put(path Path) *V {
	i, ok := m.lowerBound(path)
	if ok {
		return &m.entries[i].value
	}
	m.entries = append(m.entries, mapEntry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = mapEntry[V]{path: path}
	return &m.entries[i].value
}

// delete removes the entry at path, reporting whether it was present.
func (m *Map[V]) delete(path Path) bool {
	i, ok := m.lowerBound(path)
	if !ok {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return true
}

// Bound is one end of a Range query.
type Bound struct {
	path Path
	kind boundKind
}

type boundKind uint8

const (
	boundUnbounded boundKind = iota
	boundIncluded
	boundExcluded
)

// Included bounds a range at path, inclusive.
func Included(path Path) Bound { return Bound{path: path, kind: boundIncluded} }

// Excluded bounds a range at path, exclusive.
func Excluded(path Path) Bound { return Bound{path: path, kind: boundExcluded} }

// Unbounded leaves a range end open.
func Unbounded() Bound { return Bound{} }
