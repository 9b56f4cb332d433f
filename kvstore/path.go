// Package kvstore provides a path-keyed multiplexer: a state machine whose
// state is an ordered map from Path to the states of many independent child
// machines, whose commands are queries against that map, and whose events
// are routed to the addressed child. The multiplexer is itself an FSM and
// runs under the same machine runtime as any other.
package kvstore

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// PathItem is one element of a Path: a number or a name. Numbers order
// before names; numbers compare by value and names bytewise.
type PathItem struct {
	name   string
	num    uint64
	isName bool
}

// Num makes a numeric path item.
func Num(n uint64) PathItem { return PathItem{num: n} }

// Name makes a named path item.
func Name(s string) PathItem { return PathItem{name: s, isName: true} }

// IsNumber reports whether the item is numeric.
func (i PathItem) IsNumber() bool { return !i.isName }

// Number returns the numeric value, or zero for a named item.
func (i PathItem) Number() uint64 { return i.num }

// Name returns the name, or the empty string for a numeric item.
func (i PathItem) Name() string { return i.name }

// Compare orders path items: numbers before names, numbers by value, names
// bytewise.
func (i PathItem) Compare(j PathItem) int {
	switch {
	case !i.isName && j.isName:
		return -1
	case i.isName && !j.isName:
		return 1
	case i.isName:
		return strings.Compare(i.name, j.name)
	case i.num < j.num:
		return -1
	case i.num > j.num:
		return 1
	default:
		return 0
	}
}

func (i PathItem) String() string {
	if i.isName {
		return i.name
	}
	return strconv.FormatUint(i.num, 10)
}

// MarshalJSON writes a number as a JSON number and a name as a JSON string.
func (i PathItem) MarshalJSON() ([]byte, error) {
	if i.isName {
		return json.Marshal(i.name)
	}
	return json.Marshal(i.num)
}

// UnmarshalJSON reads the untagged form written by MarshalJSON.
func (i *PathItem) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = Name(s)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*i = Num(n)
	return nil
}

// Path is an ordered, hierarchical key: a sequence of number-or-name items.
// Paths are totally ordered, lexicographically over their items, so a path
// always sorts before its descendants and descendants are contiguous. A path
// is immutable once constructed; Append produces an extended copy.
//
// Paths interchange as an untagged JSON array and have a slash-delimited
// escaped string form that round-trips through ParsePath: the root is a
// leading separator rather than the empty string, and a name that looks
// numeric is prefixed with a quote to disambiguate it from a true number.
type Path []PathItem

// Root is the empty path, the zero value.
func Root() Path { return nil }

// Append extends the path by the given items, returning a new path. The
// receiver is not modified.
func (p Path) Append(items ...PathItem) Path {
	q := make(Path, len(p), len(p)+len(items))
	copy(q, p)
	return append(q, items...)
}

// Name appends a named item.
func (p Path) Name(s string) Path { return p.Append(Name(s)) }

// Num appends a numeric item.
func (p Path) Num(n uint64) Path { return p.Append(Num(n)) }

// IsRoot reports whether the path is empty.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Compare orders paths lexicographically over their items, so a strict
// prefix of q orders before q.
func (p Path) Compare(q Path) int {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	for k := 0; k < n; k++ {
		if c := p[k].Compare(q[k]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	default:
		return 0
	}
}

// Less reports whether p orders before q.
func (p Path) Less(q Path) bool { return p.Compare(q) < 0 }

// Equal reports element-wise equality.
func (p Path) Equal(q Path) bool { return p.Compare(q) == 0 }

// IsPrefixOf reports whether q's first len(p) items equal p. Every path is a
// prefix of itself.
func (p Path) IsPrefixOf(q Path) bool {
	if len(p) > len(q) {
		return false
	}
	for k := range p {
		if p[k].Compare(q[k]) != 0 {
			return false
		}
	}
	return true
}

// String renders the path with a leading separator per item, each item
// component-escaped. A name whose first character is a digit or a quote is
// prefixed with a quote so that ParsePath can tell it from a number.
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, item := range p {
		b.WriteByte('/')
		if item.isName {
			if first := item.name; first != "" {
				c := first[0]
				if (c >= '0' && c <= '9') || c == '\'' {
					b.WriteByte('\'')
				}
			}
			b.WriteString(escapeComponent(item.name))
		} else {
			b.WriteString(strconv.FormatUint(item.num, 10))
		}
	}
	return b.String()
}

// MarshalJSON writes the path as an untagged array, e.g. ["CSMS",65,"EVSE",2].
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal([]PathItem(p))
}

// UnmarshalJSON reads the untagged array form.
func (p *Path) UnmarshalJSON(data []byte) error {
	var items []PathItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*p = items
	return nil
}

// ErrNoRoot is returned by ParsePath when the string lacks the leading
// separator that marks the root.
var ErrNoRoot = errors.New("kvstore: path must start with /")

// ParsePath parses the string form produced by Path.String. A segment
// starting with a digit is a number; a leading quote forces the remainder to
// be a name.
func ParsePath(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return nil, ErrNoRoot
	}
	if s == "/" {
		return Root(), nil
	}
	var path Path
	for _, raw := range strings.Split(s, "/")[1:] {
		switch {
		case raw != "" && raw[0] >= '0' && raw[0] <= '9':
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("kvstore: bad numeric path segment %q: %w", raw, err)
			}
			path = append(path, Num(n))
		case strings.HasPrefix(raw, "'"):
			name, err := url.PathUnescape(raw[1:])
			if err != nil {
				return nil, fmt.Errorf("kvstore: bad path segment %q: %w", raw, err)
			}
			path = append(path, Name(name))
		default:
			name, err := url.PathUnescape(raw)
			if err != nil {
				return nil, fmt.Errorf("kvstore: bad path segment %q: %w", raw, err)
			}
			path = append(path, Name(name))
		}
	}
	return path, nil
}

// escapeComponent escapes a path segment so that it contains no separator or
// reserved characters, using %XX escapes only.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
