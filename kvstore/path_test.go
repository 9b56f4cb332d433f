package kvstore

import (
	"sort"
	"testing"

	"github.com/alecthomas/assert/v2"
	json "github.com/goccy/go-json"
)

func TestPathItemCompare(t *testing.T) {
	t.Run("numbers order before names", func(t *testing.T) {
		assert.True(t, Num(999).Compare(Name("0")) < 0)
		assert.True(t, Name("a").Compare(Num(0)) > 0)
	})

	t.Run("numbers compare by value", func(t *testing.T) {
		assert.True(t, Num(2).Compare(Num(10)) < 0)
		assert.Equal(t, 0, Num(7).Compare(Num(7)))
	})

	t.Run("names compare bytewise", func(t *testing.T) {
		assert.True(t, Name("CS").Compare(Name("MS")) < 0)
		assert.True(t, Name("Z").Compare(Name("a")) < 0)
		assert.Equal(t, 0, Name("CS").Compare(Name("CS")))
	})
}

func TestPathOrdering(t *testing.T) {
	cs := Root().Name("CS")
	paths := []Path{
		cs.Num(2).Name("meter"),
		Root().Name("MS"),
		cs,
		Root(),
		cs.Num(10),
		cs.Num(2),
		cs.Name("aux"),
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })

	want := []string{"/", "/CS", "/CS/2", "/CS/2/meter", "/CS/10", "/CS/aux", "/MS"}
	got := make([]string, len(paths))
	for i, p := range paths {
		got[i] = p.String()
	}
	assert.Equal(t, want, got)
}

func TestPathPrefix(t *testing.T) {
	cs := Root().Name("CS")
	assert.True(t, cs.IsPrefixOf(cs))
	assert.True(t, cs.IsPrefixOf(cs.Num(1)))
	assert.True(t, Root().IsPrefixOf(cs))
	assert.False(t, cs.Num(1).IsPrefixOf(cs))
	// A shared string prefix is not a path prefix.
	assert.False(t, cs.IsPrefixOf(Root().Name("CSX")))

	// A path orders before everything it is a prefix of.
	assert.True(t, cs.Less(cs.Num(1)))
	assert.True(t, Root().Less(cs))
}

func TestPathString(t *testing.T) {
	cases := []struct {
		path Path
		want string
	}{
		{Root(), "/"},
		{Root().Name("CS").Num(1), "/CS/1"},
		{Root().Name("CS/MS").Num(65).Name("EV?S&E").Num(2), "/CS%2FMS/65/EV%3FS%26E/2"},
		{Root().Name("CS").Name("2"), "/CS/'2"},
		{Root().Name("'CS").Num(2), "/''CS/2"},
		{Root().Name("a b"), "/a%20b"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			assert.Equal(t, c.want, c.path.String())
			parsed, err := ParsePath(c.want)
			assert.NoError(t, err)
			assert.True(t, c.path.Equal(parsed))
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	_, err := ParsePath("CS/1")
	assert.IsError(t, err, ErrNoRoot)

	_, err = ParsePath("/CS/12x")
	assert.Error(t, err)

	_, err = ParsePath("/CS/%zz")
	assert.Error(t, err)
}

func TestPathJSON(t *testing.T) {
	p := Root().Name("CSMS").Num(65).Name("EVSE").Num(2)

	data, err := json.Marshal(p)
	assert.NoError(t, err)
	assert.Equal(t, `["CSMS",65,"EVSE",2]`, string(data))

	var q Path
	assert.NoError(t, json.Unmarshal(data, &q))
	assert.True(t, p.Equal(q))
}
