package ask_test

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/internal/fsmtest"
	"github.com/edgefleet/statemux/kvstore"
	"github.com/edgefleet/statemux/kvstore/ask"
)

type counterSeq = iter.Seq2[kvstore.Path, *fsmtest.Counter]

func newStoreMachine() *statemux.Machine[kvstore.Map[fsmtest.Counter], kvstore.Query[fsmtest.Counter, fsmtest.CounterEvent], kvstore.Keyed[fsmtest.CounterEvent], kvstore.Keyed[fsmtest.Tock], *kvstore.Effects[fsmtest.Tock, *fsmtest.CounterEffects]] {
	return kvstore.NewMachine[fsmtest.Counter, fsmtest.CounterCommand, fsmtest.CounterEvent, fsmtest.Tock](fsmtest.CounterFSM{}, &fsmtest.CounterEffects{})
}

func tickBy(ctx context.Context, t *testing.T, r *ask.Requester[fsmtest.Counter, fsmtest.CounterEvent], path kvstore.Path, n int) {
	t.Helper()
	for range n {
		_, err := ask.Upsert(ctx, r, path, func(v *fsmtest.Counter) fsmtest.CounterEvent {
			return fsmtest.CounterEvent{Kind: fsmtest.Ticked}
		})
		assert.NoError(t, err)
	}
}

func TestAsk_UpsertThenGet(t *testing.T) {
	m := newStoreMachine()
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	r := ask.New[fsmtest.Counter, fsmtest.CounterEvent](m.Input())
	cs1 := kvstore.Root().Name("CS").Num(1)

	extant, err := ask.Upsert(ctx, r, cs1, func(v *fsmtest.Counter) fsmtest.CounterEvent {
		assert.Zero(t, v)
		return fsmtest.CounterEvent{Kind: fsmtest.Ticked}
	})
	assert.NoError(t, err)
	assert.Equal(t, kvstore.NotFound, extant)

	extant, err = ask.Upsert(ctx, r, cs1, func(v *fsmtest.Counter) fsmtest.CounterEvent {
		return fsmtest.CounterEvent{Kind: fsmtest.Ticked}
	})
	assert.NoError(t, err)
	assert.Equal(t, kvstore.Found, extant)

	count, err := ask.Get(ctx, r, cs1, func(v *fsmtest.Counter) int {
		if v == nil {
			return -1
		}
		return v.Count
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	m.Input().Close()
	assert.NoError(t, g.Wait())
}

func TestAsk_TreeQueries(t *testing.T) {
	m := newStoreMachine()
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	r := ask.New[fsmtest.Counter, fsmtest.CounterEvent](m.Input())

	cs := kvstore.Root().Name("CS")
	tickBy(ctx, t, r, cs.Num(1), 33)
	tickBy(ctx, t, r, cs.Num(2), 33)
	tickBy(ctx, t, r, cs.Num(3), 33)
	tickBy(ctx, t, r, kvstore.Root().Name("MS"), 5)

	sum := func(seq counterSeq) int {
		total := 0
		for _, v := range seq {
			total += v.Count
		}
		return total
	}

	t.Run("get all", func(t *testing.T) {
		total, err := ask.GetAll(ctx, r, sum)
		assert.NoError(t, err)
		assert.Equal(t, 104, total)
	})

	t.Run("get tree", func(t *testing.T) {
		total, err := ask.GetTree(ctx, r, cs, sum)
		assert.NoError(t, err)
		assert.Equal(t, 99, total)
	})

	t.Run("get range", func(t *testing.T) {
		total, err := ask.GetRange(ctx, r, kvstore.Included(cs.Num(2)), kvstore.Excluded(cs.Num(3)), sum)
		assert.NoError(t, err)
		assert.Equal(t, 33, total)
	})

	m.Input().Close()
	assert.NoError(t, g.Wait())
}

func TestAsk_Insert(t *testing.T) {
	m := newStoreMachine()
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	r := ask.New[fsmtest.Counter, fsmtest.CounterEvent](m.Input())
	cs := kvstore.Root().Name("CS")

	nextFree := func(seq counterSeq) kvstore.Keyed[fsmtest.CounterEvent] {
		var next uint64
		for p := range seq {
			if cs.IsPrefixOf(p) && len(p) == 2 && p[1].Number() >= next {
				next = p[1].Number() + 1
			}
		}
		return kvstore.Keyed[fsmtest.CounterEvent]{
			Key:  cs.Num(next),
			Item: fsmtest.CounterEvent{Kind: fsmtest.Ticked},
		}
	}

	first, err := ask.Insert(ctx, r, nextFree)
	assert.NoError(t, err)
	assert.True(t, first.Equal(cs.Num(0)))

	second, err := ask.Insert(ctx, r, nextFree)
	assert.NoError(t, err)
	assert.True(t, second.Equal(cs.Num(1)))

	m.Input().Close()
	assert.NoError(t, g.Wait())
}

func TestAsk_DeadMachine(t *testing.T) {
	t.Run("request to a stopped machine fails", func(t *testing.T) {
		m := newStoreMachine()
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error { return m.Run(ctx) })
		m.Input().Close()
		assert.NoError(t, g.Wait())

		r := ask.New[fsmtest.Counter, fsmtest.CounterEvent](m.Input())
		_, err := ask.Get(context.Background(), r, kvstore.Root(), func(v *fsmtest.Counter) int { return 0 })
		assert.IsError(t, err, statemux.ErrChannelClosed)
	})

	t.Run("request times out when nothing is serving the queue", func(t *testing.T) {
		m := newStoreMachine()
		r := ask.New[fsmtest.Counter, fsmtest.CounterEvent](m.Input())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := ask.Get(ctx, r, kvstore.Root(), func(v *fsmtest.Counter) int { return 0 })
		assert.IsError(t, err, context.DeadlineExceeded)
	})
}
