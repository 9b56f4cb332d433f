package statemux_test

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/internal/fsmtest"
)

type counterMachine = statemux.Machine[fsmtest.Counter, fsmtest.CounterCommand, fsmtest.CounterEvent, fsmtest.Tock, *fsmtest.CounterEffects]

func newCounterMachine(se *fsmtest.CounterEffects, opts ...statemux.Option) *counterMachine {
	return statemux.New[fsmtest.Counter, fsmtest.CounterCommand, fsmtest.CounterEvent, fsmtest.Tock](fsmtest.CounterFSM{}, se, opts...)
}

func sendTicks(ctx context.Context, t *testing.T, m *counterMachine, n int) {
	t.Helper()
	for range n {
		err := m.Input().Send(ctx, tickEvent())
		assert.NoError(t, err)
	}
}

func TestMachine_TickTock(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	out := &statemux.SliceAdapter[fsmtest.Tock]{}
	se := &fsmtest.CounterEffects{}
	m := newCounterMachine(se).WithEventLog(log).WithOutput(out)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })

	sendTicks(ctx, t, m, 99)
	m.Input().Close()
	assert.NoError(t, g.Wait())

	assert.Equal(t, 99, len(log.Items))
	assert.Equal(t, 9, len(out.Items))
	assert.Equal(t, 10, out.Items[0].Count)
	assert.Equal(t, 90, out.Items[8].Count)
	assert.Equal(t, 1, se.Inits)
	assert.Equal(t, 0, se.Hydrated)
}

func TestMachine_HydrationReplaysWithoutEffects(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	for range 25 {
		log.Items = append(log.Items, fsmtest.CounterEvent{Kind: fsmtest.Ticked})
	}
	out := &statemux.SliceAdapter[fsmtest.Tock]{}
	se := &fsmtest.CounterEffects{}
	m := newCounterMachine(se).WithEventLog(log).WithOutput(out)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	m.Input().Close()
	assert.NoError(t, g.Wait())

	// Replay rebuilds state through OnEvent only: the counter is at 25 but no
	// change handling ran, so the tocks at 10 and 20 were not re-emitted.
	assert.Equal(t, 25, se.Hydrated)
	assert.Equal(t, 0, len(out.Items))
	assert.Equal(t, 0, se.Changes)
	assert.Equal(t, 25, len(log.Items))
}

func TestMachine_RestartResumesFromLog(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}

	first := &fsmtest.CounterEffects{}
	m1 := newCounterMachine(first).WithEventLog(log)
	g1, ctx1 := errgroup.WithContext(context.Background())
	g1.Go(func() error { return m1.Run(ctx1) })
	sendTicks(ctx1, t, m1, 7)
	m1.Input().Close()
	assert.NoError(t, g1.Wait())

	out := &statemux.SliceAdapter[fsmtest.Tock]{}
	second := &fsmtest.CounterEffects{}
	m2 := newCounterMachine(second).WithEventLog(log).WithOutput(out)
	g2, ctx2 := errgroup.WithContext(context.Background())
	g2.Go(func() error { return m2.Run(ctx2) })
	sendTicks(ctx2, t, m2, 3)
	m2.Input().Close()
	assert.NoError(t, g2.Wait())

	assert.Equal(t, 7, second.Hydrated)
	assert.Equal(t, 10, len(log.Items))
	assert.Equal(t, []fsmtest.Tock{{Count: 10}}, out.Items)
}

func TestMachine_TerminatingEventStopsMachine(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	se := &fsmtest.CounterEffects{}
	m := newCounterMachine(se).WithEventLog(log)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })

	sendTicks(ctx, t, m, 2)
	stop := statemux.Event[fsmtest.CounterCommand](fsmtest.CounterEvent{Kind: fsmtest.Stopped})
	assert.NoError(t, m.Input().Send(ctx, stop))
	assert.NoError(t, g.Wait())

	// The terminating event is committed before the machine stops, and the
	// mailbox is closed so late senders fail instead of blocking.
	assert.Equal(t, 3, len(log.Items))
	assert.Equal(t, fsmtest.Stopped, log.Items[2].Kind)
	err := m.Input().Send(context.Background(), tickEvent())
	assert.IsError(t, err, statemux.ErrChannelClosed)
}

func TestMachine_EventFanOut(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	observer := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	se := &fsmtest.CounterEffects{}
	m := newCounterMachine(se).WithEventLog(log).MergeEventLog(observer)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })
	sendTicks(ctx, t, m, 3)
	m.Input().Close()
	assert.NoError(t, g.Wait())

	assert.Equal(t, log.Items, observer.Items)
	assert.Equal(t, 3, len(observer.Items))
}

func TestMachine_RejectedInputIsNotLogged(t *testing.T) {
	log := &statemux.SliceAdapter[fsmtest.CounterEvent]{}
	se := &fsmtest.CounterEffects{}
	m := newCounterMachine(se).WithEventLog(log)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return m.Run(ctx) })

	// Reset at zero is refused by the FSM, so nothing reaches the log.
	reset := statemux.Command[fsmtest.CounterCommand, fsmtest.CounterEvent](fsmtest.CounterCommand{Kind: fsmtest.Reset})
	assert.NoError(t, m.Input().Send(ctx, reset))
	m.Input().Close()
	assert.NoError(t, g.Wait())

	assert.Equal(t, 0, len(log.Items))
}
