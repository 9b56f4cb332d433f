// Package fsmtest provides small state machines used by tests across the
// module: a counter that emits a tock every ten ticks, and a two-phase gate
// that distinguishes transitions from in-state updates.
package fsmtest

import (
	"fmt"

	"github.com/edgefleet/statemux"
)

// CounterEventKind enumerates counter events.
type CounterEventKind int

const (
	Ticked CounterEventKind = iota
	Reset
	Stopped
)

// CounterEvent advances, resets, or stops a counter.
type CounterEvent struct {
	Kind CounterEventKind `json:"kind"`
}

// Terminating reports whether the event stops the counter's machine.
func (e CounterEvent) Terminating() bool {
	return e.Kind == Stopped
}

// CounterCommand requests the event of the same kind. Reset is rejected when
// the counter is already zero.
type CounterCommand struct {
	Kind CounterEventKind
}

// Counter is the state: a tick count.
type Counter struct {
	Count int
}

// Tock is emitted to the output every tenth tick.
type Tock struct {
	Count int
}

// CounterEffects collects tocks and records lifecycle calls. Hydrated is the
// count observed at Init time, i.e. after replay and before live input.
type CounterEffects struct {
	statemux.OutputBuffer[Tock]
	Inits    int
	Changes  int
	Hydrated int
}

func (e *CounterEffects) Init(s *Counter) {
	e.Inits++
	e.Hydrated = s.Count
}

// CounterFSM counts ticks and emits a Tock every ten of them.
type CounterFSM struct{}

func (CounterFSM) ForCommand(s *Counter, c CounterCommand, se *CounterEffects) (CounterEvent, bool) {
	if c.Kind == Reset && s.Count == 0 {
		return CounterEvent{}, false
	}
	return CounterEvent{Kind: c.Kind}, true
}

func (CounterFSM) OnEvent(s *Counter, e CounterEvent) statemux.Change {
	switch e.Kind {
	case Ticked:
		s.Count++
		return statemux.Updated
	case Reset:
		if s.Count == 0 {
			return statemux.NoChange
		}
		s.Count = 0
		return statemux.Transitioned
	case Stopped:
		return statemux.Updated
	default:
		return statemux.NoChange
	}
}

func (CounterFSM) OnChange(s *Counter, e CounterEvent, se *CounterEffects, change statemux.Change) {
	se.Changes++
	if e.Kind == Ticked && s.Count > 0 && s.Count%10 == 0 {
		se.Push(Tock{Count: s.Count})
	}
}

// CounterKey is the compaction key for counter events: ticks accumulate
// under one key so a compacted log keeps only the latest.
func CounterKey(e CounterEvent) string {
	return "counter"
}

// GatePhase is the gate's operating phase.
type GatePhase int

const (
	Idle GatePhase = iota
	Running
)

func (p GatePhase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// GateEventKind enumerates gate events.
type GateEventKind int

const (
	Started GateEventKind = iota
	Halted
	Nudged
)

// GateEvent drives the gate between phases. Started and Halted are no-ops
// when the gate is already in the target phase; Nudged updates in place while
// running.
type GateEvent struct {
	Kind GateEventKind `json:"kind"`
}

// Gate is a two-phase machine state.
type Gate struct {
	Phase  GatePhase
	Nudges int
}

// GateEffects counts phase entries and records each change notification.
type GateEffects struct {
	statemux.OutputBuffer[string]
	Entries int
}

// GateFSM moves a gate between Idle and Running.
type GateFSM struct{}

func (GateFSM) ForCommand(s *Gate, c GateEvent, se *GateEffects) (GateEvent, bool) {
	return c, true
}

func (GateFSM) OnEvent(s *Gate, e GateEvent) statemux.Change {
	switch e.Kind {
	case Started:
		if s.Phase == Running {
			return statemux.NoChange
		}
		s.Phase = Running
		return statemux.Transitioned
	case Halted:
		if s.Phase == Idle {
			return statemux.NoChange
		}
		s.Phase = Idle
		return statemux.Transitioned
	case Nudged:
		if s.Phase != Running {
			return statemux.NoChange
		}
		s.Nudges++
		return statemux.Updated
	default:
		return statemux.NoChange
	}
}

func (GateFSM) OnChange(s *Gate, e GateEvent, se *GateEffects, change statemux.Change) {
	if change == statemux.Transitioned {
		se.Entries++
		se.Push("entered " + s.Phase.String())
	}
}
