// Package statemux is an event-sourced state-machine runtime. A state
// machine is defined by four types: its state S, the commands C it accepts,
// the events E it emits, and an effect handler SE through which it performs
// side effects. Commands may produce events; only events mutate state. State
// can be reconstituted at any time by replaying the event history.
//
// A Machine runs one such state machine as a task: it hydrates state from an
// event log, then serializes inputs from a bounded mailbox through Step,
// appending emitted events to the log and flushing effect outputs to an
// output adapter.
package statemux

// Change describes the kind of state change OnEvent performed.
type Change int

const (
	// NoChange means the event did not apply; state is untouched and the
	// event is dropped without logging or effects.
	NoChange Change = iota

	// Transitioned means state moved to a logically new phase.
	Transitioned

	// Updated means state mutated in place within the same phase.
	Updated
)

func (c Change) String() string {
	switch c {
	case Transitioned:
		return "transitioned"
	case Updated:
		return "updated"
	default:
		return "none"
	}
}

// FSM describes a state machine over a state type S, command type C, event
// type E and effect handler type SE.
//
// Effect handlers must be synchronous and non-blocking. If an effect must
// communicate with another task, represent the intermediate state in the
// machine itself and use a non-blocking send, reacting to the outcome with a
// further event.
type FSM[S, C, E, SE any] interface {
	// ForCommand decides whether the command yields an event, given the
	// current state. It may perform effects through se but must not mutate
	// state. Generally only called from Step.
	ForCommand(s *S, c C, se SE) (E, bool)

	// OnEvent applies the event to state and reports the kind of change, or
	// NoChange if the event does not apply in the current state. This is the
	// only function permitted to mutate state, and the function used to
	// replay history. It must not perform effects.
	OnEvent(s *S, e E) Change

	// OnChange reacts to a state change with the post-mutation state. Entry
	// style processing belongs here, branching on change. Generally only
	// called from Step.
	OnChange(s *S, e E, se SE, change Change)
}

// Step is the common entry point to an FSM. A command input is decided by
// ForCommand; an event input is treated as already decided. The resulting
// event, if any, is applied with OnEvent, and OnChange runs if state changed.
// The applied event is returned so the caller can record it; ok is false when
// nothing happened (and nothing must be logged).
func Step[S, C, E, SE any](f FSM[S, C, E, SE], s *S, in Input[C, E], se SE) (event E, ok bool) {
	var e E
	switch {
	case in.IsCommand():
		e, ok = f.ForCommand(s, in.Command(), se)
		if !ok {
			return event, false
		}
	case in.IsEvent():
		e = in.Event()
	default:
		return event, false
	}
	change := f.OnEvent(s, e)
	if change == NoChange {
		return event, false
	}
	f.OnChange(s, e, se, change)
	return e, true
}

// Terminating is implemented by event types that can tear down their owning
// machine, or a multiplexer entry. Event types that never terminate need not
// implement it.
type Terminating interface {
	Terminating() bool
}

// IsTerminating reports whether v is a terminating event. Values that do not
// implement Terminating never terminate.
func IsTerminating(v any) bool {
	t, ok := v.(Terminating)
	return ok && t.Terminating()
}

// Drain is implemented by effect handlers that accumulate output messages.
// DrainAll extracts and clears the pending outputs, in the order they were
// produced.
type Drain[O any] interface {
	DrainAll() []O
}

// Init is implemented by effect handlers that prime themselves from freshly
// hydrated state, before the first input is processed. Effect handlers
// without an Init method are used as-is.
type Init[S any] interface {
	Init(s *S)
}
