package statemux

// Input is a tagged union of the two kinds of machine input: a command,
// which may or may not yield an event, or an externally supplied event,
// which is applied directly. Externally supplied events are how history is
// replayed and how machines are chained event-to-event.
type Input[C, E any] struct {
	cmd   C
	event E
	kind  inputKind
}

type inputKind uint8

const (
	inputNone inputKind = iota
	inputCommand
	inputEvent
)

// Command wraps a command as machine input.
func Command[C, E any](c C) Input[C, E] {
	return Input[C, E]{cmd: c, kind: inputCommand}
}

// Event wraps an event as machine input.
func Event[C, E any](e E) Input[C, E] {
	return Input[C, E]{event: e, kind: inputEvent}
}

// IsCommand reports whether the input carries a command.
func (in Input[C, E]) IsCommand() bool { return in.kind == inputCommand }

// IsEvent reports whether the input carries an event.
func (in Input[C, E]) IsEvent() bool { return in.kind == inputEvent }

// Command returns the carried command. Only valid when IsCommand is true.
func (in Input[C, E]) Command() C { return in.cmd }

// Event returns the carried event. Only valid when IsEvent is true.
func (in Input[C, E]) Event() E { return in.event }
