package statemux

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBuffer is the default machine input backlog limit.
const DefaultBuffer = 10

// Machine owns one state-machine instance and runs it as a task. It has an
// input mailbox, and adapters for the event log and for output messages.
// The types of inputs, events and outputs are part of the state machine
// specification; the wiring of inputs and outputs is independent of it.
//
// Once running, a machine
//   - hydrates state by replaying the event log through OnEvent only,
//   - initialises the effect handler with the hydrated state,
//   - flushes outputs produced during initialisation,
//   - loops over mailbox input, stepping the FSM, appending any emitted
//     event to the log and flushing effect outputs,
//   - returns when the mailbox is closed and drained, a terminating event is
//     processed, or an adapter fails.
type Machine[S, C, E, O any, SE Drain[O]] struct {
	fsm     FSM[S, C, E, SE]
	effects SE
	mailbox *Mailbox[Input[C, E]]

	log    EventLog[E]
	events Adapter[E]
	output Adapter[O]

	logger *slog.Logger
}

// New creates a machine for the given FSM and effect handler. The event log
// and output ports default to placeholders; wire them with WithEventLog,
// WithOutput and the Merge variants before calling Run.
func New[S, C, E, O any, SE Drain[O]](fsm FSM[S, C, E, SE], effects SE, opts ...Option) *Machine[S, C, E, O, SE] {
	cfg := config{buffer: DefaultBuffer, logger: NullLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine[S, C, E, O, SE]{
		fsm:     fsm,
		effects: effects,
		mailbox: NewMailbox[Input[C, E]](cfg.buffer),
		log:     Placeholder[E]{},
		events:  Placeholder[E]{},
		output:  Placeholder[O]{},
		logger:  cfg.logger,
	}
}

// Input returns the machine's mailbox. Any number of senders may share it.
func (m *Machine[S, C, E, O, SE]) Input() *Mailbox[Input[C, E]] {
	return m.mailbox
}

// WithEventLog connects an event log that provides initialisation from
// historical events and records live events. Replaces any existing log.
func (m *Machine[S, C, E, O, SE]) WithEventLog(log EventLog[E]) *Machine[S, C, E, O, SE] {
	m.log = log
	return m
}

// MergeEventLog connects an additional adapter that observes every committed
// event, enabling fan-out of events. A stalled adapter stalls the machine.
func (m *Machine[S, C, E, O, SE]) MergeEventLog(events Adapter[E]) *Machine[S, C, E, O, SE] {
	m.events = MergeAdapters(m.events, events)
	return m
}

// WithOutput connects the destination for effect-produced output messages.
// Replaces any existing output adapter.
func (m *Machine[S, C, E, O, SE]) WithOutput(output Adapter[O]) *Machine[S, C, E, O, SE] {
	m.output = output
	return m
}

// MergeOutput connects an additional output destination, enabling fan-out.
// Each merged adapter receives all output messages; a stalled adapter stalls
// the machine.
func (m *Machine[S, C, E, O, SE]) MergeOutput(output Adapter[O]) *Machine[S, C, E, O, SE] {
	m.output = MergeAdapters(m.output, output)
	return m
}

// Run executes the machine until its mailbox is closed and drained, a
// terminating event is processed, or an adapter fails. Input is strictly
// serialized: Step calls for this machine never overlap.
func (m *Machine[S, C, E, O, SE]) Run(ctx context.Context) error {
	// Closing the mailbox on the way out fails late senders and pending
	// requesters instead of leaving them blocked.
	defer m.mailbox.Close()

	// Construct the default state and hydrate it from the log. The hydrator
	// applies OnEvent only: no change handling, no recording, no outputs.
	var state S
	replayed := 0
	hydrator := AdapterFunc[E](func(_ context.Context, e E) error {
		m.fsm.OnEvent(&state, e)
		replayed++
		return nil
	})
	if err := m.log.Feed(ctx, hydrator); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	m.logger.Debug("hydrated", "events", replayed)

	// Initialise the effect handler with the hydrated state, and flush any
	// outputs that produced.
	if init, ok := any(m.effects).(Init[S]); ok {
		init.Init(&state)
	}
	if err := m.flush(ctx); err != nil {
		return err
	}

	for {
		input, ok := m.mailbox.recv(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.logger.Debug("mailbox closed")
			return nil
		}

		terminating := false
		if e, ok := Step(m.fsm, &state, input, m.effects); ok {
			terminating = IsTerminating(e)
			if err := m.log.Notify(ctx, e); err != nil {
				return fmt.Errorf("event log: %w", err)
			}
			if err := m.events.Notify(ctx, e); err != nil {
				return fmt.Errorf("event fan-out: %w", err)
			}
		}

		if err := m.flush(ctx); err != nil {
			return err
		}

		if terminating {
			m.logger.Debug("terminating event processed")
			return nil
		}
	}
}

func (m *Machine[S, C, E, O, SE]) flush(ctx context.Context) error {
	for _, item := range m.effects.DrainAll() {
		if err := m.output.Notify(ctx, item); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	return nil
}
