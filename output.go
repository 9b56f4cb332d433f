package statemux

// OutputBuffer is the standard effect handler: it accumulates output
// messages during a step, and the machine drains and dispatches them, in
// order, after the step completes.
type OutputBuffer[A any] struct {
	items []A
}

// Push appends an output message.
func (b *OutputBuffer[A]) Push(item A) {
	b.items = append(b.items, item)
}

// DrainAll extracts and clears the pending outputs.
func (b *OutputBuffer[A]) DrainAll() []A {
	items := b.items
	b.items = nil
	return items
}

// Len reports the number of pending outputs.
func (b *OutputBuffer[A]) Len() int { return len(b.items) }
