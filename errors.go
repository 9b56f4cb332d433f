package statemux

import "errors"

// ErrChannelClosed is the single runtime-level error: a downstream adapter
// or reply channel is gone and cannot accept an item. It is always fatal to
// the task that raises it; restart policy belongs to the supervisor.
// Collaborator backends translate their own failures into errors wrapping
// this one.
var ErrChannelClosed = errors.New("statemux: channel closed")
