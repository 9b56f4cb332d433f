package statemux

import "log/slog"

type config struct {
	buffer int
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*config)

// WithBuffer sets the mailbox capacity.
var WithBuffer = func(n int) Option {
	return func(c *config) {
		c.buffer = n
	}
}

// WithLogger sets the machine's logger.
var WithLogger = func(log *slog.Logger) Option {
	return func(c *config) {
		c.logger = log
	}
}

// NullLogger creates a logger that discards all output.
func NullLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
