package progress

import (
	"log/slog"

	"github.com/ashureev/tripsync/internal/clock"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithSequenceReset chooses what happens to the high-water mark when a key
// is reconnected. With reset (the default) each connection numbers its
// frames from scratch. Without it the mark is kept and streams that support
// it are asked to resume after it.
func WithSequenceReset(reset bool) Option {
	return func(a *Adapter) { a.resetSequence = reset }
}

// WithHistory sets how many recent events are kept per key.
func WithHistory(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.historySize = n
		}
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) {
		if c != nil {
			a.clk = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}
