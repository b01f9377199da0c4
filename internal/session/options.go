package session

import (
	"log/slog"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/store"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithID sets the local session id. A uuid is generated otherwise.
func WithID(id string) Option {
	return func(r *Reconciler) { r.id = id }
}

// WithClock sets the clock used for message timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.clk = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithJournal records thread adoption, conflicts and deletions to j.
func WithJournal(j store.Journal) Option {
	return func(r *Reconciler) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithIDGenerator overrides local message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.newID = fn
		}
	}
}
