// Package store provides the diagnostic activity journal. Entries are
// written as jobs and sessions change and are never read back into engine
// state.
package store

import (
	"context"
	"time"
)

// JobEntry records one notable step in a gallery job's life.
type JobEntry struct {
	OwnerKey   string
	JobID      string
	Event      string
	Status     string
	RetryCount int
	Polls      int
	ErrorKind  string
	Message    string
	At         time.Time
}

// SessionEntry records a session anomaly or lifecycle step, such as a
// thread id conflict.
type SessionEntry struct {
	SessionID string
	ThreadID  string
	Event     string
	Detail    string
	At        time.Time
}

// Journal defines the interface for recording engine activity.
type Journal interface {
	// RecordJob appends a job entry.
	RecordJob(ctx context.Context, e JobEntry) error

	// RecordSession appends a session entry.
	RecordSession(ctx context.Context, e SessionEntry) error

	// JobHistory returns entries for ownerKey, oldest first.
	JobHistory(ctx context.Context, ownerKey string) ([]JobEntry, error)

	// SessionHistory returns entries for sessionID, oldest first.
	SessionHistory(ctx context.Context, sessionID string) ([]SessionEntry, error)

	// Prune removes entries recorded before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases the underlying storage.
	Close() error
}

// Noop discards everything. It is the default journal.
type Noop struct{}

var _ Journal = Noop{}

func (Noop) RecordJob(context.Context, JobEntry) error         { return nil }
func (Noop) RecordSession(context.Context, SessionEntry) error { return nil }
func (Noop) JobHistory(context.Context, string) ([]JobEntry, error) {
	return nil, nil
}
func (Noop) SessionHistory(context.Context, string) ([]SessionEntry, error) {
	return nil, nil
}
func (Noop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (Noop) Close() error                                    { return nil }
