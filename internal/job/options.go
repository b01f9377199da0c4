package job

import (
	"log/slog"
	"time"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/store"
)

const (
	// DefaultPollInterval is the wait before each poll.
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxPolls bounds polling per submission (a five minute ceiling).
	DefaultMaxPolls = 30
	// DefaultRemediationDelay is the wait between deleting a failed job and
	// resubmitting.
	DefaultRemediationDelay = time.Second
	// DefaultPhotoConcurrency bounds concurrent per-place photo fetches.
	DefaultPhotoConcurrency = 4
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for poll and remediation waits.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clk = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithJournal records job transitions to j.
func WithJournal(j store.Journal) Option {
	return func(o *Orchestrator) {
		if j != nil {
			o.journal = j
		}
	}
}

// WithPolling overrides the poll interval and ceiling.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(o *Orchestrator) {
		if interval >= 0 {
			o.pollInterval = interval
		}
		if maxPolls > 0 {
			o.maxPolls = maxPolls
		}
	}
}

// WithRemediationDelay overrides the wait before the remediation resubmit.
func WithRemediationDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.remediationDelay = d
		}
	}
}

// WithPhotoConcurrency bounds concurrent photo fetches after completion.
func WithPhotoConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.photoConcurrency = n
		}
	}
}
