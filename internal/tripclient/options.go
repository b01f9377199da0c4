package tripclient

import (
	"log/slog"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/job"
	"github.com/ashureev/tripsync/internal/progress"
	"github.com/ashureev/tripsync/internal/session"
	"github.com/ashureev/tripsync/internal/store"
)

// Option configures a Client.
type Option func(c *Client, progressOpts *[]progress.Option)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client, _ *[]progress.Option) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock handed to every component.
func WithClock(clk clock.Clock) Option {
	return func(c *Client, _ *[]progress.Option) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// WithJournal records job and session activity to j.
func WithJournal(j store.Journal) Option {
	return func(c *Client, _ *[]progress.Option) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithJobOptions appends options for every gallery orchestrator.
func WithJobOptions(opts ...job.Option) Option {
	return func(c *Client, _ *[]progress.Option) {
		c.jobOpts = append(c.jobOpts, opts...)
	}
}

// WithSessionOptions appends options for every session reconciler.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Client, _ *[]progress.Option) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// WithProgressOptions appends options for the progress adapter.
func WithProgressOptions(opts ...progress.Option) Option {
	return func(_ *Client, progressOpts *[]progress.Option) {
		*progressOpts = append(*progressOpts, opts...)
	}
}
