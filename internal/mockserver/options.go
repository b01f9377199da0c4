package mockserver

import (
	"log/slog"
	"time"

	"github.com/ashureev/tripsync/internal/clock"
)

// Option configures a Server.
type Option func(s *Server, replay *int)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server, _ *int) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server, _ *int) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithIDGenerator sets the generator for gallery and conversation ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server, _ *int) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithJobSteps sets how many worker ticks a gallery job takes to finish.
func WithJobSteps(n int) Option {
	return func(s *Server, _ *int) {
		if n > 0 {
			s.jobSteps = n
		}
	}
}

// WithFailPrefix makes jobs for trips whose id starts with prefix end in
// failure. An empty prefix disables it.
func WithFailPrefix(prefix string) Option {
	return func(s *Server, _ *int) {
		s.failPrefix = prefix
	}
}

// WithKeepalive sets the interval of stream ping frames.
func WithKeepalive(d time.Duration) Option {
	return func(s *Server, _ *int) {
		if d > 0 {
			s.keepalive = d
		}
	}
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server, _ *int) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithReplaySize bounds the per-key replay queue.
func WithReplaySize(n int) Option {
	return func(_ *Server, replay *int) {
		if n > 0 {
			*replay = n
		}
	}
}
