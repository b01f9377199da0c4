// Package retry implements the bounded retry controller shared by job
// polling, remediation and journal writes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/tripsync/internal/clock"
)

// Policy describes how often and when an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations allowed, at least 1.
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Retryable decides whether a failure may be tried again.
	Retryable func(err error) bool
}

// ExhaustedError is returned when every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Fixed returns a backoff with a constant delay.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential doubles base on each attempt, capped at max (when max > 0).
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d := base * time.Duration(1<<shift)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempt budget is spent. Waits happen on clk so they can be
// faked in tests.
func Do[T any](ctx context.Context, clk clock.Clock, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return v, err
		}
		if attempt >= maxAttempts {
			return v, &ExhaustedError{Attempts: attempt, Err: err}
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if sleepErr := clk.Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

// Attempt is Do for operations without a result value.
func Attempt(ctx context.Context, clk clock.Clock, p Policy, op func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, clk, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}
