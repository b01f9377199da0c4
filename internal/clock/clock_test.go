package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealSleepHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Real{}.Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly")
	}
}

func TestFakeRecordsAndAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 10*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Sleep(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.Now().Sub(start); got != 11*time.Second {
		t.Fatalf("expected 11s elapsed, got %s", got)
	}
	sleeps := f.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Second || sleeps[1] != time.Second {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
}

func TestFakeOnSleepCanCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFake(time.Time{})
	f.OnSleep = func(time.Duration) { cancel() }

	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n := len(f.Sleeps()); n != 1 {
		t.Fatalf("expected one recorded sleep, got %d", n)
	}
}
