package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero duration, got %v", err)
	}
}

func TestPollUntil(t *testing.T) {
	t.Run("returns once check reports done", func(t *testing.T) {
		calls := 0
		done, err := PollUntil(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !done || calls != 3 {
			t.Fatalf("expected done after 3 calls, got done=%v calls=%d", done, calls)
		}
	})

	t.Run("stops at timeout", func(t *testing.T) {
		start := time.Now()
		done, err := PollUntil(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if done {
			t.Fatal("expected not done on timeout")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("poll did not respect timeout, took %s", elapsed)
		}
	})

	t.Run("propagates check error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := PollUntil(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	})

	t.Run("zero timeout checks once", func(t *testing.T) {
		calls := 0
		_, _ = PollUntil(context.Background(), time.Millisecond, 0, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		if calls != 1 {
			t.Fatalf("expected single check, got %d", calls)
		}
	})
}
