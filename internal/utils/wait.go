package utils

import (
	"context"
	"time"
)

var sleep = time.Sleep

// WaitFor blocks for d or until ctx is done.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sleep(d)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// PollUntil calls check every interval until it reports done, the timeout
// elapses or ctx is cancelled. The first check runs immediately.
// It returns true only when check reported done.
func PollUntil(ctx context.Context, interval, timeout time.Duration, check func(context.Context) (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	for {
		done, err := check(ctx)
		if err != nil || done {
			return done, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}

		if err := WaitFor(ctx, wait); err != nil {
			return false, err
		}
	}
}
