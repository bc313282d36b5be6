package transport

import (
	"context"
	"time"
)

// Backoff bounds.
const (
	baseDelay = 1000 * time.Millisecond
	maxDelay  = 900000 * time.Millisecond
)

// Delay returns the reconnect sleep after the nth consecutive failure:
// min(1000 * 2^n, 900000) milliseconds.
func Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	// 2^20 already exceeds the cap; avoid shifting into overflow.
	if n > 20 {
		return maxDelay
	}
	d := baseDelay << uint(n)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// WaitUntil suspends until pred becomes true, polling with an exponentially
// increasing delay (50ms doubling up to 15s), retrying without bound. It
// returns ctx.Err() only when the context ends first.
func WaitUntil(ctx context.Context, pred func() bool) error {
	const (
		pollBase = 50 * time.Millisecond
		pollMax  = 15 * time.Second
	)
	delay := pollBase
	for {
		if pred() {
			return nil
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		if delay < pollMax {
			delay *= 2
			if delay > pollMax {
				delay = pollMax
			}
		}
	}
}
