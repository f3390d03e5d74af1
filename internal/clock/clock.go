// Package clock abstracts wall time so that every bounded wait in the
// engine (lock acquisition backoff, cost-gate polling, stuck-operation
// thresholds) can run against a manual clock in tests.
package clock

import (
	"context"
	"time"
)

// Clock provides the current time and context-aware sleeping.
//
// Production code uses Real. Tests use testutil.ManualClock, which
// advances only when told to, keeping timeout behavior testable without
// real wall-clock delays.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is cancelled, whichever comes
	// first. Returns ctx.Err() on cancellation, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall-clock implementation of Clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep waits using a timer so cancellation is honored promptly.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
