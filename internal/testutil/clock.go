// Package testutil provides deterministic test doubles shared across
// package tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// ManualClock is a clock.Clock whose time advances only when told to.
//
// Sleep does not block on wall time: it advances the clock by the
// requested duration and returns immediately. This makes bounded-wait
// loops (lock backoff, cost-gate polling) run instantly in tests while
// preserving their observable timeout arithmetic.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewManualClock creates a clock fixed at the given start time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d and records the requested duration.
// Returns ctx.Err() if ctx is already cancelled.
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

// Advance moves the clock forward by d without recording a sleep.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns a copy of the durations requested via Sleep, in order.
// Used to assert backoff schedules.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
