package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	err := c.Sleep(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, start.Add(5*time.Second), c.Now())
	assert.Equal(t, []time.Duration{5 * time.Second}, c.Sleeps())
}

func TestManualClock_SleepCancelledContext(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Sleeps(), "cancelled sleep must not advance the clock")
}

func TestManualClock_AdvanceDoesNotRecordSleep(t *testing.T) {
	c := NewManualClock(time.Unix(100, 0))
	c.Advance(30 * time.Second)

	assert.Equal(t, time.Unix(130, 0), c.Now())
	assert.Empty(t, c.Sleeps())
}
