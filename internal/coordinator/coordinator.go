// Package coordinator issues strictly-ordered sequence numbers per
// external identity, tracks in-flight operations until confirmation,
// recovers stuck ones with escalating cost, and gates submissions on a
// congestion signal.
//
// Tracked state lives in the durable store; the external system itself
// is reached only through the GroundTruth, Resubmitter, and CostSource
// interfaces, so tests drive the coordinator without any real external
// resource.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/keel/internal/clock"
	"github.com/roach88/keel/internal/store"
)

// DefaultMaxRecoveries caps stuck-operation resubmissions per entry.
const DefaultMaxRecoveries = 3

// GroundTruth queries the external system's view of an identity: the
// true next-unused sequence value, independent of local tracking.
type GroundTruth interface {
	ConfirmedSequence(ctx context.Context, identity string) (uint64, error)
}

// Coordinator tracks per-identity ordered-sequence state.
type Coordinator struct {
	store         *store.Store
	clock         clock.Clock
	ground        GroundTruth
	maxRecoveries int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects a clock for pending-operation age arithmetic.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithMaxRecoveries sets the resubmission cap per pending operation.
func WithMaxRecoveries(n int) Option {
	return func(co *Coordinator) { co.maxRecoveries = n }
}

// New creates a Coordinator persisting through st and reconciling
// against ground.
func New(st *store.Store, ground GroundTruth, opts ...Option) *Coordinator {
	co := &Coordinator{
		store:         st,
		clock:         clock.Real{},
		ground:        ground,
		maxRecoveries: DefaultMaxRecoveries,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// GetNext issues the next sequence value for an identity.
//
// The issued value is max(trackedCurrent, groundTruth), which absorbs
// operations issued externally that this coordinator did not originate.
// Tracked state then advances past the issued value, so values are
// never reused while a pending entry is unconfirmed (Resync is the one
// exception, when ground truth proves them applied).
func (c *Coordinator) GetNext(ctx context.Context, identity string) (uint64, error) {
	tracked, err := c.store.SequenceCurrent(ctx, identity)
	if err != nil {
		return 0, err
	}
	observed, err := c.ground.ConfirmedSequence(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("ground truth for %q: %w", identity, err)
	}

	next := tracked
	if observed > next {
		next = observed
	}
	if err := c.store.SetSequenceCurrent(ctx, identity, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// RecordPending tracks an in-flight operation until Confirm or Resync
// clears it.
func (c *Coordinator) RecordPending(ctx context.Context, identity string, seq uint64, handle string) error {
	return c.store.AddPending(ctx, identity, seq, handle, c.clock.Now())
}

// Confirm clears an in-flight operation by handle. Confirming an
// already-cleared handle is a no-op.
func (c *Coordinator) Confirm(ctx context.Context, identity, handle string) error {
	return c.store.ConfirmPending(ctx, identity, handle)
}

// Pending returns the identity's in-flight operations in sequence order.
func (c *Coordinator) Pending(ctx context.Context, identity string) ([]store.PendingOp, error) {
	return c.store.PendingOps(ctx, identity)
}

// Resync reconciles tracked state with ground truth. When the external
// system has moved past the tracked value, the higher value is adopted
// and pending entries at already-applied sequence numbers are cleared.
// The tracked value never decreases. Returns the tracked value after
// reconciliation.
func (c *Coordinator) Resync(ctx context.Context, identity string) (uint64, error) {
	tracked, err := c.store.SequenceCurrent(ctx, identity)
	if err != nil {
		return 0, err
	}
	observed, err := c.ground.ConfirmedSequence(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("ground truth for %q: %w", identity, err)
	}
	if observed <= tracked {
		return tracked, nil
	}

	if err := c.store.SetSequenceCurrent(ctx, identity, observed); err != nil {
		return 0, err
	}
	if err := c.store.ClearPendingThrough(ctx, identity, observed-1); err != nil {
		return 0, err
	}
	slog.Info("resynced sequence state", "identity", identity, "tracked", tracked, "observed", observed)
	return observed, nil
}
