package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/keel/internal/store"
)

// Resubmitter re-pushes a pending operation to the external system with
// an escalated cost multiplier. The sequence number is unchanged; the
// escalation is what displaces the stuck original.
type Resubmitter interface {
	Resubmit(ctx context.Context, op store.PendingOp, costMultiplier float64) error
}

// RecoveryAttempt records one resubmission performed by a detection
// pass.
type RecoveryAttempt struct {
	Op         store.PendingOp
	Attempt    int // 1-based
	Multiplier float64
}

// StuckReport is the outcome of one DetectStuck pass.
type StuckReport struct {
	// Recovered lists operations resubmitted with an escalated cost.
	Recovered []RecoveryAttempt

	// Stuck lists operations that exhausted the recovery cap and now
	// require manual intervention.
	Stuck []store.PendingOp
}

// recoveryMultiplier escalates geometrically per attempt:
// 1.5x, 2.25x, 3.375x, ...
func recoveryMultiplier(attempt int) float64 {
	return math.Pow(1.5, float64(attempt))
}

// DetectStuck scans an identity's pending operations for entries older
// than threshold. Each is flagged exactly once per pass: recovery
// resets the submission timestamp, so an entry is not re-flagged until
// it ages past the threshold again. Entries under the recovery cap are
// resubmitted through r with a strictly increasing cost multiplier;
// entries at the cap are reported stuck, and the pass returns
// ExternalResourceStuck alongside the report.
func (c *Coordinator) DetectStuck(ctx context.Context, identity string, threshold time.Duration, r Resubmitter) (*StuckReport, error) {
	ops, err := c.store.PendingOps(ctx, identity)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	report := &StuckReport{}
	var stuckErr error

	for _, op := range ops {
		if now.Sub(op.SubmittedAt) <= threshold {
			continue
		}

		if op.Attempts >= c.maxRecoveries {
			report.Stuck = append(report.Stuck, op)
			if stuckErr == nil {
				stuckErr = &ExternalResourceStuckError{
					Identity: identity,
					Seq:      op.Seq,
					Attempts: op.Attempts,
				}
			}
			continue
		}

		attempt := op.Attempts + 1
		multiplier := recoveryMultiplier(attempt)
		if err := r.Resubmit(ctx, op, multiplier); err != nil {
			return nil, fmt.Errorf("resubmit %q seq %d: %w", identity, op.Seq, err)
		}
		if err := c.store.MarkPendingRecovery(ctx, identity, op.Seq, now); err != nil {
			return nil, err
		}
		report.Recovered = append(report.Recovered, RecoveryAttempt{
			Op:         op,
			Attempt:    attempt,
			Multiplier: multiplier,
		})
		slog.Warn("recovering stuck operation", "identity", identity, "seq", op.Seq,
			"attempt", attempt, "multiplier", multiplier)
	}

	return report, stuckErr
}
