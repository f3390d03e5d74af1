package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/snapshot"
	"github.com/roach88/keel/internal/store"
)

// RollbackMethod names the mechanism that performed a rollback.
type RollbackMethod string

const (
	MethodSnapshot     RollbackMethod = "snapshot"
	MethodBackup       RollbackMethod = "backup"
	MethodCompensation RollbackMethod = "compensation"
)

// RollbackRequest describes the available rollback paths for a batch,
// in preference order: a pre-batch snapshot, then the document's backup
// ring, then compensation replay from the batch's change log.
type RollbackRequest struct {
	// SnapshotID is the pre-batch snapshot, empty when none was taken.
	SnapshotID string

	// DocumentID selects the backup-ring fallback.
	DocumentID string

	// Batch supplies compensate functions for change-log replay. The
	// change log records which operations committed, but the inverse
	// actions themselves are not serializable, so the caller re-supplies
	// the batch definition.
	Batch *executor.Batch
}

// Reverter executes the rollback path after a failed verification.
type Reverter struct {
	store *store.Store
	snaps *snapshot.Manager
}

// NewReverter creates a Reverter. snaps may be nil when no snapshot
// manager is in play.
func NewReverter(st *store.Store, snaps *snapshot.Manager) *Reverter {
	return &Reverter{store: st, snaps: snaps}
}

// Rollback reverts a batch's effects using the first available path.
//
// Snapshot restore verifies stored hashes before touching any live
// resource; an IntegrityError falls through to the next path rather
// than leaving a half-restored state. A missing backup likewise falls
// through to compensation replay.
func (r *Reverter) Rollback(ctx context.Context, req RollbackRequest) (RollbackMethod, error) {
	if req.SnapshotID != "" && r.snaps != nil {
		err := r.snaps.Restore(req.SnapshotID, true)
		if err == nil {
			slog.Info("rolled back via snapshot", "snapshot", req.SnapshotID)
			return MethodSnapshot, nil
		}
		if !errors.Is(err, snapshot.ErrNotFound) && !snapshot.IsIntegrityError(err) {
			return "", fmt.Errorf("snapshot restore: %w", err)
		}
		slog.Warn("snapshot unavailable, falling back", "snapshot", req.SnapshotID, "error", err)
	}

	if req.DocumentID != "" {
		version, err := r.store.RestoreFromBackup(ctx, req.DocumentID, 1)
		if err == nil {
			slog.Info("rolled back via backup ring", "document", req.DocumentID, "version", version)
			return MethodBackup, nil
		}
		if !errors.Is(err, store.ErrNoBackup) && !errors.Is(err, store.ErrDocumentNotFound) {
			return "", fmt.Errorf("backup restore: %w", err)
		}
		slog.Warn("backup unavailable, falling back", "document", req.DocumentID, "error", err)
	}

	if req.Batch != nil {
		if err := r.replayCompensation(ctx, req.Batch); err != nil {
			return "", err
		}
		return MethodCompensation, nil
	}

	return "", fmt.Errorf("no rollback path available")
}

// replayCompensation undoes a batch's committed operations by reading
// its change log and invoking each still-committed operation's
// compensate function in reverse commit order.
func (r *Reverter) replayCompensation(ctx context.Context, batch *executor.Batch) error {
	entries, err := r.store.ReadChangeLog(ctx, batch.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("batch %s has no change log to replay", batch.ID)
	}

	ops := make(map[string]*executor.Operation, len(batch.Operations))
	for _, op := range batch.Operations {
		ops[op.ID] = op
	}

	// The last entry per operation is its settled state; RolledBack
	// entries mean the executor already compensated it. An operation
	// enters the commit order at its first Success entry, whatever was
	// logged before it (a Failed attempt later retried by Resume still
	// committed).
	last := make(map[string]string, len(entries))
	committed := make(map[string]bool, len(entries))
	var commitOrder []string
	for _, entry := range entries {
		last[entry.OperationID] = entry.Status
		if entry.Status == string(executor.StatusSuccess) && !committed[entry.OperationID] {
			committed[entry.OperationID] = true
			commitOrder = append(commitOrder, entry.OperationID)
		}
	}

	for i := len(commitOrder) - 1; i >= 0; i-- {
		id := commitOrder[i]
		if last[id] != string(executor.StatusSuccess) {
			continue
		}
		op, ok := ops[id]
		if !ok {
			return fmt.Errorf("change log names operation %q missing from batch definition", id)
		}
		if op.Compensate == nil {
			continue
		}
		if err := op.Compensate(ctx); err != nil {
			return fmt.Errorf("compensation replay for %q: %w", id, err)
		}
		slog.Info("replayed compensation", "batch", batch.ID, "operation", id)
	}
	return nil
}
