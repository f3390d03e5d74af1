package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/keel/internal/store"
)

// Resume continues an interrupted batch from fromOperationID onward.
//
// The prior session's change log is the source of truth: operations it
// records as Success stay committed and are not re-executed or
// compensated by this session. Operations recorded as Failed (or left
// InProgress by a crash, whose outcome is unknown) at or after the
// resume point re-run only when retryFailed is set; otherwise they keep
// their failed state and anything depending on them fails with
// DependencyUnmet. New change-log entries continue the batch's entry
// sequence, so a resumed batch reads as one contiguous log.
func (e *Executor) Resume(ctx context.Context, batch *Batch, fromOperationID string, retryFailed bool, strategy Strategy) (*BatchResult, error) {
	if _, ok := ParseStrategy(string(strategy)); !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if batch.ID == "" {
		return nil, fmt.Errorf("resume requires a batch ID")
	}
	if err := assignOperationIDs(batch); err != nil {
		return nil, err
	}
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	entries, err := e.store.ReadChangeLog(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch %s has no change log to resume from", batch.ID)
	}

	startIdx := -1
	for i, op := range batch.Operations {
		if op.ID == fromOperationID {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, fmt.Errorf("batch %s has no operation %q", batch.ID, fromOperationID)
	}

	st := newRunState(batch, strategy)
	st.startIdx = startIdx
	seedFromLog(st, entries, startIdx, retryFailed)

	slog.Info("resuming batch", "batch", batch.ID, "from", fromOperationID,
		"retry_failed", retryFailed, "strategy", strategy)
	return e.run(ctx, st)
}

// seedFromLog replays the change log into the run state. Only the last
// entry per operation matters; earlier entries are superseded
// transitions.
func seedFromLog(st *runState, entries []store.ChangeLogEntry, startIdx int, retryFailed bool) {
	last := make(map[string]store.ChangeLogEntry, len(entries))
	for _, entry := range entries {
		if entry.EntrySeq > st.entrySeq {
			st.entrySeq = entry.EntrySeq
		}
		last[entry.OperationID] = entry
	}

	for i, op := range st.batch.Operations {
		entry, ok := last[op.ID]
		if !ok {
			continue // never attempted, stays Pending
		}
		switch Status(entry.Status) {
		case StatusSuccess:
			st.statuses[op.ID] = StatusSuccess
			st.results[op.ID] = entry.Result
		case StatusRolledBack:
			if i >= startIdx {
				// Undone work at or after the resume point is redone.
				continue
			}
			st.statuses[op.ID] = StatusRolledBack
		case StatusFailed, StatusInProgress:
			if i >= startIdx && retryFailed {
				continue // re-run
			}
			st.statuses[op.ID] = StatusFailed
			st.errs[op.ID] = entry.Error
		}
	}
}
