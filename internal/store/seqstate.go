package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingOp is an in-flight external operation awaiting confirmation.
type PendingOp struct {
	Identity    string
	Seq         uint64
	Handle      string
	SubmittedAt time.Time
	Attempts    int
}

// SequenceCurrent returns the tracked next-unused sequence value for an
// identity. An identity never seen before starts at 0.
func (s *Store) SequenceCurrent(ctx context.Context, identity string) (uint64, error) {
	var current uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT current FROM sequence_state WHERE identity = ?
	`, identity).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence current %q: %w", identity, err)
	}
	return current, nil
}

// SetSequenceCurrent persists the tracked sequence value for an identity.
func (s *Store) SetSequenceCurrent(ctx context.Context, identity string, current uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_state (identity, current)
		VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET current = excluded.current
	`, identity, current)
	if err != nil {
		return fmt.Errorf("set sequence current %q: %w", identity, err)
	}
	return nil
}

// AddPending records an in-flight operation for an identity.
func (s *Store) AddPending(ctx context.Context, identity string, seq uint64, handle string, submittedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_ops (identity, seq, handle, submitted_at, attempts)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(identity, seq) DO NOTHING
	`, identity, seq, handle, submittedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("add pending %q seq %d: %w", identity, seq, err)
	}
	return nil
}

// ConfirmPending clears an in-flight operation by handle.
// Confirming an already-cleared handle is a no-op.
func (s *Store) ConfirmPending(ctx context.Context, identity, handle string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_ops WHERE identity = ? AND handle = ?
	`, identity, handle)
	if err != nil {
		return fmt.Errorf("confirm pending %q: %w", identity, err)
	}
	return nil
}

// PendingOps returns all in-flight operations for an identity in
// sequence order. Returns an empty slice (not nil) when none exist.
func (s *Store) PendingOps(ctx context.Context, identity string) ([]PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, seq, handle, submitted_at, attempts
		FROM pending_ops
		WHERE identity = ?
		ORDER BY seq ASC
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("pending ops %q: %w", identity, err)
	}
	defer rows.Close()

	ops := []PendingOp{}
	for rows.Next() {
		var op PendingOp
		var submittedAt int64
		if err := rows.Scan(&op.Identity, &op.Seq, &op.Handle, &submittedAt, &op.Attempts); err != nil {
			return nil, fmt.Errorf("pending ops %q: scan: %w", identity, err)
		}
		op.SubmittedAt = time.UnixMilli(submittedAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending ops %q: iterate: %w", identity, err)
	}

	return ops, nil
}

// MarkPendingRecovery increments a pending operation's recovery
// attempt count and records the resubmission time. The fresh
// submitted_at is what keeps a detection pass from reporting the same
// entry twice: the entry is not stuck again until it re-ages past the
// threshold.
func (s *Store) MarkPendingRecovery(ctx context.Context, identity string, seq uint64, resubmittedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_ops
		SET attempts = attempts + 1, submitted_at = ?
		WHERE identity = ? AND seq = ?
	`, resubmittedAt.UnixMilli(), identity, seq)
	if err != nil {
		return fmt.Errorf("mark recovery %q seq %d: %w", identity, seq, err)
	}
	return nil
}

// ClearPendingThrough removes pending entries with seq <= through.
// Used by Resync when ground truth shows those operations were applied.
func (s *Store) ClearPendingThrough(ctx context.Context, identity string, through uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_ops WHERE identity = ? AND seq <= ?
	`, identity, through)
	if err != nil {
		return fmt.Errorf("clear pending %q through %d: %w", identity, through, err)
	}
	return nil
}
