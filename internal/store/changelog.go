package store

import (
	"context"
	"fmt"
	"time"
)

// ChangeLogEntry records one operation reaching a terminal status.
// Entries are append-only and never rewritten; Resume reconstructs
// already-committed state from them.
type ChangeLogEntry struct {
	BatchID     string
	EntrySeq    int64
	OperationID string
	Description string
	Status      string
	Result      string
	Error       string
	CreatedAt   time.Time
}

// AppendChangeLog appends a terminal-state entry to a batch's change log.
// Uses ON CONFLICT DO NOTHING so a resumed batch re-recording an entry
// it already logged is idempotent.
func (s *Store) AppendChangeLog(ctx context.Context, entry ChangeLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_log
		(batch_id, entry_seq, operation_id, description, status, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, entry_seq) DO NOTHING
	`,
		entry.BatchID,
		entry.EntrySeq,
		entry.OperationID,
		entry.Description,
		entry.Status,
		entry.Result,
		entry.Error,
		s.nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// ReadChangeLog returns all entries for a batch in append order.
// Returns an empty slice (not nil) if the batch has no entries.
func (s *Store) ReadChangeLog(ctx context.Context, batchID string) ([]ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, entry_seq, operation_id, description, status, result, error, created_at
		FROM change_log
		WHERE batch_id = ?
		ORDER BY entry_seq ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	defer rows.Close()

	entries := []ChangeLogEntry{}
	for rows.Next() {
		var e ChangeLogEntry
		var createdAt int64
		if err := rows.Scan(&e.BatchID, &e.EntrySeq, &e.OperationID, &e.Description,
			&e.Status, &e.Result, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("read change log: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read change log: iterate: %w", err)
	}

	return entries, nil
}
