package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/keel/internal/canonical"
)

// Document is a versioned record owned exclusively by the store.
// Version is monotonic and never decreases; content visible to any
// reader is always the result of a fully committed Update.
type Document struct {
	ID        string
	Content   []byte
	Version   uint64
	Checksum  string
	UpdatedAt time.Time
}

// Backup is one generation of a document's prior content.
type Backup struct {
	DocumentID string
	Version    uint64
	Content    []byte
	Checksum   string
	CreatedAt  time.Time
}

// MutateFunc transforms current document content into new content.
// It must be a pure function of its input: Update may invoke it again
// if the caller retries after a version conflict.
type MutateFunc func(current []byte) ([]byte, error)

// Read returns the last fully committed content and version of a document.
// Returns ErrDocumentNotFound if the document has never been written.
func (s *Store) Read(ctx context.Context, documentID string) ([]byte, uint64, error) {
	var content []byte
	var version uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT content, version FROM documents WHERE id = ?
	`, documentID).Scan(&content, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("read %q: %w", documentID, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %q: %w", documentID, err)
	}
	return content, version, nil
}

// Update applies mutate to the document's content under optimistic
// concurrency and returns the new version.
//
// The sequence runs inside a single transaction:
//  1. Re-read the current version; if it no longer equals
//     expectedVersion, return VersionConflictError (caller re-Reads
//     and retries - concurrent updates against the same expected
//     version never both succeed)
//  2. Compute mutate(current) and reject empty output
//  3. Back up the prior content, pruning the ring to the configured
//     generation count
//  4. Conditionally write content, version+1, and checksum
//
// The transaction commit is the atomic swap: a crash at any earlier
// point leaves the prior committed version intact.
//
// A document is created on first write by passing expectedVersion 0;
// the new document starts at version 1 with no backup.
func (s *Store) Update(ctx context.Context, documentID string, mutate MutateFunc, expectedVersion uint64) (uint64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("update %q: begin tx: %w", documentID, err)
	}
	defer tx.Rollback() // No-op if committed

	var current []byte
	var version uint64
	err = tx.QueryRowContext(ctx, `
		SELECT content, version FROM documents WHERE id = ?
	`, documentID).Scan(&current, &version)

	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = nil
		version = 0
	} else if err != nil {
		return 0, fmt.Errorf("update %q: read current: %w", documentID, err)
	}

	if version != expectedVersion {
		return 0, &VersionConflictError{DocumentID: documentID, Expected: expectedVersion, Actual: version}
	}

	next, err := mutate(current)
	if err != nil {
		return 0, fmt.Errorf("update %q: mutate: %w", documentID, err)
	}
	if len(next) == 0 {
		return 0, fmt.Errorf("update %q: %w", documentID, ErrEmptyContent)
	}

	now := s.nowMillis()
	checksum := canonical.HashBytes(canonical.DomainDocument, next)
	newVersion := version + 1

	if exists {
		if err := s.writeBackup(ctx, tx, documentID, version, current, now); err != nil {
			return 0, fmt.Errorf("update %q: %w", documentID, err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET content = ?, version = ?, checksum = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, next, newVersion, checksum, now, documentID, expectedVersion)
		if err != nil {
			return 0, fmt.Errorf("update %q: write: %w", documentID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update %q: rows affected: %w", documentID, err)
		}
		if affected == 0 {
			// Raced inside the transaction window - should not happen
			// with a single writer connection, but fail loudly if it does.
			return 0, &VersionConflictError{DocumentID: documentID, Expected: expectedVersion, Actual: version}
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, content, version, checksum, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, documentID, next, newVersion, checksum, now); err != nil {
			return 0, fmt.Errorf("update %q: create: %w", documentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("update %q: commit: %w", documentID, err)
	}

	return newVersion, nil
}

// writeBackup appends the prior content to the backup ring and prunes
// generations beyond the configured count.
func (s *Store) writeBackup(ctx context.Context, tx *sql.Tx, documentID string, version uint64, content []byte, now int64) error {
	checksum := canonical.HashBytes(canonical.DomainDocument, content)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backups (document_id, version, content, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id, version) DO NOTHING
	`, documentID, version, content, checksum, now); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM backups
		WHERE document_id = ? AND version NOT IN (
			SELECT version FROM backups
			WHERE document_id = ?
			ORDER BY version DESC
			LIMIT ?
		)
	`, documentID, documentID, s.backupGenerations); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}

	return nil
}

// RestoreFromBackup reintroduces a prior backup as a new version.
//
// generationsBack counts from the most recent backup: 1 restores the
// newest generation, 2 the one before it, and so on. History is
// append-only - the restored content gets a fresh version number and
// the pre-restore content is itself backed up, so a restore can be
// undone by another restore.
func (s *Store) RestoreFromBackup(ctx context.Context, documentID string, generationsBack int) (uint64, error) {
	if generationsBack < 1 {
		return 0, fmt.Errorf("restore %q: generations back must be >= 1, got %d", documentID, generationsBack)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore %q: begin tx: %w", documentID, err)
	}
	defer tx.Rollback()

	var restored []byte
	err = tx.QueryRowContext(ctx, `
		SELECT content FROM backups
		WHERE document_id = ?
		ORDER BY version DESC
		LIMIT 1 OFFSET ?
	`, documentID, generationsBack-1).Scan(&restored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("restore %q (%d back): %w", documentID, generationsBack, ErrNoBackup)
	}
	if err != nil {
		return 0, fmt.Errorf("restore %q: read backup: %w", documentID, err)
	}

	var current []byte
	var version uint64
	err = tx.QueryRowContext(ctx, `
		SELECT content, version FROM documents WHERE id = ?
	`, documentID).Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("restore %q: %w", documentID, ErrDocumentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("restore %q: read current: %w", documentID, err)
	}

	now := s.nowMillis()
	if err := s.writeBackup(ctx, tx, documentID, version, current, now); err != nil {
		return 0, fmt.Errorf("restore %q: %w", documentID, err)
	}

	newVersion := version + 1
	checksum := canonical.HashBytes(canonical.DomainDocument, restored)
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET content = ?, version = ?, checksum = ?, updated_at = ?
		WHERE id = ?
	`, restored, newVersion, checksum, now, documentID); err != nil {
		return 0, fmt.Errorf("restore %q: write: %w", documentID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("restore %q: commit: %w", documentID, err)
	}

	return newVersion, nil
}

// History returns the backup generations for a document, newest first.
// Returns an empty slice (not nil) if the document has no backups.
func (s *Store) History(ctx context.Context, documentID string) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, content, checksum, created_at
		FROM backups
		WHERE document_id = ?
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", documentID, err)
	}
	defer rows.Close()

	backups := []Backup{}
	for rows.Next() {
		var b Backup
		var createdAt int64
		if err := rows.Scan(&b.DocumentID, &b.Version, &b.Content, &b.Checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("history %q: scan: %w", documentID, err)
		}
		b.CreatedAt = time.UnixMilli(createdAt)
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history %q: iterate: %w", documentID, err)
	}

	return backups, nil
}

// Checksum returns the stored checksum of a document's current content.
// The verification gate uses this to re-derive document state rather
// than trusting operation-reported results.
func (s *Store) Checksum(ctx context.Context, documentID string) (string, error) {
	var checksum string
	err := s.db.QueryRowContext(ctx, `
		SELECT checksum FROM documents WHERE id = ?
	`, documentID).Scan(&checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checksum %q: %w", documentID, ErrDocumentNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("checksum %q: %w", documentID, err)
	}
	return checksum, nil
}
