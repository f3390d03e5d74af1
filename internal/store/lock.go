package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LockHandle is proof of exclusive ownership of a document lock.
// At most one valid handle exists per document at a time. A handle is
// released explicitly or reclaimed by a later Acquire after expiry.
type LockHandle struct {
	DocumentID string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Lock acquisition backoff bounds. The delay doubles from base up to
// cap; the overall wait is bounded by the caller's timeout, never the
// retry count.
const (
	lockBackoffBase = 10 * time.Millisecond
	lockBackoffCap  = 500 * time.Millisecond
)

// Acquire obtains the exclusive lock on a document, blocking up to
// timeout with bounded exponential backoff between attempts.
//
// An existing lock whose expiry has passed is reclaimed atomically -
// this is how a lock orphaned by a crashed holder becomes available
// again. Returns LockTimeoutError when the timeout elapses; Acquire
// fails explicitly rather than hanging indefinitely.
func (s *Store) Acquire(ctx context.Context, documentID string, timeout time.Duration) (LockHandle, error) {
	holder := uuid.Must(uuid.NewV7()).String()
	deadline := s.clock.Now().Add(timeout)
	backoff := lockBackoffBase

	for {
		now := s.clock.Now()
		handle, ok, err := s.tryAcquire(ctx, documentID, holder, now)
		if err != nil {
			return LockHandle{}, fmt.Errorf("acquire %q: %w", documentID, err)
		}
		if ok {
			return handle, nil
		}

		if !s.clock.Now().Add(backoff).Before(deadline) {
			return LockHandle{}, &LockTimeoutError{DocumentID: documentID, Timeout: timeout}
		}

		if err := s.clock.Sleep(ctx, backoff); err != nil {
			return LockHandle{}, fmt.Errorf("acquire %q: %w", documentID, err)
		}

		backoff *= 2
		if backoff > lockBackoffCap {
			backoff = lockBackoffCap
		}
	}
}

// tryAcquire attempts a single lock claim. The conditional upsert
// succeeds only when no row exists or the existing row has expired.
func (s *Store) tryAcquire(ctx context.Context, documentID, holder string, now time.Time) (LockHandle, bool, error) {
	nowMs := now.UnixMilli()
	expires := now.Add(s.lockTTL)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (document_id, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE
		SET holder = excluded.holder,
		    acquired_at = excluded.acquired_at,
		    expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?
	`, documentID, holder, nowMs, expires.UnixMilli(), nowMs)
	if err != nil {
		return LockHandle{}, false, fmt.Errorf("claim: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return LockHandle{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return LockHandle{}, false, nil
	}

	return LockHandle{
		DocumentID: documentID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  expires,
	}, true, nil
}

// Release relinquishes a held lock. Releasing a handle that has
// already expired and been reclaimed is a no-op: the holder check
// prevents releasing someone else's lock.
func (s *Store) Release(ctx context.Context, handle LockHandle) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM locks WHERE document_id = ? AND holder = ?
	`, handle.DocumentID, handle.Holder)
	if err != nil {
		return fmt.Errorf("release %q: %w", handle.DocumentID, err)
	}
	return nil
}
