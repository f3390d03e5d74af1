package store

import (
	"errors"
	"fmt"
	"time"
)

// VersionConflictError is returned by Update when the document's
// current version no longer matches the caller's expected version.
// The caller must re-Read and retry; the store never silently
// overwrites a concurrent writer's result.
type VersionConflictError struct {
	DocumentID string
	Expected   uint64
	Actual     uint64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on document %q: expected %d, current %d",
		e.DocumentID, e.Expected, e.Actual)
}

// IsVersionConflict returns true if the error is a VersionConflictError.
// Uses errors.As to handle wrapped errors.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// LockTimeoutError is returned by Acquire when the lock could not be
// obtained within the caller's timeout.
type LockTimeoutError struct {
	DocumentID string
	Timeout    time.Duration
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring lock on document %q after %s",
		e.DocumentID, e.Timeout)
}

// IsLockTimeout returns true if the error is a LockTimeoutError.
func IsLockTimeout(err error) bool {
	var lt *LockTimeoutError
	return errors.As(err, &lt)
}

// ErrDocumentNotFound is returned when reading a document that has
// never been written.
var ErrDocumentNotFound = errors.New("document not found")

// ErrEmptyContent is returned when a mutate function produces empty
// output. Empty writes are rejected before anything is staged.
var ErrEmptyContent = errors.New("mutate produced empty content")

// ErrNoBackup is returned when RestoreFromBackup is asked for a
// generation that does not exist.
var ErrNoBackup = errors.New("no backup at requested generation")
