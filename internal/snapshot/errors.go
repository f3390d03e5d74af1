package snapshot

import (
	"errors"
	"fmt"
)

// IntegrityError means a stored copy no longer matches the hash
// recorded in the snapshot manifest. Restore aborts before modifying
// any live resource when this is detected.
type IntegrityError struct {
	SnapshotID string
	Resource   string
	WantHash   string
	GotHash    string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("snapshot %q integrity failure on %q: manifest %s, stored copy %s",
		e.SnapshotID, e.Resource, shortHash(e.WantHash), shortHash(e.GotHash))
}

// IsIntegrityError returns true if the error is an IntegrityError.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ErrNotFound is returned when a snapshot ID does not exist.
var ErrNotFound = errors.New("snapshot not found")

// ErrExists is returned when creating a snapshot under an ID that is
// already taken. Snapshots are immutable once created.
var ErrExists = errors.New("snapshot already exists")
