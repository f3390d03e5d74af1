package executor

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of an operation.
//
// Transitions only move forward:
//
//	Pending -> InProgress -> {Success, Failed}
//	Success -> RolledBack (compensation)
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusRolledBack Status = "RolledBack"
)

// IsTerminal reports whether the status is terminal for execution
// purposes. RolledBack is reachable only from Success.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// Operation is one externally-visible change with its compensating
// inverse. Execute and Compensate close over whatever collaborators
// they need (document store, resource coordinator, files).
type Operation struct {
	// ID uniquely identifies the operation within its batch. Left
	// empty, Submit assigns a content-addressed ID derived from the
	// batch ID, description, and position.
	ID string

	// Description is the human-readable change-log line.
	Description string

	// DependsOn lists operation IDs that must be Success before this
	// operation runs. An unmet dependency fails the operation with
	// DependencyUnmet without executing it.
	DependsOn []string

	// Execute applies the change and returns a short result string for
	// the change log.
	Execute func(ctx context.Context) (string, error)

	// Compensate undoes a successful Execute during rollback. A nil
	// Compensate declares the operation side-effect-free; rollback
	// treats it as a no-op.
	Compensate func(ctx context.Context) error

	// Timeout bounds a single execution. Zero means the executor's
	// default (which may itself be unlimited). A timeout is treated
	// identically to an execution failure.
	Timeout time.Duration

	// Checkpoint requests an explicit checkpoint immediately after
	// this operation succeeds, independent of the interval.
	Checkpoint bool
}

// transition validates and applies a status change for one operation.
// The caller supplies the expected prior status so races and logic
// errors surface as errors instead of silent corruption.
func transition(statuses map[string]Status, operationID string, from, to Status) error {
	cur, ok := statuses[operationID]
	if !ok {
		return fmt.Errorf("unknown operation in state: %q", operationID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", operationID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", operationID, from, to)
	}
	statuses[operationID] = to
	return nil
}

func isAllowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusSuccess || to == StatusFailed
	case StatusSuccess:
		return to == StatusRolledBack
	default:
		return false
	}
}
