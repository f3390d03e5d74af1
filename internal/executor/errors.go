package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is returned by Submit before any operation runs:
// duplicate IDs, references to unknown operations, or dependency
// cycles. Cycle detection is static, at submit time, so a cyclic batch
// can never deadlock at runtime.
type ValidationError struct {
	BatchID string
	Message string
	// CyclePath holds one deterministic cycle when the failure is a
	// dependency cycle, e.g. ["op-a", "op-b", "op-a"].
	CyclePath []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.CyclePath) > 0 {
		return fmt.Sprintf("batch %s invalid: dependency cycle: %s",
			e.BatchID, strings.Join(e.CyclePath, " -> "))
	}
	return fmt.Sprintf("batch %s invalid: %s", e.BatchID, e.Message)
}

// IsValidationError returns true if the error is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DependencyUnmetError marks an operation that was failed without
// being executed because a dependency did not reach Success.
type DependencyUnmetError struct {
	OperationID string
	Dependency  string
	DepStatus   Status
}

// Error implements the error interface.
func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("operation %q not executed: dependency %q is %s",
		e.OperationID, e.Dependency, e.DepStatus)
}

// IsDependencyUnmet returns true if the error is a DependencyUnmetError.
func IsDependencyUnmet(err error) bool {
	var de *DependencyUnmetError
	return errors.As(err, &de)
}

// ExecutionError wraps a failure (or timeout, or panic) from an
// operation's Execute. Timeouts are treated identically to execution
// exceptions for strategy purposes.
type ExecutionError struct {
	OperationID string
	Err         error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.OperationID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }

// CompensationError is terminal for a batch: the unwind stops, nothing
// is retried automatically, and the batch result carries a
// manual-intervention report distinguishing compensated operations
// from ones left in an uncertain state.
type CompensationError struct {
	OperationID string
	Err         error
}

// Error implements the error interface.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for operation %q failed: %v", e.OperationID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompensationError) Unwrap() error { return e.Err }

// IsCompensationError returns true if the error is a CompensationError.
func IsCompensationError(err error) bool {
	var ce *CompensationError
	return errors.As(err, &ce)
}

// ErrBatchTimeout is the cause recorded when the batch wall-clock
// budget elapses between operations.
var ErrBatchTimeout = errors.New("batch wall-clock timeout exceeded")

// ErrBatchCancelled is the cause recorded when the batch context is
// cancelled. The in-flight operation finishes; no further operations
// start.
var ErrBatchCancelled = errors.New("batch cancelled")
