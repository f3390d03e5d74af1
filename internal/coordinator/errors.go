package coordinator

import (
	"errors"
	"fmt"
)

// ExternalResourceStuckError is raised when a pending operation has
// exhausted its recovery attempts. The coordinator never loops forever;
// a stuck operation requires manual intervention.
type ExternalResourceStuckError struct {
	Identity string
	Seq      uint64
	Attempts int
}

// Error implements the error interface.
func (e *ExternalResourceStuckError) Error() string {
	return fmt.Sprintf("identity %q seq %d stuck after %d recovery attempts, manual intervention required",
		e.Identity, e.Seq, e.Attempts)
}

// IsExternalResourceStuck returns true if the error is an
// ExternalResourceStuckError. Uses errors.As to handle wrapped errors.
func IsExternalResourceStuck(err error) bool {
	var se *ExternalResourceStuckError
	return errors.As(err, &se)
}

// BlockedError is the cost gate's refusal to proceed. It is an explicit
// terminal outcome, never a silent wait.
type BlockedError struct {
	Identity string
	Cost     float64
	Reason   string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return fmt.Sprintf("identity %q blocked at cost %.2f: %s", e.Identity, e.Cost, e.Reason)
}

// IsBlocked returns true if the error is a BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
