package executor

// Strategy selects the partial-failure behavior for a batch.
type Strategy string

const (
	// StrategyAllOrNothing compensates every prior success, in reverse
	// order, on the first failure.
	StrategyAllOrNothing Strategy = "all_or_nothing"

	// StrategyBestEffort runs every operation regardless of prior
	// failures and never compensates.
	StrategyBestEffort Strategy = "best_effort"

	// StrategyContinueOnError is a semantic alias of BestEffort for
	// callers labeling non-critical batches. The behaviors are
	// identical.
	StrategyContinueOnError Strategy = "continue_on_error"

	// StrategyCheckpointed compensates only back to the most recent
	// checkpoint on failure, then stops; work committed before the
	// checkpoint stays applied.
	StrategyCheckpointed Strategy = "checkpointed"
)

// DefaultCheckpointInterval is the operation count between automatic
// checkpoints under StrategyCheckpointed.
const DefaultCheckpointInterval = 3

// ParseStrategy converts a config/plan string into a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyAllOrNothing, StrategyBestEffort, StrategyContinueOnError, StrategyCheckpointed:
		return Strategy(s), true
	default:
		return "", false
	}
}

// compensates reports whether the strategy triggers compensation on
// failure.
func (s Strategy) compensates() bool {
	return s == StrategyAllOrNothing || s == StrategyCheckpointed
}

// stopsOnFailure reports whether execution halts at the first failure.
func (s Strategy) stopsOnFailure() bool {
	return s == StrategyAllOrNothing || s == StrategyCheckpointed
}

// Batch is an ordered set of operations executed under one strategy.
type Batch struct {
	// ID identifies the batch in the change log. Left empty, Submit
	// assigns one from the executor's ID generator.
	ID string

	// Operations run in slice order. Validation rejects unknown
	// dependency IDs and cycles at Submit; a dependency on a later
	// operation is legal but can never be met, so it fails with
	// DependencyUnmet at runtime.
	Operations []*Operation
}

// BatchStatus is the terminal outcome of a batch.
type BatchStatus string

const (
	// BatchSuccess: every operation succeeded.
	BatchSuccess BatchStatus = "Success"

	// BatchPartial: some operations succeeded (BestEffort only).
	BatchPartial BatchStatus = "Partial"

	// BatchFailed: the batch stopped on failure; under Checkpointed,
	// operations committed before the last checkpoint remain Success.
	BatchFailed BatchStatus = "Failed"

	// BatchRolledBack: a failure occurred and every prior success was
	// compensated.
	BatchRolledBack BatchStatus = "RolledBack"

	// BatchCompensationFailed: the unwind itself failed; the result
	// carries a manual-intervention report.
	BatchCompensationFailed BatchStatus = "CompensationFailed"
)

// OperationResult is the per-operation outcome in a BatchResult.
type OperationResult struct {
	ID          string
	Description string
	Status      Status
	Result      string
	Error       string
}

// Checkpoint bounds how much work is undone on failure. Later
// checkpoints supersede earlier ones; none are deleted.
type Checkpoint struct {
	ID      string
	Index   int      // operation index the checkpoint was created after
	Covered []string // IDs of operations committed at creation time
}

// ManualInterventionReport is produced when compensation fails partway
// through an unwind. Uncompensated operations remain applied and need
// human recovery.
type ManualInterventionReport struct {
	// FailedOperation is the operation whose failure started the unwind.
	FailedOperation string

	// CompensationFailure names the operation whose Compensate errored
	// and the error text.
	CompensationFailure string
	CompensationError   string

	// Compensated lists operations successfully rolled back before the
	// unwind stopped, in compensation order.
	Compensated []string

	// Uncompensated lists operations still applied (Success state),
	// including the one whose compensation failed.
	Uncompensated []string
}

// BatchResult is the terminal report of a Submit or Resume call.
// Every terminal outcome includes the strategy used and per-operation
// statuses; failures carry either the rollback outcome or an explicit
// manual-intervention report.
type BatchResult struct {
	BatchID     string
	Strategy    Strategy
	Status      BatchStatus
	Operations  []OperationResult
	Checkpoints []Checkpoint
	Cancelled   bool

	// FailureCause is the error that stopped the batch, if any.
	FailureCause string

	// ManualIntervention is set only when Status is
	// BatchCompensationFailed.
	ManualIntervention *ManualInterventionReport
}

// operationResults projects the status map onto the batch's operation
// order.
func operationResults(batch *Batch, statuses map[string]Status, results map[string]string, errs map[string]string) []OperationResult {
	out := make([]OperationResult, 0, len(batch.Operations))
	for _, op := range batch.Operations {
		out = append(out, OperationResult{
			ID:          op.ID,
			Description: op.Description,
			Status:      statuses[op.ID],
			Result:      results[op.ID],
			Error:       errs[op.ID],
		})
	}
	return out
}
