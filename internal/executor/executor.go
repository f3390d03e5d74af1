// Package executor runs ordered operation batches under a selectable
// partial-failure strategy, with compensation, checkpoints, an
// append-only change log, and resume.
//
// Operations within a batch execute sequentially in a single goroutine,
// which keeps compensation ordering deterministic. The only blocking
// points are inside the operations themselves; the executor never
// preempts a running operation - cancellation lets the in-flight
// operation finish and then applies the strategy's failure path.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/keel/internal/canonical"
	"github.com/roach88/keel/internal/clock"
	"github.com/roach88/keel/internal/store"
)

// Executor submits batches against the durable store's change log.
type Executor struct {
	store              *store.Store
	clock              clock.Clock
	ids                IDGenerator
	checkpointInterval int
	defaultOpTimeout   time.Duration
	batchTimeout       time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects a clock for batch wall-clock budgeting.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithIDGenerator injects the batch/checkpoint ID generator.
// Tests use FixedGenerator for deterministic traces.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Executor) { e.ids = g }
}

// WithCheckpointInterval sets the operation count between automatic
// checkpoints under StrategyCheckpointed.
func WithCheckpointInterval(k int) Option {
	return func(e *Executor) { e.checkpointInterval = k }
}

// WithOperationTimeout sets a default per-operation timeout applied
// when an operation does not carry its own.
func WithOperationTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultOpTimeout = d }
}

// WithBatchTimeout bounds a batch's total wall-clock time. The budget
// is checked between operations; exceeding it is handled like a
// failure under the active strategy.
func WithBatchTimeout(d time.Duration) Option {
	return func(e *Executor) { e.batchTimeout = d }
}

// New creates an Executor writing its change log through st.
func New(st *store.Store, opts ...Option) *Executor {
	e := &Executor{
		store:              st,
		clock:              clock.Real{},
		ids:                UUIDv7Generator{},
		checkpointInterval: DefaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checkpointInterval < 1 {
		e.checkpointInterval = DefaultCheckpointInterval
	}
	return e
}

// runState is the mutable bookkeeping for one Submit/Resume session.
type runState struct {
	batch    *Batch
	strategy Strategy

	statuses map[string]Status
	results  map[string]string
	errs     map[string]string
	opIndex  map[string]*Operation

	// startIdx is the first operation index this session may execute.
	// Resume sets it; earlier operations are log-reconstructed only.
	startIdx int

	entrySeq int64

	// successOrder lists operations that reached Success in this
	// session, in completion order. Operations committed by a prior
	// session (Resume pre-seeds) are not compensation candidates.
	successOrder []string

	// sinceCheckpoint is the tail of successOrder after the most
	// recent checkpoint.
	sinceCheckpoint []string

	checkpoints []Checkpoint
	cancelled   bool
	failed      bool
	cause       string
	report      *ManualInterventionReport
}

func newRunState(batch *Batch, strategy Strategy) *runState {
	st := &runState{
		batch:    batch,
		strategy: strategy,
		statuses: make(map[string]Status, len(batch.Operations)),
		results:  make(map[string]string, len(batch.Operations)),
		errs:     make(map[string]string, len(batch.Operations)),
		opIndex:  make(map[string]*Operation, len(batch.Operations)),
	}
	for _, op := range batch.Operations {
		st.statuses[op.ID] = StatusPending
		st.opIndex[op.ID] = op
	}
	return st
}

// assignOperationIDs fills in content-addressed IDs for operations
// that were submitted without one. IDs are stable across resubmission
// of the same batch.
func assignOperationIDs(batch *Batch) error {
	for i, op := range batch.Operations {
		if op.ID != "" {
			continue
		}
		id, err := canonical.OperationID(batch.ID, op.Description, i)
		if err != nil {
			return fmt.Errorf("assign operation id: %w", err)
		}
		op.ID = id
	}
	return nil
}

// Submit validates and runs a batch under the given strategy.
//
// The returned error covers validation and infrastructure failures
// only; operation failures are reported through BatchResult.Status.
// Before any operation runs, every dependency reference is checked and
// the dependency graph is proven acyclic - a cyclic batch fails fast
// at submit time instead of deadlocking at runtime.
func (e *Executor) Submit(ctx context.Context, batch *Batch, strategy Strategy) (*BatchResult, error) {
	if _, ok := ParseStrategy(string(strategy)); !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if batch.ID == "" {
		batch.ID = e.ids.Generate()
	}
	if err := assignOperationIDs(batch); err != nil {
		return nil, err
	}
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	slog.Info("submitting batch", "batch", batch.ID, "strategy", strategy, "operations", len(batch.Operations))
	return e.run(ctx, newRunState(batch, strategy))
}

// run executes every still-Pending operation in order and settles the
// terminal batch status.
func (e *Executor) run(ctx context.Context, st *runState) (*BatchResult, error) {
	var deadline time.Time
	if e.batchTimeout > 0 {
		deadline = e.clock.Now().Add(e.batchTimeout)
	}

	for i, op := range st.batch.Operations {
		if i < st.startIdx {
			continue // before the resume point
		}
		if st.statuses[op.ID] != StatusPending {
			continue // committed or settled by a prior session
		}

		if err := ctx.Err(); err != nil {
			st.cancelled = true
			st.cause = ErrBatchCancelled.Error()
			break
		}
		if !deadline.IsZero() && e.clock.Now().After(deadline) {
			st.failed = true
			st.cause = ErrBatchTimeout.Error()
			break
		}

		if unmet := e.checkDependencies(ctx, st, op); unmet {
			if st.strategy.stopsOnFailure() {
				break
			}
			continue
		}

		if err := transition(st.statuses, op.ID, StatusPending, StatusInProgress); err != nil {
			return nil, err
		}

		result, opErr := e.runOperation(ctx, op)
		if opErr != nil {
			if err := transition(st.statuses, op.ID, StatusInProgress, StatusFailed); err != nil {
				return nil, err
			}
			st.errs[op.ID] = opErr.Error()
			st.failed = true
			st.cause = opErr.Error()
			if err := e.logTerminal(ctx, st, op, StatusFailed, "", opErr.Error()); err != nil {
				return nil, err
			}
			slog.Warn("operation failed", "batch", st.batch.ID, "operation", op.ID, "error", opErr)
			if st.strategy.stopsOnFailure() {
				break
			}
			continue
		}

		if err := transition(st.statuses, op.ID, StatusInProgress, StatusSuccess); err != nil {
			return nil, err
		}
		st.results[op.ID] = result
		st.successOrder = append(st.successOrder, op.ID)
		st.sinceCheckpoint = append(st.sinceCheckpoint, op.ID)
		if err := e.logTerminal(ctx, st, op, StatusSuccess, result, ""); err != nil {
			return nil, err
		}

		if st.strategy == StrategyCheckpointed &&
			(op.Checkpoint || len(st.sinceCheckpoint) >= e.checkpointInterval) {
			e.createCheckpoint(st, i)
		}
	}

	if (st.failed || st.cancelled) && st.strategy.compensates() {
		if err := e.compensate(ctx, st); err != nil {
			return nil, err
		}
	}

	result := e.settle(st)
	slog.Info("batch complete", "batch", st.batch.ID, "status", result.Status)
	return result, nil
}

// checkDependencies fails the operation with DependencyUnmet - without
// executing it - when any dependency is not Success. Returns true when
// the operation was failed.
func (e *Executor) checkDependencies(ctx context.Context, st *runState, op *Operation) bool {
	for _, dep := range op.DependsOn {
		if st.statuses[dep] == StatusSuccess {
			continue
		}
		depErr := &DependencyUnmetError{OperationID: op.ID, Dependency: dep, DepStatus: st.statuses[dep]}
		// Best effort on state bookkeeping; the transition cannot fail
		// for a Pending operation.
		_ = transition(st.statuses, op.ID, StatusPending, StatusFailed)
		st.errs[op.ID] = depErr.Error()
		st.failed = true
		st.cause = depErr.Error()
		_ = e.logTerminal(ctx, st, op, StatusFailed, "", depErr.Error())
		return true
	}
	return false
}

// runOperation executes one operation with its timeout. The operation
// context is detached from the batch context so a batch cancellation
// lets the in-flight operation finish; an operation-level timeout is
// reported identically to an execution error.
func (e *Executor) runOperation(ctx context.Context, op *Operation) (result string, err error) {
	opCtx := context.WithoutCancel(ctx)
	timeout := op.Timeout
	if timeout == 0 {
		timeout = e.defaultOpTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{OperationID: op.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	res, execErr := op.Execute(opCtx)
	if execErr != nil {
		return "", &ExecutionError{OperationID: op.ID, Err: execErr}
	}
	return res, nil
}

// createCheckpoint records the committed frontier. Later checkpoints
// supersede earlier ones; none are deleted.
func (e *Executor) createCheckpoint(st *runState, opIndex int) {
	covered := make([]string, 0, len(st.successOrder))
	for _, op := range st.batch.Operations {
		if st.statuses[op.ID] == StatusSuccess {
			covered = append(covered, op.ID)
		}
	}
	cp := Checkpoint{
		ID:      e.ids.Generate(),
		Index:   opIndex,
		Covered: covered,
	}
	st.checkpoints = append(st.checkpoints, cp)
	st.sinceCheckpoint = nil
	slog.Debug("checkpoint created", "batch", st.batch.ID, "checkpoint", cp.ID, "covered", len(covered))
}

// compensate unwinds successes in reverse order. The scope is every
// session success for AllOrNothing, and only the successes after the
// most recent checkpoint for Checkpointed. A compensation failure
// terminates the unwind immediately - it is never retried - and
// produces the manual-intervention report.
func (e *Executor) compensate(ctx context.Context, st *runState) error {
	scope := st.successOrder
	if st.strategy == StrategyCheckpointed {
		scope = st.sinceCheckpoint
	}

	compensated := []string{}
	for i := len(scope) - 1; i >= 0; i-- {
		id := scope[i]
		op := st.opIndex[id]

		var compErr error
		if op.Compensate != nil {
			// Detached context: rollback proceeds even when the batch
			// context is already cancelled.
			compErr = op.Compensate(context.WithoutCancel(ctx))
		}
		if compErr != nil {
			ce := &CompensationError{OperationID: id, Err: compErr}
			uncompensated := append([]string{}, scope[:i+1]...)
			st.report = &ManualInterventionReport{
				FailedOperation:     firstFailedOperation(st),
				CompensationFailure: id,
				CompensationError:   compErr.Error(),
				Compensated:         compensated,
				Uncompensated:       uncompensated,
			}
			if err := e.logTerminal(ctx, st, op, "CompensationFailed", "", ce.Error()); err != nil {
				return err
			}
			slog.Error("compensation failed, manual intervention required",
				"batch", st.batch.ID, "operation", id, "error", compErr)
			return nil
		}

		if err := transition(st.statuses, id, StatusSuccess, StatusRolledBack); err != nil {
			return err
		}
		compensated = append(compensated, id)
		if err := e.logTerminal(ctx, st, op, StatusRolledBack, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// firstFailedOperation names the operation whose failure started the
// unwind, or empty when the unwind came from cancellation or timeout.
func firstFailedOperation(st *runState) string {
	for _, op := range st.batch.Operations {
		if st.statuses[op.ID] == StatusFailed {
			return op.ID
		}
	}
	return ""
}

// logTerminal appends one change-log entry for an operation reaching a
// terminal state. Entries are append-only and never rewritten.
func (e *Executor) logTerminal(ctx context.Context, st *runState, op *Operation, status Status, result, errText string) error {
	st.entrySeq++
	entry := store.ChangeLogEntry{
		BatchID:     st.batch.ID,
		EntrySeq:    st.entrySeq,
		OperationID: op.ID,
		Description: op.Description,
		Status:      string(status),
		Result:      result,
		Error:       errText,
	}
	if err := e.store.AppendChangeLog(ctx, entry); err != nil {
		return fmt.Errorf("batch %s: %w", st.batch.ID, err)
	}
	return nil
}

// settle computes the terminal BatchResult from the session state.
func (e *Executor) settle(st *runState) *BatchResult {
	res := &BatchResult{
		BatchID:            st.batch.ID,
		Strategy:           st.strategy,
		Operations:         operationResults(st.batch, st.statuses, st.results, st.errs),
		Checkpoints:        st.checkpoints,
		Cancelled:          st.cancelled,
		FailureCause:       st.cause,
		ManualIntervention: st.report,
	}

	successes, failures := 0, 0
	anySuccessLeft := false
	for _, or := range res.Operations {
		switch or.Status {
		case StatusSuccess:
			successes++
			anySuccessLeft = true
		case StatusFailed:
			failures++
		}
	}

	switch {
	case st.report != nil:
		res.Status = BatchCompensationFailed
	case st.strategy.compensates() && (st.failed || st.cancelled):
		if anySuccessLeft {
			// Checkpointed: work before the last checkpoint stays
			// committed.
			res.Status = BatchFailed
		} else {
			res.Status = BatchRolledBack
		}
	case failures == 0 && successes == len(res.Operations):
		res.Status = BatchSuccess
	case successes > 0:
		res.Status = BatchPartial
	default:
		res.Status = BatchFailed
	}

	return res
}
