// Package harness runs conformance scenarios against the real
// operation executor. Scenario operations carry scripted outcomes
// instead of real side effects, so strategy, compensation, checkpoint,
// and resume behavior is exercised end to end while the resulting
// trace stays byte-deterministic for golden comparison.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/store"
	"github.com/roach88/keel/internal/testutil"
)

// scenarioEpoch is the fixed clock start for every scenario run.
var scenarioEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario in a fresh in-memory store and evaluates its
// assertions. Deterministic helpers (manual clock, fixed checkpoint
// IDs, scenario-supplied batch and operation IDs) make the returned
// trace reproducible byte for byte.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:", store.WithClock(testutil.NewManualClock(scenarioEpoch)))
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	opts := []executor.Option{
		executor.WithClock(testutil.NewManualClock(scenarioEpoch)),
		executor.WithIDGenerator(checkpointIDs()),
	}
	if scenario.CheckpointInterval > 0 {
		opts = append(opts, executor.WithCheckpointInterval(scenario.CheckpointInterval))
	}
	exec := executor.New(st, opts...)

	// Outcomes are read at execution time so the resume phase can
	// flip a scripted failure to a success.
	outcomes := make(map[string]string, len(scenario.Operations))
	results := make(map[string]string, len(scenario.Operations))
	for _, op := range scenario.Operations {
		outcomes[op.ID] = op.Outcome
		results[op.ID] = op.Result
		if results[op.ID] == "" {
			results[op.ID] = "done"
		}
	}

	batch := buildBatch(scenario, outcomes, results)
	strategy, _ := executor.ParseStrategy(scenario.Strategy)

	ctx := context.Background()
	result := NewResult()

	final, err := exec.Submit(ctx, batch, strategy)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	lastSeq, err := appendPhaseTrace(ctx, st, result, "submit", final, 0)
	if err != nil {
		return nil, err
	}

	if scenario.Resume != nil {
		for id, outcome := range scenario.Resume.Outcomes {
			outcomes[id] = outcome
		}
		resumeStrategy := strategy
		if scenario.Resume.Strategy != "" {
			resumeStrategy, _ = executor.ParseStrategy(scenario.Resume.Strategy)
		}

		final, err = exec.Resume(ctx, batch, scenario.Resume.From, scenario.Resume.RetryFailed, resumeStrategy)
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		if _, err = appendPhaseTrace(ctx, st, result, "resume", final, lastSeq); err != nil {
			return nil, err
		}
	}

	entries, err := st.ReadChangeLog(ctx, scenario.BatchID)
	if err != nil {
		return nil, err
	}
	EvaluateAssertions(result, scenario.Assertions, final, entries)

	return result, nil
}

// buildBatch converts scripted operations into executable ones.
func buildBatch(scenario *Scenario, outcomes, results map[string]string) *executor.Batch {
	ops := make([]*executor.Operation, 0, len(scenario.Operations))
	for _, sop := range scenario.Operations {
		id := sop.ID
		description := sop.Description
		if description == "" {
			description = id
		}

		op := &executor.Operation{
			ID:          id,
			Description: description,
			DependsOn:   sop.DependsOn,
			Checkpoint:  sop.Checkpoint,
			Execute: func(ctx context.Context) (string, error) {
				if outcomes[id] == "fail" {
					return "", errors.New("scripted failure")
				}
				return results[id], nil
			},
		}
		switch sop.Compensate {
		case "none":
			// declared side-effect-free, no inverse
		case "fail":
			op.Compensate = func(ctx context.Context) error {
				return errors.New("scripted compensation failure")
			}
		default:
			op.Compensate = func(ctx context.Context) error { return nil }
		}
		ops = append(ops, op)
	}
	return &executor.Batch{ID: scenario.BatchID, Operations: ops}
}

// appendPhaseTrace adds the phase boundary, the change-log entries the
// phase produced, and the terminal batch event. Returns the highest
// entry sequence seen.
func appendPhaseTrace(ctx context.Context, st *store.Store, result *Result, phase string, final *executor.BatchResult, afterSeq int64) (int64, error) {
	result.Trace = append(result.Trace, TraceEvent{
		Type:     "phase",
		Phase:    phase,
		Strategy: string(final.Strategy),
	})

	entries, err := st.ReadChangeLog(ctx, final.BatchID)
	if err != nil {
		return 0, err
	}
	last := afterSeq
	for _, entry := range entries {
		if entry.EntrySeq <= afterSeq {
			continue
		}
		result.Trace = append(result.Trace, TraceEvent{
			Type:      "operation",
			Operation: entry.OperationID,
			Status:    entry.Status,
			Result:    entry.Result,
			Error:     entry.Error,
			Seq:       entry.EntrySeq,
		})
		if entry.EntrySeq > last {
			last = entry.EntrySeq
		}
	}

	result.Trace = append(result.Trace, TraceEvent{
		Type:   "batch",
		Status: string(final.Status),
	})
	return last, nil
}

// checkpointIDs returns a fixed generator sized for any reasonable
// scenario. Batch IDs come from the scenario, so only checkpoints
// draw from it.
func checkpointIDs() *executor.FixedGenerator {
	ids := make([]string, 16)
	for i := range ids {
		ids[i] = fmt.Sprintf("checkpoint-%d", i+1)
	}
	return executor.NewFixedGenerator(ids...)
}
