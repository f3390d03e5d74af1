package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/store"
)

// EvaluateAssertions checks every assertion against the final batch
// result and the batch's full change log, recording failures on the
// result. All assertions run; the first failure does not stop later
// ones.
func EvaluateAssertions(result *Result, assertions []Assertion, final *executor.BatchResult, entries []store.ChangeLogEntry) {
	for i, a := range assertions {
		switch a.Type {
		case AssertBatchStatus:
			if string(final.Status) != a.Status {
				result.AddError(fmt.Sprintf("assertion %d: batch status is %s, want %s", i, final.Status, a.Status))
			}

		case AssertOperationStatus:
			status, found := "", false
			for _, or := range final.Operations {
				if or.ID == a.Operation {
					status, found = string(or.Status), true
					break
				}
			}
			if !found {
				result.AddError(fmt.Sprintf("assertion %d: no operation %q in result", i, a.Operation))
			} else if status != a.Status {
				result.AddError(fmt.Sprintf("assertion %d: operation %q is %s, want %s", i, a.Operation, status, a.Status))
			}

		case AssertChangeLogCount:
			if len(entries) != a.Count {
				result.AddError(fmt.Sprintf("assertion %d: change log has %d entries, want %d", i, len(entries), a.Count))
			}

		case AssertCompensationOrder:
			var order []string
			for _, entry := range entries {
				if entry.Status == string(executor.StatusRolledBack) {
					order = append(order, entry.OperationID)
				}
			}
			if !slices.Equal(order, a.Operations) {
				result.AddError(fmt.Sprintf("assertion %d: compensation order %v, want %v", i, order, a.Operations))
			}
		}
	}
}
