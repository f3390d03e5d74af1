package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios against
// the real executor and compares traces against golden files.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_AssertionFailureIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expectation",
		Description: "a scenario whose assertion is wrong must fail, not error",
		BatchID:     "batch-wrong",
		Strategy:    "best_effort",
		Operations: []ScenarioOp{
			{ID: "op1", Outcome: "ok"},
		},
		Assertions: []Assertion{
			{Type: AssertBatchStatus, Status: "Failed"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batch status is Success, want Failed")
}

func TestRun_ExplicitCheckpointOperation(t *testing.T) {
	scenario := &Scenario{
		Name:        "explicit-checkpoint",
		Description: "an operation-level checkpoint flag protects earlier work",
		BatchID:     "batch-explicit",
		Strategy:    "checkpointed",
		Operations: []ScenarioOp{
			{ID: "op1", Outcome: "ok", Checkpoint: true},
			{ID: "op2", Outcome: "ok"},
			{ID: "op3", Outcome: "fail"},
		},
		Assertions: []Assertion{
			{Type: AssertBatchStatus, Status: "Failed"},
			{Type: AssertOperationStatus, Operation: "op1", Status: "Success"},
			{Type: AssertOperationStatus, Operation: "op2", Status: "RolledBack"},
			{Type: AssertCompensationOrder, Operations: []string{"op2"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
}

func TestRun_DependencyChain(t *testing.T) {
	scenario := &Scenario{
		Name:        "dependency-chain",
		Description: "a dependent of a failed operation fails without executing",
		BatchID:     "batch-deps",
		Strategy:    "best_effort",
		Operations: []ScenarioOp{
			{ID: "op1", Outcome: "fail"},
			{ID: "op2", Outcome: "ok", DependsOn: []string{"op1"}},
			{ID: "op3", Outcome: "ok"},
		},
		Assertions: []Assertion{
			{Type: AssertBatchStatus, Status: "Partial"},
			{Type: AssertOperationStatus, Operation: "op2", Status: "Failed"},
			{Type: AssertOperationStatus, Operation: "op3", Status: "Success"},
			{Type: AssertChangeLogCount, Count: 3},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
}
