package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keel/internal/executor"
)

// Scenario defines a conformance test for the operation executor.
// Operations carry scripted outcomes, so a scenario exercises real
// strategy, compensation, checkpoint, and resume behavior without any
// external side effects.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// BatchID fixes the batch identity for deterministic traces.
	BatchID string `yaml:"batch_id"`

	// Strategy selects the partial-failure behavior for the first run.
	Strategy string `yaml:"strategy"`

	// CheckpointInterval overrides the executor default when positive.
	CheckpointInterval int `yaml:"checkpoint_interval,omitempty"`

	// Operations run in order.
	Operations []ScenarioOp `yaml:"operations"`

	// Resume optionally continues the batch after the first run.
	Resume *ResumeStep `yaml:"resume,omitempty"`

	// Assertions validate the final result and change log.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioOp is one scripted operation.
type ScenarioOp struct {
	// ID identifies the operation. Required, so traces stay readable.
	ID string `yaml:"id"`

	// Description is the change-log line. Defaults to the ID.
	Description string `yaml:"description,omitempty"`

	// Outcome scripts Execute: "ok" or "fail".
	Outcome string `yaml:"outcome"`

	// Result is the success result string. Defaults to "done".
	Result string `yaml:"result,omitempty"`

	// Compensate scripts the inverse action: "ok" (default), "fail",
	// or "none" for a declared side-effect-free operation.
	Compensate string `yaml:"compensate,omitempty"`

	// DependsOn lists prerequisite operation IDs.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Checkpoint requests an explicit checkpoint after this operation.
	Checkpoint bool `yaml:"checkpoint,omitempty"`
}

// ResumeStep continues the scenario's batch in a second phase.
type ResumeStep struct {
	// From is the operation ID to resume from.
	From string `yaml:"from"`

	// RetryFailed re-runs the failed operation.
	RetryFailed bool `yaml:"retry_failed"`

	// Strategy for the resumed run. Defaults to the scenario strategy.
	Strategy string `yaml:"strategy,omitempty"`

	// Outcomes overrides scripted outcomes for the resumed run, keyed
	// by operation ID ("ok" or "fail"). A transient failure is modeled
	// by "fail" in the first phase and "ok" here.
	Outcomes map[string]string `yaml:"outcomes,omitempty"`
}

// Assertion validates the result or the change log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Status is the expected batch status (batch_status) or operation
	// status (operation_status).
	Status string `yaml:"status,omitempty"`

	// Operation is the operation ID for operation_status.
	Operation string `yaml:"operation,omitempty"`

	// Count is the expected entry count for change_log_count.
	Count int `yaml:"count,omitempty"`

	// Operations is the expected ID order for compensation_order.
	Operations []string `yaml:"operations,omitempty"`
}

// Assertion type constants.
const (
	AssertBatchStatus       = "batch_status"
	AssertOperationStatus   = "operation_status"
	AssertChangeLogCount    = "change_log_count"
	AssertCompensationOrder = "compensation_order"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently validating
// nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and scripted values.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.BatchID == "" {
		return fmt.Errorf("batch_id is required")
	}
	if _, ok := executor.ParseStrategy(s.Strategy); !ok {
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if len(s.Operations) == 0 {
		return fmt.Errorf("operations list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, op := range s.Operations {
		if op.ID == "" {
			return fmt.Errorf("operations[%d]: id is required", i)
		}
		if op.Outcome != "ok" && op.Outcome != "fail" {
			return fmt.Errorf("operations[%d]: outcome must be \"ok\" or \"fail\", got %q", i, op.Outcome)
		}
		switch op.Compensate {
		case "", "ok", "fail", "none":
		default:
			return fmt.Errorf("operations[%d]: compensate must be \"ok\", \"fail\", or \"none\", got %q", i, op.Compensate)
		}
	}

	if s.Resume != nil {
		if s.Resume.From == "" {
			return fmt.Errorf("resume: from is required")
		}
		if s.Resume.Strategy != "" {
			if _, ok := executor.ParseStrategy(s.Resume.Strategy); !ok {
				return fmt.Errorf("resume: unknown strategy %q", s.Resume.Strategy)
			}
		}
		for id, outcome := range s.Resume.Outcomes {
			if outcome != "ok" && outcome != "fail" {
				return fmt.Errorf("resume.outcomes[%s]: must be \"ok\" or \"fail\", got %q", id, outcome)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertBatchStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for batch_status", index)
		}
	case AssertOperationStatus:
		if a.Operation == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: operation and status are required for operation_status", index)
		}
	case AssertChangeLogCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for change_log_count", index)
		}
	case AssertCompensationOrder:
		if len(a.Operations) == 0 {
			return fmt.Errorf("assertions[%d]: operations list is required for compensation_order", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
