package cli

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/keel/internal/executor"
)

// Plan is a declarative mutation batch loaded from a CUE file. The
// file declares a top-level "plan" struct:
//
//	plan: {
//		batch_id: "rename-config"
//		strategy: "all_or_nothing"
//		operations: [
//			{action: "document.set", description: "write greeting",
//			 args: {document: "doc-1", content: "hello"}},
//		]
//	}
type Plan struct {
	// BatchID identifies the batch in the change log. Optional; the
	// executor assigns one when empty.
	BatchID string `json:"batch_id"`

	// Strategy is the partial-failure strategy name.
	Strategy string `json:"strategy"`

	// Identity is the external-resource identity for sequence issuance
	// and cost gating. Required only by plans that use either.
	Identity string `json:"identity"`

	// Snapshot lists resource paths to capture before the batch runs.
	Snapshot []string `json:"snapshot"`

	// Document names the batch's primary document, used as the
	// backup-ring rollback target when verification fails.
	Document string `json:"document"`

	// Operations run in order.
	Operations []PlanOp `json:"operations"`

	// Verify lists post-batch verification predicates.
	Verify []PlanPredicate `json:"verify"`
}

// PlanOp is one declared operation.
type PlanOp struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Args        map[string]any `json:"args"`
	DependsOn   []string       `json:"depends_on"`
	Checkpoint  bool           `json:"checkpoint"`
}

// PlanPredicate declares one verification predicate.
type PlanPredicate struct {
	Name string `json:"name"`

	// Kind selects the predicate: "document_checksum",
	// "document_contains", or "file_exists".
	Kind string `json:"kind"`

	Document  string `json:"document"`
	Checksum  string `json:"checksum"`
	Substring string `json:"substring"`
	Path      string `json:"path"`
}

// LoadPlan reads and validates a plan CUE file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile plan: %w", err)
	}

	planVal := value.LookupPath(cue.ParsePath("plan"))
	if !planVal.Exists() {
		return nil, fmt.Errorf("plan %s: no top-level \"plan\" declaration", path)
	}

	var plan Plan
	if err := planVal.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if err := validatePlan(&plan); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &plan, nil
}

// validatePlan checks declared fields before anything executes.
func validatePlan(p *Plan) error {
	if _, ok := executor.ParseStrategy(p.Strategy); !ok {
		return fmt.Errorf("unknown strategy %q", p.Strategy)
	}
	if len(p.Operations) == 0 {
		return fmt.Errorf("operations list is required and must be non-empty")
	}

	for i, op := range p.Operations {
		if op.Action == "" {
			return fmt.Errorf("operations[%d]: action is required", i)
		}
		if !KnownAction(op.Action) {
			return fmt.Errorf("operations[%d]: unknown action %q", i, op.Action)
		}
		if op.Description == "" {
			return fmt.Errorf("operations[%d]: description is required", i)
		}
	}

	for i, pred := range p.Verify {
		if pred.Name == "" {
			return fmt.Errorf("verify[%d]: name is required", i)
		}
		switch pred.Kind {
		case "document_checksum":
			if pred.Document == "" || pred.Checksum == "" {
				return fmt.Errorf("verify[%d]: document and checksum are required for document_checksum", i)
			}
		case "document_contains":
			if pred.Document == "" || pred.Substring == "" {
				return fmt.Errorf("verify[%d]: document and substring are required for document_contains", i)
			}
		case "file_exists":
			if pred.Path == "" {
				return fmt.Errorf("verify[%d]: path is required for file_exists", i)
			}
		default:
			return fmt.Errorf("verify[%d]: unknown predicate kind %q", i, pred.Kind)
		}
	}
	return nil
}
