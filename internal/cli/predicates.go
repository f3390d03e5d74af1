package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/roach88/keel/internal/store"
	"github.com/roach88/keel/internal/verify"
)

// buildPredicates converts declared verification predicates into gate
// predicates. Evidence comes from independent reads of the store or
// filesystem, never from operation-reported results.
func buildPredicates(st *store.Store, declared []PlanPredicate) []verify.Predicate {
	predicates := make([]verify.Predicate, 0, len(declared))
	for _, pred := range declared {
		predicates = append(predicates, buildPredicate(st, pred))
	}
	return predicates
}

func buildPredicate(st *store.Store, pred PlanPredicate) verify.Predicate {
	switch pred.Kind {
	case "document_checksum":
		return verify.NewPredicate(pred.Name, func(ctx context.Context) (verify.Outcome, string, error) {
			got, err := st.Checksum(ctx, pred.Document)
			if err != nil {
				return verify.OutcomeInconclusive, "", err
			}
			if got != pred.Checksum {
				return verify.OutcomeFail, fmt.Sprintf("document %s checksum %s, want %s", pred.Document, got, pred.Checksum), nil
			}
			return verify.OutcomePass, fmt.Sprintf("document %s checksum matches", pred.Document), nil
		})

	case "document_contains":
		return verify.NewPredicate(pred.Name, func(ctx context.Context) (verify.Outcome, string, error) {
			content, version, err := st.Read(ctx, pred.Document)
			if err != nil {
				return verify.OutcomeInconclusive, "", err
			}
			if !strings.Contains(string(content), pred.Substring) {
				return verify.OutcomeFail, fmt.Sprintf("document %s (version %d) does not contain %q", pred.Document, version, pred.Substring), nil
			}
			return verify.OutcomePass, fmt.Sprintf("document %s contains %q", pred.Document, pred.Substring), nil
		})

	case "file_exists":
		return verify.NewPredicate(pred.Name, func(ctx context.Context) (verify.Outcome, string, error) {
			_, err := os.Stat(pred.Path)
			switch {
			case err == nil:
				return verify.OutcomePass, fmt.Sprintf("%s exists", pred.Path), nil
			case errors.Is(err, fs.ErrNotExist):
				return verify.OutcomeFail, fmt.Sprintf("%s does not exist", pred.Path), nil
			default:
				return verify.OutcomeInconclusive, "", err
			}
		})

	default:
		// validatePlan rejects unknown kinds; this path covers callers
		// that bypass LoadPlan.
		return verify.NewPredicate(pred.Name, func(context.Context) (verify.Outcome, string, error) {
			return verify.OutcomeInconclusive, "", fmt.Errorf("unknown predicate kind %q", pred.Kind)
		})
	}
}
