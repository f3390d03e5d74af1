package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/roach88/keel/internal/coordinator"
	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/store"
)

// ActionDeps carries the components plan actions close over.
type ActionDeps struct {
	Store       *store.Store
	Coordinator *coordinator.Coordinator
}

// actionBuilder turns declared args into an execute/compensate pair.
type actionBuilder func(deps *ActionDeps, args map[string]any) (
	func(ctx context.Context) (string, error),
	func(ctx context.Context) error,
	error,
)

// actions is the registry of plan actions.
var actions = map[string]actionBuilder{
	"document.set":     buildDocumentSet,
	"document.append":  buildDocumentAppend,
	"document.restore": buildDocumentRestore,
	"sequence.issue":   buildSequenceIssue,
	"file.write":       buildFileWrite,
}

// KnownAction reports whether name is a registered plan action.
func KnownAction(name string) bool {
	_, ok := actions[name]
	return ok
}

// BuildOperation converts a declared operation into an executable one.
func BuildOperation(deps *ActionDeps, planOp PlanOp) (*executor.Operation, error) {
	builder, ok := actions[planOp.Action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", planOp.Action)
	}
	execute, compensate, err := builder(deps, planOp.Args)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", planOp.Action, err)
	}
	return &executor.Operation{
		ID:          planOp.ID,
		Description: planOp.Description,
		DependsOn:   planOp.DependsOn,
		Checkpoint:  planOp.Checkpoint,
		Execute:     execute,
		Compensate:  compensate,
	}, nil
}

// buildDocumentSet replaces a document's content. Execute captures the
// content it overwrites, and compensation writes that exact content
// back as a new version. The backup ring is not consulted: when
// several operations in one batch touch the same document, the ring's
// newest generations are the batch's own intermediate writes.
// Creating a new document has nothing to restore, so its compensation
// is a no-op.
func buildDocumentSet(deps *ActionDeps, args map[string]any) (func(ctx context.Context) (string, error), func(ctx context.Context) error, error) {
	documentID, err := stringArg(args, "document")
	if err != nil {
		return nil, nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, nil, err
	}

	var prior []byte
	var existed bool
	execute := func(ctx context.Context) (string, error) {
		current, version, err := deps.Store.Read(ctx, documentID)
		if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
			return "", err
		}
		existed = version > 0
		if existed {
			prior = append([]byte(nil), current...)
		}

		newVersion, err := deps.Store.Update(ctx, documentID, func([]byte) ([]byte, error) {
			return []byte(content), nil
		}, version)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("document %s now at version %d", documentID, newVersion), nil
	}
	compensate := func(ctx context.Context) error {
		if !existed {
			return nil
		}
		return writeDocumentContent(ctx, deps.Store, documentID, prior)
	}
	return execute, compensate, nil
}

// buildDocumentAppend appends a line to a document, creating it when
// absent. Compensation writes back the pre-append content captured at
// execute time, like document.set.
func buildDocumentAppend(deps *ActionDeps, args map[string]any) (func(ctx context.Context) (string, error), func(ctx context.Context) error, error) {
	documentID, err := stringArg(args, "document")
	if err != nil {
		return nil, nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, nil, err
	}

	var prior []byte
	var existed bool
	execute := func(ctx context.Context) (string, error) {
		current, version, err := deps.Store.Read(ctx, documentID)
		if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
			return "", err
		}
		existed = version > 0
		if existed {
			prior = append([]byte(nil), current...)
		}

		newVersion, err := deps.Store.Update(ctx, documentID, func(current []byte) ([]byte, error) {
			if len(current) == 0 {
				return []byte(content), nil
			}
			return append(append([]byte{}, current...), append([]byte("\n"), content...)...), nil
		}, version)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("document %s now at version %d", documentID, newVersion), nil
	}
	compensate := func(ctx context.Context) error {
		if !existed {
			return nil
		}
		return writeDocumentContent(ctx, deps.Store, documentID, prior)
	}
	return execute, compensate, nil
}

// writeDocumentContent writes content as the document's next version,
// reading the current version first so the write passes the store's
// optimistic concurrency check.
func writeDocumentContent(ctx context.Context, st *store.Store, documentID string, content []byte) error {
	_, version, err := st.Read(ctx, documentID)
	if err != nil {
		return err
	}
	_, err = st.Update(ctx, documentID, func([]byte) ([]byte, error) {
		return content, nil
	}, version)
	return err
}

// buildDocumentRestore reintroduces a prior backup generation as a new
// version. Compensation writes back the pre-restore content captured
// at execute time, for the same reason as document.set.
func buildDocumentRestore(deps *ActionDeps, args map[string]any) (func(ctx context.Context) (string, error), func(ctx context.Context) error, error) {
	documentID, err := stringArg(args, "document")
	if err != nil {
		return nil, nil, err
	}
	generations := intArg(args, "generations", 1)

	var prior []byte
	execute := func(ctx context.Context) (string, error) {
		current, _, err := deps.Store.Read(ctx, documentID)
		if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
			return "", err
		}
		if err == nil {
			prior = append([]byte(nil), current...)
		}

		version, err := deps.Store.RestoreFromBackup(ctx, documentID, generations)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("document %s restored to version %d", documentID, version), nil
	}
	compensate := func(ctx context.Context) error {
		if prior == nil {
			return nil
		}
		return writeDocumentContent(ctx, deps.Store, documentID, prior)
	}
	return execute, compensate, nil
}

// buildSequenceIssue draws the next ordered sequence value for an
// identity and tracks it as pending. Issuance is not undoable; Resync
// against ground truth is the reconciliation path, so there is no
// compensation.
func buildSequenceIssue(deps *ActionDeps, args map[string]any) (func(ctx context.Context) (string, error), func(ctx context.Context) error, error) {
	identity, err := stringArg(args, "identity")
	if err != nil {
		return nil, nil, err
	}

	execute := func(ctx context.Context) (string, error) {
		seq, err := deps.Coordinator.GetNext(ctx, identity)
		if err != nil {
			return "", err
		}
		handle := fmt.Sprintf("plan:%s:%d", identity, seq)
		if err := deps.Coordinator.RecordPending(ctx, identity, seq, handle); err != nil {
			return "", err
		}
		return fmt.Sprintf("issued sequence %d for %s", seq, identity), nil
	}
	return execute, nil, nil
}

// buildFileWrite writes a file outside the document namespace.
// Compensation restores the prior content, or removes the file when it
// did not previously exist.
func buildFileWrite(deps *ActionDeps, args map[string]any) (func(ctx context.Context) (string, error), func(ctx context.Context) error, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, nil, err
	}

	var prior []byte
	var existed bool
	execute := func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			prior, existed = data, true
		case errors.Is(err, fs.ErrNotExist):
			existed = false
		default:
			return "", err
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
	}
	compensate := func(ctx context.Context) error {
		if !existed {
			return os.Remove(path)
		}
		return os.WriteFile(path, prior, 0o644)
	}
	return execute, compensate, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func intArg(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
