package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/coordinator"
	"github.com/roach88/keel/internal/executor"
	"github.com/roach88/keel/internal/store"
)

func newActionDeps(t *testing.T) *ActionDeps {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "keel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return &ActionDeps{
		Store:       st,
		Coordinator: coordinator.New(st, localGroundTruth{}),
	}
}

func mustBuild(t *testing.T, deps *ActionDeps, action string, args map[string]any) (func(context.Context) (string, error), func(context.Context) error) {
	t.Helper()
	op, err := BuildOperation(deps, PlanOp{
		ID:          "op1",
		Description: "test operation",
		Action:      action,
		Args:        args,
	})
	require.NoError(t, err)
	return op.Execute, op.Compensate
}

func TestKnownAction(t *testing.T) {
	for _, name := range []string{"document.set", "document.append", "document.restore", "sequence.issue", "file.write"} {
		assert.True(t, KnownAction(name), name)
	}
	assert.False(t, KnownAction("document.rename"))
}

func TestBuildOperation_UnknownAction(t *testing.T) {
	deps := newActionDeps(t)
	_, err := BuildOperation(deps, PlanOp{Action: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "nope"`)
}

func TestBuildOperation_MissingArgument(t *testing.T) {
	deps := newActionDeps(t)
	_, err := BuildOperation(deps, PlanOp{Action: "document.set", Args: map[string]any{"document": "doc-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing argument "content"`)
}

func TestBuildOperation_WrongArgumentType(t *testing.T) {
	deps := newActionDeps(t)
	_, err := BuildOperation(deps, PlanOp{Action: "document.set", Args: map[string]any{"document": "doc-1", "content": 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `argument "content" must be a string`)
}

func TestDocumentSet_CreateThenCompensateIsNoOp(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()
	execute, compensate := mustBuild(t, deps, "document.set", map[string]any{
		"document": "doc-1", "content": "hello",
	})

	result, err := execute(ctx)
	require.NoError(t, err)
	assert.Contains(t, result, "version 1")

	content, version, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, uint64(1), version)

	// The document did not exist before; nothing to restore.
	require.NoError(t, compensate(ctx))
	content, _, err = deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestDocumentSet_OverwriteCompensationRestoresPrior(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()

	_, err := deps.Store.Update(ctx, "doc-1", func([]byte) ([]byte, error) {
		return []byte("original"), nil
	}, 0)
	require.NoError(t, err)

	execute, compensate := mustBuild(t, deps, "document.set", map[string]any{
		"document": "doc-1", "content": "changed",
	})
	_, err = execute(ctx)
	require.NoError(t, err)

	require.NoError(t, compensate(ctx))
	content, version, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
	assert.Equal(t, uint64(3), version, "restore is a new version, not a history rewrite")
}

func TestDocumentMutations_UnwindRestoresPreBatchContent(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()

	_, err := deps.Store.Update(ctx, "doc-1", func([]byte) ([]byte, error) {
		return []byte("original"), nil
	}, 0)
	require.NoError(t, err)

	// Three mutations of the same document, then a failure. The unwind
	// must land on the pre-batch content, not on one of the batch's own
	// intermediate writes.
	planOps := []PlanOp{
		{ID: "op1", Description: "first draft", Action: "document.set",
			Args: map[string]any{"document": "doc-1", "content": "draft A"}},
		{ID: "op2", Description: "second draft", Action: "document.set",
			Args: map[string]any{"document": "doc-1", "content": "draft B"}},
		{ID: "op3", Description: "postscript", Action: "document.append",
			Args: map[string]any{"document": "doc-1", "content": "ps"}},
		{ID: "op4", Description: "restore missing document", Action: "document.restore",
			Args: map[string]any{"document": "doc-missing"}},
	}
	batch := &executor.Batch{ID: "batch-unwind"}
	for _, planOp := range planOps {
		op, err := BuildOperation(deps, planOp)
		require.NoError(t, err)
		batch.Operations = append(batch.Operations, op)
	}

	result, err := executor.New(deps.Store).Submit(ctx, batch, executor.StrategyAllOrNothing)
	require.NoError(t, err)
	assert.Equal(t, executor.BatchRolledBack, result.Status)

	content, _, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestDocumentAppend(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()

	first, _ := mustBuild(t, deps, "document.append", map[string]any{
		"document": "doc-1", "content": "line one",
	})
	_, err := first(ctx)
	require.NoError(t, err)

	second, _ := mustBuild(t, deps, "document.append", map[string]any{
		"document": "doc-1", "content": "line two",
	})
	_, err = second(ctx)
	require.NoError(t, err)

	content, _, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(content))
}

func TestDocumentRestore(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()

	for _, content := range []string{"v1", "v2"} {
		c := content
		_, version, _ := deps.Store.Read(ctx, "doc-1")
		_, err := deps.Store.Update(ctx, "doc-1", func([]byte) ([]byte, error) {
			return []byte(c), nil
		}, version)
		require.NoError(t, err)
	}

	execute, _ := mustBuild(t, deps, "document.restore", map[string]any{
		"document": "doc-1", "generations": 1,
	})
	result, err := execute(ctx)
	require.NoError(t, err)
	assert.Contains(t, result, "restored")

	content, _, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
}

func TestDocumentRestore_CompensationRestoresPreRestoreContent(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()

	for _, content := range []string{"v1", "v2"} {
		c := content
		_, version, _ := deps.Store.Read(ctx, "doc-1")
		_, err := deps.Store.Update(ctx, "doc-1", func([]byte) ([]byte, error) {
			return []byte(c), nil
		}, version)
		require.NoError(t, err)
	}

	execute, compensate := mustBuild(t, deps, "document.restore", map[string]any{
		"document": "doc-1",
	})
	_, err := execute(ctx)
	require.NoError(t, err)

	require.NoError(t, compensate(ctx))
	content, _, err := deps.Store.Read(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestDocumentRestore_NoBackupFails(t *testing.T) {
	deps := newActionDeps(t)
	execute, _ := mustBuild(t, deps, "document.restore", map[string]any{
		"document": "doc-none",
	})
	_, err := execute(context.Background())
	require.Error(t, err)
}

func TestSequenceIssue(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()
	execute, _ := mustBuild(t, deps, "sequence.issue", map[string]any{
		"identity": "acct-1",
	})

	result, err := execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "issued sequence 0 for acct-1", result)

	result, err = execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "issued sequence 1 for acct-1", result)

	pending, err := deps.Coordinator.Pending(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestFileWrite_CompensationRemovesNewFile(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.txt")

	execute, compensate := mustBuild(t, deps, "file.write", map[string]any{
		"path": path, "content": "payload",
	})
	_, err := execute(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, compensate(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileWrite_CompensationRestoresPriorContent(t *testing.T) {
	deps := newActionDeps(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0o644))

	execute, compensate := mustBuild(t, deps, "file.write", map[string]any{
		"path": path, "content": "after",
	})
	_, err := execute(ctx)
	require.NoError(t, err)

	require.NoError(t, compensate(ctx))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))
}
