package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocCommands_ReadHistoryRestore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "keel.db")
	seedDocument(t, dbPath, "doc-1", "first draft")
	seedDocument(t, dbPath, "doc-1", "second draft")

	out, err := execKeel(t, "doc", "read", "--db", dbPath, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "doc-1 (version 2)")
	assert.Contains(t, out, "second draft")

	out, err = execKeel(t, "doc", "history", "--db", dbPath, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1")

	out, err = execKeel(t, "doc", "restore", "--db", dbPath, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "restored to version 3")

	assert.Equal(t, "first draft", readDocument(t, dbPath, "doc-1"))
}

func TestDocCommands_ReadMissingDocument(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keel.db")
	// Touch the database so open succeeds.
	seedDocument(t, dbPath, "other", "x")

	_, err := execKeel(t, "doc", "read", "--db", dbPath, "doc-1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDocCommands_HistoryEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keel.db")
	seedDocument(t, dbPath, "doc-1", "only version")

	out, err := execKeel(t, "doc", "history", "--db", dbPath, "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "no backups")
}
