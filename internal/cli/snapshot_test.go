package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCommands_CaptureRestoreLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	snapDir := filepath.Join(tmpDir, "snapshots")
	target := filepath.Join(tmpDir, "config.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	out, err := execKeel(t, "snapshot", "create", "--dir", snapDir, "--id", "snap-1", target)
	require.NoError(t, err)
	assert.Contains(t, out, "snap-1")
	assert.Contains(t, out, "1 resources")

	require.NoError(t, os.WriteFile(target, []byte("changed"), 0o644))

	out, err = execKeel(t, "snapshot", "restore", "--dir", snapDir, "snap-1")
	require.NoError(t, err)
	assert.Contains(t, out, "restored snapshot snap-1")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestSnapshotCommands_ListAndDelete(t *testing.T) {
	tmpDir := t.TempDir()
	snapDir := filepath.Join(tmpDir, "snapshots")
	target := filepath.Join(tmpDir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))

	_, err := execKeel(t, "snapshot", "create", "--dir", snapDir, "--id", "snap-a", target)
	require.NoError(t, err)
	_, err = execKeel(t, "snapshot", "create", "--dir", snapDir, "--id", "snap-b", target)
	require.NoError(t, err)

	out, err := execKeel(t, "snapshot", "list", "--dir", snapDir)
	require.NoError(t, err)
	assert.Contains(t, out, "snap-a")
	assert.Contains(t, out, "snap-b")

	_, err = execKeel(t, "snapshot", "delete", "--dir", snapDir, "snap-a")
	require.NoError(t, err)

	out, err = execKeel(t, "snapshot", "list", "--dir", snapDir)
	require.NoError(t, err)
	assert.NotContains(t, out, "snap-a")
	assert.Contains(t, out, "snap-b")
}

func TestSnapshotCommands_RestoreUnknownSnapshotFails(t *testing.T) {
	snapDir := filepath.Join(t.TempDir(), "snapshots")

	_, err := execKeel(t, "snapshot", "restore", "--dir", snapDir, "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSnapshotCommands_EmptyList(t *testing.T) {
	snapDir := filepath.Join(t.TempDir(), "snapshots")

	out, err := execKeel(t, "snapshot", "list", "--dir", snapDir)
	require.NoError(t, err)
	assert.Contains(t, out, "no snapshots")
}
