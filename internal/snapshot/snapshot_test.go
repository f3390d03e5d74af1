package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keel/internal/canonical"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	return m
}

func TestCreate_CapturesExistingResources(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()

	a := filepath.Join(work, "a.txt")
	b := filepath.Join(work, "sub", "b.txt")
	writeFile(t, a, "alpha")
	writeFile(t, b, "beta")

	snap, err := m.Create([]string{a, b}, "snap-1", map[string]string{"batch": "batch-1"})
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 2)
	assert.Equal(t, canonical.HashBytes(canonical.DomainSnapshot, []byte("alpha")), snap.Entries[a])
	assert.Empty(t, snap.Skipped)
}

func TestCreate_SkipsMissingResourcesWithoutFailing(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()

	a := filepath.Join(work, "a.txt")
	missing := filepath.Join(work, "not-yet-created.txt")
	writeFile(t, a, "alpha")

	snap, err := m.Create([]string{a, missing}, "snap-1", nil)
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 1)
	assert.Equal(t, []string{missing}, snap.Skipped)
}

func TestCreate_SnapshotIsImmutable(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "alpha")

	_, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	_, err = m.Create([]string{a}, "snap-1", nil)
	assert.ErrorIs(t, err, ErrExists)
}

func TestRestore_RevertsModifiedResources(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "original")

	_, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	writeFile(t, a, "mutated beyond recognition")
	require.NoError(t, m.Restore("snap-1", true))
	assert.Equal(t, "original", readFile(t, a))
}

func TestRestore_Idempotent(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "original")

	_, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	writeFile(t, a, "changed")
	require.NoError(t, m.Restore("snap-1", true))
	once := readFile(t, a)
	require.NoError(t, m.Restore("snap-1", true))
	assert.Equal(t, once, readFile(t, a), "restoring twice must equal restoring once")
}

func TestRestore_RecreatesDeletedResources(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "sub", "a.txt")
	writeFile(t, a, "original")

	_, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(work, "sub")))
	require.NoError(t, m.Restore("snap-1", true))
	assert.Equal(t, "original", readFile(t, a))
}

func TestRestore_IntegrityFailureAbortsBeforeAnyWrite(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	b := filepath.Join(work, "b.txt")
	writeFile(t, a, "alpha")
	writeFile(t, b, "beta")

	snap, err := m.Create([]string{a, b}, "snap-1", nil)
	require.NoError(t, err)

	// Corrupt one stored copy.
	corrupted := filepath.Join(m.root, "snap-1", "objects", snap.Entries[b])
	require.NoError(t, os.WriteFile(corrupted, []byte("tampered"), 0o644))

	writeFile(t, a, "live-a")
	writeFile(t, b, "live-b")

	err = m.Restore("snap-1", true)
	require.True(t, IsIntegrityError(err), "expected IntegrityError, got %v", err)

	// All-or-nothing: neither resource was touched.
	assert.Equal(t, "live-a", readFile(t, a))
	assert.Equal(t, "live-b", readFile(t, b))
}

func TestRestore_SkipVerification(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "alpha")

	snap, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	corrupted := filepath.Join(m.root, "snap-1", "objects", snap.Entries[a])
	require.NoError(t, os.WriteFile(corrupted, []byte("tampered"), 0o644))

	// verifyHash=false trusts the stored copy.
	require.NoError(t, m.Restore("snap-1", false))
	assert.Equal(t, "tampered", readFile(t, a))
}

func TestRestore_NotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Restore("no-such-snapshot", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_ReleasesStorageOnly(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "original")

	_, err := m.Create([]string{a}, "snap-1", nil)
	require.NoError(t, err)

	writeFile(t, a, "changed")
	require.NoError(t, m.Restore("snap-1", true))
	require.NoError(t, m.Delete("snap-1"))

	// Restored resource unaffected by deletion.
	assert.Equal(t, "original", readFile(t, a))

	assert.ErrorIs(t, m.Delete("snap-1"), ErrNotFound)
	assert.ErrorIs(t, m.Restore("snap-1", true), ErrNotFound)
}

func TestList_SortedIDs(t *testing.T) {
	m := newTestManager(t)
	work := t.TempDir()
	a := filepath.Join(work, "a.txt")
	writeFile(t, a, "alpha")

	_, err := m.Create([]string{a}, "snap-b", nil)
	require.NoError(t, err)
	_, err = m.Create([]string{a}, "snap-a", nil)
	require.NoError(t, err)

	ids, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-a", "snap-b"}, ids)
}
