// Package snapshot is the fast, content-addressed capture/restore
// mechanism for arbitrary file resources.
//
// Snapshots are intentionally distinct from the versioned document
// store: they are a cheap point-in-time copy for rapid local rollback,
// including resources outside the document namespace. A snapshot is
// immutable once created, and restoring one is idempotent.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/keel/internal/canonical"
	"github.com/roach88/keel/internal/clock"
)

// Snapshot is an immutable manifest of captured resources.
// Entries map absolute resource paths to domain-separated content
// hashes; the copies live next to the manifest, keyed by hash.
type Snapshot struct {
	ID        string            `json:"id"`
	Entries   map[string]string `json:"entries"`
	Skipped   []string          `json:"skipped,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Manager stores snapshots under a root directory:
//
//	<root>/<snapshot-id>/manifest.json
//	<root>/<snapshot-id>/objects/<content-hash>
type Manager struct {
	root  string
	clock clock.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock for manifest timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a snapshot manager rooted at dir, creating the
// directory if needed.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot root: %w", err)
	}
	m := &Manager{root: dir, clock: clock.Real{}}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create captures the listed resources under snapshotID.
//
// Resources that do not currently exist are skipped (and recorded as
// skipped) without failing the whole snapshot - a batch may snapshot
// files some of its operations will create. Each existing resource is
// hashed and copied before the manifest is written; the manifest write
// is last, so a crash mid-create leaves no snapshot visible.
func (m *Manager) Create(resources []string, snapshotID string, metadata map[string]string) (*Snapshot, error) {
	dir := filepath.Join(m.root, snapshotID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("create snapshot %q: %w", snapshotID, ErrExists)
	}

	objects := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objects, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot %q: %w", snapshotID, err)
	}

	snap := &Snapshot{
		ID:        snapshotID,
		Entries:   make(map[string]string, len(resources)),
		CreatedAt: m.clock.Now().UTC(),
		Metadata:  metadata,
	}

	for _, resource := range resources {
		content, err := os.ReadFile(resource)
		if errors.Is(err, fs.ErrNotExist) {
			snap.Skipped = append(snap.Skipped, resource)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create snapshot %q: read %q: %w", snapshotID, resource, err)
		}

		hash := canonical.HashBytes(canonical.DomainSnapshot, content)
		object := filepath.Join(objects, hash)
		if _, err := os.Stat(object); errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(object, content, 0o644); err != nil {
				return nil, fmt.Errorf("create snapshot %q: store %q: %w", snapshotID, resource, err)
			}
		}
		snap.Entries[resource] = hash
	}
	sort.Strings(snap.Skipped)

	manifest, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("create snapshot %q: marshal manifest: %w", snapshotID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("create snapshot %q: write manifest: %w", snapshotID, err)
	}

	return snap, nil
}

// Load reads a snapshot manifest.
func (m *Manager) Load(snapshotID string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.root, snapshotID, "manifest.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot %q: %w", snapshotID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", snapshotID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("load snapshot %q: parse manifest: %w", snapshotID, err)
	}
	return &snap, nil
}

// Restore overwrites live resources with the snapshot's copies.
//
// All-or-nothing at the snapshot level: with verifyHash true, every
// stored copy is re-hashed against the manifest before any live
// resource is touched, and a single mismatch aborts the whole restore
// with IntegrityError. Restore is idempotent - applying it twice
// yields the same resource state as applying it once.
func (m *Manager) Restore(snapshotID string, verifyHash bool) error {
	snap, err := m.Load(snapshotID)
	if err != nil {
		return err
	}

	objects := filepath.Join(m.root, snapshotID, "objects")

	// Deterministic restore order.
	paths := make([]string, 0, len(snap.Entries))
	for p := range snap.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Verification phase: nothing live is modified until every stored
	// copy checks out.
	contents := make(map[string][]byte, len(paths))
	for _, p := range paths {
		wantHash := snap.Entries[p]
		content, err := os.ReadFile(filepath.Join(objects, wantHash))
		if err != nil {
			return fmt.Errorf("restore snapshot %q: read copy for %q: %w", snapshotID, p, err)
		}
		if verifyHash {
			got := canonical.HashBytes(canonical.DomainSnapshot, content)
			if got != wantHash {
				return &IntegrityError{SnapshotID: snapshotID, Resource: p, WantHash: wantHash, GotHash: got}
			}
		}
		contents[p] = content
	}

	// Write phase. Per-file atomicity via temp file + rename.
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("restore snapshot %q: mkdir for %q: %w", snapshotID, p, err)
		}
		tmp := p + ".keel-restore"
		if err := os.WriteFile(tmp, contents[p], 0o644); err != nil {
			return fmt.Errorf("restore snapshot %q: stage %q: %w", snapshotID, p, err)
		}
		if err := os.Rename(tmp, p); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("restore snapshot %q: swap %q: %w", snapshotID, p, err)
		}
	}

	return nil
}

// Delete releases a snapshot's storage. Resources already restored
// from it are unaffected. Deleting a missing snapshot returns
// ErrNotFound.
func (m *Manager) Delete(snapshotID string) error {
	dir := filepath.Join(m.root, snapshotID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot %q: %w", snapshotID, ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", snapshotID, err)
	}
	return nil
}

// List returns the IDs of all stored snapshots, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
