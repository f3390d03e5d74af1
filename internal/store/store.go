// Package store is the durable state store: versioned, lock-protected
// documents with atomic optimistic-concurrency updates, a bounded
// backup ring, the per-batch change log, and per-identity sequence
// state for the external resource coordinator.
//
// All writes go through SQLite transactions. A reader never observes a
// partially written document: the conditional UPDATE inside an
// immediate transaction is the commit point, and a crash before it
// leaves the prior committed version intact.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/keel/internal/clock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE constraint on backups(document_id, version)
const currentSchemaVersion = 1

// DefaultBackupGenerations is the backup ring size per document.
const DefaultBackupGenerations = 5

// DefaultLockTTL bounds how long an unreleased lock can block others.
// A crashed holder's lock becomes reclaimable once the TTL elapses.
const DefaultLockTTL = 30 * time.Second

// Store provides durable storage for keel state.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db                *sql.DB
	clock             clock.Clock
	backupGenerations int
	lockTTL           time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock. Tests use testutil.ManualClock so lock
// expiry and backoff run without wall-clock delays.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithBackupGenerations sets the backup ring size per document.
func WithBackupGenerations(n int) Option {
	return func(s *Store) { s.backupGenerations = n }
}

// WithLockTTL sets the lock expiry duration handed to new locks.
func WithLockTTL(d time.Duration) Option {
	return func(s *Store) { s.lockTTL = d }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - BEGIN IMMEDIATE transactions (write lock taken up front)
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	// Every transaction opens immediate, so the read-check-write
	// sequences in Update and Acquire hold the write lock from their
	// first statement, across processes as well as connections.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:                db,
		clock:             clock.Real{},
		backupGenerations: DefaultBackupGenerations,
		lockTTL:           DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backupGenerations < 1 {
		db.Close()
		return nil, fmt.Errorf("backup generations must be >= 1, got %d", s.backupGenerations)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		// CREATE UNIQUE INDEX IF NOT EXISTS is safe - no-op if index exists
		if _, err := db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_backups_document_version_unique
			ON backups(document_id, version)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// nowMillis returns the injected clock's time as unix milliseconds,
// the timestamp unit used throughout the schema.
func (s *Store) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

// begin starts a transaction. The connection string requests BEGIN
// IMMEDIATE, so the write lock is taken up front and the
// read-check-write sequence in Update stays atomic.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
