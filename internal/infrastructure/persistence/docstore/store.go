// Package docstore implements the embedded document store for Klypt Class Hub.
// Documents live in a single SQLite database file on the device, which keeps
// class data fully available offline. The driver is pure Go (modernc.org/sqlite),
// so the hub cross-compiles without cgo.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStoreClosed indicates the store handle is closed.
	ErrStoreClosed = errors.New("docstore: store is closed")

	// ErrMigrationFailed indicates a schema migration failure.
	ErrMigrationFailed = errors.New("docstore: migration failed")

	// ErrTransactionFailed indicates a transaction failure.
	ErrTransactionFailed = errors.New("docstore: transaction failed")

	// ErrNoRows is returned when a query returns no rows.
	ErrNoRows = sql.ErrNoRows
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE HANDLE
// ══════════════════════════════════════════════════════════════════════════════

// Config holds embedded store configuration.
type Config struct {
	// Name is the database instance name. The database file becomes
	// "<Name>.db" under Dir.
	Name string

	// Dir is the directory holding the database file. Created if missing.
	Dir string

	// InMemory opens a throwaway in-memory instance (used in tests).
	InMemory bool

	// BusyTimeout is how long a write waits on a locked database.
	BusyTimeout time.Duration

	// JournalMode is the SQLite journal mode (WAL keeps readers unblocked
	// during writes, which matters for the offline-first read path).
	JournalMode string

	// Synchronous is the fsync policy (NORMAL is safe under WAL).
	Synchronous string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Name:        "klypt",
		Dir:         "data",
		BusyTimeout: 5 * time.Second,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
	}
}

// Path returns the database file path, or ":memory:" for in-memory stores.
func (c Config) Path() string {
	if c.InMemory {
		return ":memory:"
	}
	return filepath.Join(c.Dir, c.Name+".db")
}

// Store is a handle to a named embedded document store instance.
// All repository implementations in this package share one handle;
// callers receive it explicitly through constructors.
type Store struct {
	db     *sql.DB
	config Config
	closed bool
	mu     sync.RWMutex
}

// Open opens (creating if necessary) the named store instance and applies
// the connection pragmas. Schema migrations are a separate step, see Migrator.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultConfig().BusyTimeout
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = DefaultConfig().JournalMode
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = DefaultConfig().Synchronous
	}

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("docstore: failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path())
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection serializes
	// writers in-process instead of surfacing SQLITE_BUSY to callers.
	// An in-memory database additionally lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("docstore: failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: failed to ping database: %w", err)
	}

	return &Store{
		db:     db,
		config: cfg,
		closed: false,
	}, nil
}

// OpenInMemory opens a fresh in-memory instance with migrations applied.
// Test helper; production code goes through Open plus an explicit Migrator.
func OpenInMemory(ctx context.Context) (*Store, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true

	store, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := NewMigrator(store).Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Name returns the store instance name.
func (s *Store) Name() string {
	return s.config.Name
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.config.Path()
}

// Close closes the store handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// IsClosed returns true if the store handle is closed.
func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Ping checks if the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.db.PingContext(ctx)
}

// Health returns detailed health information.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	status := &HealthStatus{
		Name:      s.config.Name,
		Path:      s.config.Path(),
		CheckedAt: time.Now().UTC(),
	}

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}
	status.PingLatency = time.Since(start)

	if !s.config.InMemory {
		if info, err := os.Stat(s.config.Path()); err == nil {
			status.FileSize = info.Size()
		}
	}

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err == nil {
		status.JournalMode = journalMode
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_type, COUNT(*) FROM documents GROUP BY doc_type")
	if err == nil {
		defer rows.Close()
		status.DocumentCounts = make(map[string]int)
		for rows.Next() {
			var docType string
			var count int
			if err := rows.Scan(&docType, &count); err == nil {
				status.DocumentCounts[docType] = count
				status.TotalDocuments += count
			}
		}
	}

	status.Healthy = true
	return status, nil
}

// HealthStatus contains store health information.
type HealthStatus struct {
	Healthy        bool
	Error          string
	Name           string
	Path           string
	CheckedAt      time.Time
	PingLatency    time.Duration
	FileSize       int64 // in bytes
	JournalMode    string
	TotalDocuments int
	DocumentCounts map[string]int
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// WithTx executes a function within a transaction.
// The transaction is committed if the function returns nil, rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	db := s.db
	s.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Querier is an interface that both *sql.DB and *sql.Tx implement.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Exec executes a query that doesn't return rows.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns a single row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.QueryRowContext(ctx, query, args...)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// CompactResult describes the outcome of a Compact run.
type CompactResult struct {
	BytesBefore int64
	BytesAfter  int64
	Duration    time.Duration
}

// Compact checkpoints the WAL and vacuums the database file. Embedded
// stores never shrink on their own; this runs on a slow schedule.
func (s *Store) Compact(ctx context.Context) (*CompactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := &CompactResult{}
	start := time.Now()

	if !s.config.InMemory {
		if info, err := os.Stat(s.config.Path()); err == nil {
			result.BytesBefore = info.Size()
		}
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("docstore: wal checkpoint failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, fmt.Errorf("docstore: vacuum failed: %w", err)
	}

	if !s.config.InMemory {
		if info, err := os.Stat(s.config.Path()); err == nil {
			result.BytesAfter = info.Size()
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
