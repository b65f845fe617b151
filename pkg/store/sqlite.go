package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// querier is the subset of *sql.DB and *sql.Tx the row operations use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// SQLiteStore is the primary backend. Audit appends serialize behind
// writeMu so the read-head-then-insert chain linkage never races.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
	clock   func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path, applies the
// WAL and busy-timeout pragmas, and runs migrations. The path ":memory:"
// yields a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// An in-memory database exists per connection; the pool must not
		// open a second one.
		db.SetMaxOpenConns(1)
	}

	s := NewSQLite(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an already-open database handle. Migrate must be called
// before use.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) now() time.Time { return s.clock().UTC() }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// q returns the transaction bound to ctx, or the pooled handle.
func (s *SQLiteStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTransaction runs fn in one transaction. Store calls made with the
// ctx handed to fn join it; a nested call reuses the outer transaction.
func (s *SQLiteStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// sqliteMigrations apply in order; schema_migrations records the applied
// versions. The audit triggers reject every UPDATE and DELETE so the
// append-only property holds even against direct SQL access.
var sqliteMigrations = []string{
	// 1: core tables
	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		parameters TEXT,
		result TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		failure_category TEXT NOT NULL DEFAULT '',
		previous_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_events(trace_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);

	CREATE TABLE IF NOT EXISTS policies (
		name TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		agent_id TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_agent ON policies(agent_id);

	CREATE TABLE IF NOT EXISTS policy_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_name TEXT NOT NULL,
		version INTEGER NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policy_versions_name ON policy_versions(policy_name);

	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		policy_name TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		status TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		last_active_at TEXT NOT NULL DEFAULT ''
	);`,

	// 2: append-only enforcement
	`CREATE TRIGGER IF NOT EXISTS audit_events_no_update
	BEFORE UPDATE ON audit_events
	BEGIN
		SELECT RAISE(ABORT, 'audit_events is append-only: updates are rejected');
	END;
	CREATE TRIGGER IF NOT EXISTS audit_events_no_delete
	BEFORE DELETE ON audit_events
	BEGIN
		SELECT RAISE(ABORT, 'audit_events is append-only: deletes are rejected');
	END;`,

	// 3: approvals
	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		parameters TEXT,
		trace_id TEXT NOT NULL,
		policy_name TEXT NOT NULL DEFAULT '',
		rule_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		deadline TEXT NOT NULL,
		approver TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		resolved_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
	CREATE INDEX IF NOT EXISTS idx_approvals_agent ON approvals(agent_id);`,
}

// Migrate applies any unapplied migrations in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("store: migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for i := current; i < len(sqliteMigrations); i++ {
		version := i + 1
		if err := s.WithinTransaction(ctx, func(ctx context.Context) error {
			tx := s.q(ctx)
			if _, err := tx.ExecContext(ctx, sqliteMigrations[i]); err != nil {
				return fmt.Errorf("store: migration %d: %w", version, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				version, FormatTime(s.now()))
			return err
		}); err != nil {
			return err
		}
		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

// SchemaVersion reports the highest applied migration, zero on a fresh
// database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("store: schema version: %w", err)
	}
	return int(version.Int64), nil
}
