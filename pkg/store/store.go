// Package store provides single-writer persistence over an embedded SQLite
// database. All mutations pass through the writer lane (a store-level mutex
// plus WAL journaling); readers run concurrently. Guarded updates carry the
// expected from-state so concurrent scheduler decisions serialize on the row.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // register the "sqlite" driver
)

//go:embed migrations
var migrationsFS embed.FS

// changeBuffer bounds the change-notification stream. Overflow drops the
// oldest pending notification; consumers reconcile via queries.
const changeBuffer = 1024

// ChangeKind identifies which entity a change notification refers to.
type ChangeKind string

const (
	ChangeTaskStatus    ChangeKind = "task.status"
	ChangeAgentStatus   ChangeKind = "agent.status"
	ChangeProjectPhase  ChangeKind = "project.phase"
	ChangeSessionStatus ChangeKind = "session.status"
)

// Change is one mutation notification emitted by the store. From/To carry
// the before/after status where applicable.
type Change struct {
	Kind      ChangeKind
	ProjectID int64
	TaskID    int64
	AgentID   int64
	SessionID int64
	From      string
	To        string
}

// Store owns the database handle and the writer lane.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	changes chan Change

	closeOnce sync.Once
}

// Open opens (creating if necessary) the database at path, applies pending
// migrations, and returns a ready Store. Use ":memory:" only in tests that
// hold a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite permits one writer; a single connection avoids SQLITE_BUSY
	// churn and makes the writer lane exact.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:      db,
		changes: make(chan Change, changeBuffer),
	}, nil
}

// Close closes the database and the change stream.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.changes) })
	return s.db.Close()
}

// DB returns the underlying handle for health checks and direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Changes returns the mutation notification stream. The stream is bounded;
// if consumers fall behind, the oldest notification is dropped.
func (s *Store) Changes() <-chan Change {
	return s.changes
}

// notify posts a change without blocking the writer lane. On overflow the
// oldest pending change is discarded.
func (s *Store) notify(c Change) {
	for {
		select {
		case s.changes <- c:
			return
		default:
		}
		select {
		case old := <-s.changes:
			slog.Warn("Change stream overflow, dropping oldest notification",
				"kind", old.Kind, "project_id", old.ProjectID)
		default:
		}
	}
}

// withWrite runs fn inside the writer lane.
func (s *Store) withWrite(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

// withTx runs fn inside a transaction on the writer lane. The transaction is
// rolled back unless fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// runMigrations applies pending migrations from the embedded filesystem.
// Embedding keeps the binary self-contained in deployments.
func runMigrations(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; closing m would also close the shared DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// --- time helpers ---

// timeFormat is the canonical timestamp encoding in every table.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
