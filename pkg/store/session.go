package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// CreateSession inserts an active session for the project. At most one
// active session per project is permitted; a second insert fails with
// ErrConflict (enforced by a partial unique index).
func (s *Store) CreateSession(ctx context.Context, projectID int64) (*models.Session, error) {
	now := formatTime(nowUTC())
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (project_id, started_at, status) VALUES (?, ?, ?)`,
			projectID, now, string(models.SessionStatusActive))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("project %d already has an active session: %w", projectID, ErrConflict)
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(Change{Kind: ChangeSessionStatus, ProjectID: projectID, SessionID: id,
		From: "", To: string(models.SessionStatusActive)})
	return s.GetSession(ctx, id)
}

// GetSession returns the session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, started_at, ended_at, status, last_iteration, watchdog_count, failure_reason
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ActiveSession returns the project's active or paused session, or ErrNotFound.
func (s *Store) ActiveSession(ctx context.Context, projectID int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, started_at, ended_at, status, last_iteration, watchdog_count, failure_reason
		 FROM sessions WHERE project_id = ? AND status IN (?, ?)
		 ORDER BY id DESC LIMIT 1`,
		projectID, string(models.SessionStatusActive), string(models.SessionStatusPaused))
	return scanSession(row)
}

// UpdateSessionStatus performs a guarded session status transition. Terminal
// statuses also record ended_at; failures record the reason.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID int64, from, to models.SessionStatus, reason string) error {
	set := `status = ?`
	args := []any{string(to)}
	if to.IsTerminal() {
		set += `, ended_at = ?`
		args = append(args, formatTime(nowUTC()))
	}
	if reason != "" {
		set += `, failure_reason = ?`
		args = append(args, reason)
	}
	args = append(args, sessionID, string(from))

	var projectID int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET `+set+` WHERE id = ? AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			row := s.db.QueryRowContext(ctx, `SELECT project_id FROM sessions WHERE id = ?`, sessionID)
			if err := row.Scan(&projectID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("failed to check session existence: %w", err)
			}
			return ErrNotApplied
		}
		row := s.db.QueryRowContext(ctx, `SELECT project_id FROM sessions WHERE id = ?`, sessionID)
		return row.Scan(&projectID)
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeSessionStatus, ProjectID: projectID, SessionID: sessionID,
		From: string(from), To: string(to)})
	return nil
}

// TouchSessionIteration records coordination-loop progress: the iteration
// counter always advances, the watchdog counter is bumped on zero-progress
// iterations and reset otherwise.
func (s *Store) TouchSessionIteration(ctx context.Context, sessionID int64, progressed bool) (watchdog int64, err error) {
	err = s.withWrite(func() error {
		var q string
		if progressed {
			q = `UPDATE sessions SET last_iteration = last_iteration + 1, watchdog_count = 0 WHERE id = ?`
		} else {
			q = `UPDATE sessions SET last_iteration = last_iteration + 1, watchdog_count = watchdog_count + 1 WHERE id = ?`
		}
		if _, err := s.db.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("failed to touch session iteration: %w", err)
		}
		row := s.db.QueryRowContext(ctx, `SELECT watchdog_count FROM sessions WHERE id = ?`, sessionID)
		return row.Scan(&watchdog)
	})
	return watchdog, err
}

func scanSession(r rowScanner) (*models.Session, error) {
	var (
		sess      models.Session
		status    string
		startedAt string
		endedAt   sql.NullString
	)
	err := r.Scan(&sess.ID, &sess.ProjectID, &startedAt, &endedAt, &status,
		&sess.LastIteration, &sess.WatchdogCount, &sess.FailureReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = parseNullTime(endedAt)
	return &sess, nil
}
