package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// AppendEvent writes one append-only audit/telemetry record and returns it
// with the assigned id.
func (s *Store) AppendEvent(ctx context.Context, projectID, sessionID int64, kind string, payload json.RawMessage) (*models.Event, error) {
	if kind == "" {
		return nil, NewValidationError("kind", "required")
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	now := nowUTC()
	var sess any
	if sessionID != 0 {
		sess = sessionID
	}
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events (project_id, session_id, ts, kind, payload) VALUES (?, ?, ?, ?, ?)`,
			projectID, sess, formatTime(now), kind, string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.Event{
		ID: id, ProjectID: projectID, SessionID: sessionID,
		TS: now, Kind: kind, Payload: payload,
	}, nil
}

// ListEvents returns up to limit events with id > sinceID, oldest first.
// Operator/debug surface; clients reconcile via entity queries, not replay.
func (s *Store) ListEvents(ctx context.Context, projectID, sinceID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, session_id, ts, kind, payload
		 FROM events WHERE project_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		projectID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	var events []*models.Event
	for rows.Next() {
		var (
			e       models.Event
			sess    sql.NullInt64
			ts      string
			payload string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &sess, &ts, &e.Kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.SessionID = sess.Int64
		e.TS = parseTime(ts)
		e.Payload = json.RawMessage(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// PruneEvents deletes events older than beforeID. Retention is an operator
// concern; nothing in the serving path reads pruned history.
func (s *Store) PruneEvents(ctx context.Context, projectID, beforeID int64) (int64, error) {
	var n int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE project_id = ? AND id < ?`, projectID, beforeID)
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
