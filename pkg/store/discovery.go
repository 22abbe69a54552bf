package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// GetDiscoveryState returns the project's discovery record.
func (s *Store) GetDiscoveryState(ctx context.Context, projectID int64) (*models.DiscoveryState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, state, prd_status, prd_content, updated_at
		 FROM discovery_states WHERE project_id = ?`, projectID)
	var (
		d         models.DiscoveryState
		state     string
		prdStatus string
		prd       sql.NullString
		updatedAt string
	)
	if err := row.Scan(&d.ProjectID, &state, &prdStatus, &prd, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan discovery state: %w", err)
	}
	d.State = models.DiscoveryStatus(state)
	d.PRDStatus = models.PRDStatus(prdStatus)
	d.PRDContent = prd.String
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// SetDiscoveryState updates the Q&A loop state.
func (s *Store) SetDiscoveryState(ctx context.Context, projectID int64, state models.DiscoveryStatus) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE discovery_states SET state = ?, updated_at = ? WHERE project_id = ?`,
			string(state), formatTime(nowUTC()), projectID)
		if err != nil {
			return fmt.Errorf("failed to update discovery state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetPRD records PRD generation progress. Content is only written when
// status is available.
func (s *Store) SetPRD(ctx context.Context, projectID int64, status models.PRDStatus, content string) error {
	return s.withWrite(func() error {
		var res sql.Result
		var err error
		if status == models.PRDStatusAvailable {
			res, err = s.db.ExecContext(ctx,
				`UPDATE discovery_states SET prd_status = ?, prd_content = ?, updated_at = ? WHERE project_id = ?`,
				string(status), content, formatTime(nowUTC()), projectID)
		} else {
			res, err = s.db.ExecContext(ctx,
				`UPDATE discovery_states SET prd_status = ?, updated_at = ? WHERE project_id = ?`,
				string(status), formatTime(nowUTC()), projectID)
		}
		if err != nil {
			return fmt.Errorf("failed to update prd status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AddQuestion appends a discovery question. At most one unanswered question
// may exist per project; a second insert fails with ErrConflict.
func (s *Store) AddQuestion(ctx context.Context, projectID int64, text string) (*models.DiscoveryQuestion, error) {
	if text == "" {
		return nil, NewValidationError("text", "required")
	}
	now := nowUTC()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var pending int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM discovery_questions WHERE project_id = ? AND answer IS NULL`, projectID)
		if err := row.Scan(&pending); err != nil {
			return fmt.Errorf("failed to count pending questions: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("a question is already pending: %w", ErrConflict)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO discovery_questions (project_id, text, asked_at) VALUES (?, ?, ?)`,
			projectID, text, formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.DiscoveryQuestion{ID: id, ProjectID: projectID, Text: text, AskedAt: now}, nil
}

// AnswerQuestion records the answer to the pending question. Returns
// ErrNoPendingQuestion when nothing is outstanding.
func (s *Store) AnswerQuestion(ctx context.Context, projectID int64, answer string) (*models.DiscoveryQuestion, error) {
	if answer == "" {
		return nil, NewValidationError("text", "required")
	}
	now := nowUTC()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM discovery_questions WHERE project_id = ? AND answer IS NULL
			 ORDER BY id ASC LIMIT 1`, projectID)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoPendingQuestion
			}
			return fmt.Errorf("failed to select pending question: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE discovery_questions SET answer = ?, answered_at = ? WHERE id = ?`,
			answer, formatTime(now), id); err != nil {
			return fmt.Errorf("failed to answer question: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.getQuestion(ctx, id)
}

// PendingQuestion returns the unanswered question, or ErrNotFound.
func (s *Store) PendingQuestion(ctx context.Context, projectID int64) (*models.DiscoveryQuestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM discovery_questions WHERE project_id = ? AND answer IS NULL
		 ORDER BY id ASC LIMIT 1`, projectID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to select pending question: %w", err)
	}
	return s.getQuestion(ctx, id)
}

// ListQuestions returns the project's questions in ask order.
func (s *Store) ListQuestions(ctx context.Context, projectID int64) ([]*models.DiscoveryQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, text, answer, asked_at, answered_at
		 FROM discovery_questions WHERE project_id = ? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()
	var questions []*models.DiscoveryQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) getQuestion(ctx context.Context, id int64) (*models.DiscoveryQuestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, text, answer, asked_at, answered_at
		 FROM discovery_questions WHERE id = ?`, id)
	return scanQuestion(row)
}

func scanQuestion(r rowScanner) (*models.DiscoveryQuestion, error) {
	var (
		q          models.DiscoveryQuestion
		answer     sql.NullString
		askedAt    string
		answeredAt sql.NullString
	)
	if err := r.Scan(&q.ID, &q.ProjectID, &q.Text, &answer, &askedAt, &answeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan question: %w", err)
	}
	q.Answer = answer.String
	q.AskedAt = parseTime(askedAt)
	q.AnsweredAt = parseNullTime(answeredAt)
	return &q, nil
}
