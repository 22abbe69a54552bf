package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// CreateCheckpointRow persists a checkpoint. (project_id, name) is unique;
// duplicates fail with ErrAlreadyExists.
func (s *Store) CreateCheckpointRow(ctx context.Context, projectID int64, name, description, gitSHA string) (*models.Checkpoint, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	if gitSHA == "" {
		return nil, NewValidationError("git_sha", "required")
	}
	now := nowUTC()
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (project_id, name, description, git_sha, created_at) VALUES (?, ?, ?, ?, ?)`,
			projectID, name, description, gitSHA, formatTime(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("checkpoint %q: %w", name, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{
		ID: id, ProjectID: projectID, Name: name,
		Description: description, GitSHA: gitSHA, CreatedAt: now,
	}, nil
}

// GetCheckpoint returns a checkpoint by id, scoped to the project.
func (s *Store) GetCheckpoint(ctx context.Context, projectID, checkpointID int64) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, git_sha, created_at
		 FROM checkpoints WHERE id = ? AND project_id = ?`, checkpointID, projectID)
	return scanCheckpoint(row)
}

// ListCheckpoints returns the project's checkpoints, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, projectID int64) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, description, git_sha, created_at
		 FROM checkpoints WHERE project_id = ? ORDER BY id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()
	var checkpoints []*models.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

// DeleteCheckpoint removes a checkpoint row.
func (s *Store) DeleteCheckpoint(ctx context.Context, projectID, checkpointID int64) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE id = ? AND project_id = ?`, checkpointID, projectID)
		if err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanCheckpoint(r rowScanner) (*models.Checkpoint, error) {
	var (
		c         models.Checkpoint
		createdAt string
	)
	err := r.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.GitSHA, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
