package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// CreateProjectInput carries the validated fields for a new project.
type CreateProjectInput struct {
	Name           string
	Description    string
	SourceType     models.SourceType
	SourceLocation string
	SourceBranch   string
	WorkspacePath  string
}

// CreateProject inserts a project in phase discovery together with its
// discovery-state row.
func (s *Store) CreateProject(ctx context.Context, in CreateProjectInput) (*models.Project, error) {
	if in.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if !models.SourceTypeValidator(in.SourceType) {
		return nil, NewValidationError("source_type", "must be git_remote, local_path, upload, or empty")
	}
	if in.SourceType != models.SourceTypeEmpty && in.SourceLocation == "" {
		return nil, NewValidationError("source_location", "required when source_type is not empty")
	}
	if in.WorkspacePath == "" {
		return nil, NewValidationError("workspace_path", "required")
	}

	now := nowUTC()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects (name, description, source_type, source_location, source_branch, workspace_path, phase, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.Name, in.Description, string(in.SourceType),
			nullString(in.SourceLocation), nullString(in.SourceBranch),
			in.WorkspacePath, string(models.PhaseDiscovery), formatTime(now), formatTime(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("workspace_path %q: %w", in.WorkspacePath, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert project: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read project id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO discovery_states (project_id, state, prd_status, updated_at) VALUES (?, ?, ?, ?)`,
			id, string(models.DiscoveryNotStarted), string(models.PRDStatusNone), formatTime(now)); err != nil {
			return fmt.Errorf("failed to insert discovery state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

// GetProject returns the project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, source_type, source_location, source_branch,
		        workspace_path, git_initialized, current_commit, phase, created_at, updated_at
		 FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, source_type, source_location, source_branch,
		        workspace_path, git_initialized, current_commit, phase, created_at, updated_at
		 FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectPhase performs a guarded phase transition. The row is updated
// only if its current phase equals from and the phase machine permits
// from → to. Emits a project.phase change notification on success.
func (s *Store) UpdateProjectPhase(ctx context.Context, id int64, from, to models.Phase) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("phase transition %s -> %s: %w", from, to, ErrConflict)
	}
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE projects SET phase = ?, updated_at = ? WHERE id = ? AND phase = ?`,
			string(to), formatTime(nowUTC()), id, string(from))
		if err != nil {
			return fmt.Errorf("failed to update project phase: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			if _, err := s.GetProject(ctx, id); err != nil {
				return err
			}
			return ErrNotApplied
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeProjectPhase, ProjectID: id, From: string(from), To: string(to)})
	return nil
}

// SetProjectGit records workspace git state (initialized flag and HEAD commit).
func (s *Store) SetProjectGit(ctx context.Context, id int64, initialized bool, commit string) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE projects SET git_initialized = ?, current_commit = ?, updated_at = ? WHERE id = ?`,
			boolInt(initialized), nullString(commit), formatTime(nowUTC()), id)
		if err != nil {
			return fmt.Errorf("failed to update project git state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteProject removes the project and all dependent rows (cascade).
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*models.Project, error) {
	var (
		p                    models.Project
		sourceType, phase    string
		loc, branch, commit  sql.NullString
		gitInit              int
		createdAt, updatedAt string
	)
	err := r.Scan(&p.ID, &p.Name, &p.Description, &sourceType, &loc, &branch,
		&p.WorkspacePath, &gitInit, &commit, &phase, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.SourceType = models.SourceType(sourceType)
	p.SourceLocation = loc.String
	p.SourceBranch = branch.String
	p.GitInitialized = gitInit != 0
	p.CurrentCommit = commit.String
	p.Phase = models.Phase(phase)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects SQLite unique-constraint failures by message;
// the modernc driver does not export a typed error for them.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
