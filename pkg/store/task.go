package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// NewTask is one decomposed task to insert. DependsOn references sibling
// tasks by task_number; the batch is validated for cycles before it reaches
// the store.
type NewTask struct {
	TaskNumber  string
	Title       string
	Description string
	DependsOn   []string
	Role        models.Role // optional explicit role hint
}

// CreateTasks inserts a whole decomposition atomically. No rows are visible
// if any insert or dependency reference fails.
func (s *Store) CreateTasks(ctx context.Context, projectID int64, batch []NewTask) ([]*models.Task, error) {
	if len(batch) == 0 {
		return nil, NewValidationError("tasks", "decomposition is empty")
	}

	now := formatTime(nowUTC())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		idByNumber := make(map[string]int64, len(batch))
		for _, t := range batch {
			if t.TaskNumber == "" || t.Title == "" {
				return NewValidationError("task_number", "task_number and title are required")
			}
			var role any
			if t.Role != "" {
				if !models.RoleValidator(t.Role) {
					return NewValidationError("assigned_role", "unknown role "+string(t.Role))
				}
				role = string(t.Role)
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (project_id, task_number, title, description, status, assigned_role, max_attempts, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				projectID, t.TaskNumber, t.Title, t.Description,
				string(models.TaskStatusPending), role, models.DefaultMaxAttempts, now, now)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("task_number %q: %w", t.TaskNumber, ErrAlreadyExists)
				}
				return fmt.Errorf("failed to insert task %s: %w", t.TaskNumber, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read task id: %w", err)
			}
			idByNumber[t.TaskNumber] = id
		}
		for _, t := range batch {
			for _, dep := range t.DependsOn {
				depID, ok := idByNumber[dep]
				if !ok {
					return NewValidationError("depends_on", fmt.Sprintf("task %s depends on unknown task %s", t.TaskNumber, dep))
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`,
					idByNumber[t.TaskNumber], depID); err != nil {
					return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.TaskNumber, dep, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListTasks(ctx, projectID, TaskFilter{})
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Statuses []models.TaskStatus
}

// ListTasks returns the project's tasks ordered by task_number (numeric),
// then id, with dependencies populated.
func (s *Store) ListTasks(ctx context.Context, projectID int64, f TaskFilter) ([]*models.Task, error) {
	query := `SELECT id, project_id, task_number, title, description, status, assigned_role,
	                 assigned_agent_id, attempt_count, max_attempts, quality_gate_status,
	                 artifacts, created_at, updated_at
	          FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(f.Statuses)-1) + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY CAST(task_number AS INTEGER) ASC, task_number ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	byID := make(map[int64]*models.Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadDependencies(ctx, projectID, byID); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask returns a single task with dependencies populated.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, task_number, title, description, status, assigned_role,
		        assigned_agent_id, attempt_count, max_attempts, quality_gate_status,
		        artifacts, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	deps, err := s.db.QueryContext(ctx,
		`SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task dependencies: %w", err)
	}
	defer deps.Close()
	for deps.Next() {
		var depID int64
		if err := deps.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		t.DependsOn = append(t.DependsOn, depID)
	}
	return t, deps.Err()
}

// TransitionOpts are the optional field updates applied together with a
// guarded status transition.
type TransitionOpts struct {
	SetAgentID   *int64 // 0 clears the assignment
	BumpAttempt  bool
	GateStatus   models.GateStatus
	SetArtifacts []string
	ClearAgent   bool
	AssignedRole models.Role
}

// UpdateTaskStatus performs the guarded transition from → to. The row is
// updated only if its current status equals from; otherwise ErrNotApplied.
// Emits a task.status change notification on success.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, from, to models.TaskStatus, opts TransitionOpts) error {
	if !models.TaskStatusValidator(to) {
		return NewValidationError("status", "unknown status "+string(to))
	}

	set := `status = ?, updated_at = ?`
	args := []any{string(to), formatTime(nowUTC())}
	if opts.SetAgentID != nil {
		set += `, assigned_agent_id = ?`
		if *opts.SetAgentID == 0 {
			args = append(args, nil)
		} else {
			args = append(args, *opts.SetAgentID)
		}
	}
	if opts.ClearAgent {
		set += `, assigned_agent_id = NULL`
	}
	if opts.BumpAttempt {
		set += `, attempt_count = attempt_count + 1`
	}
	if opts.GateStatus != "" {
		set += `, quality_gate_status = ?`
		args = append(args, string(opts.GateStatus))
	}
	if opts.SetArtifacts != nil {
		raw, err := json.Marshal(opts.SetArtifacts)
		if err != nil {
			return fmt.Errorf("failed to marshal artifacts: %w", err)
		}
		set += `, artifacts = ?`
		args = append(args, string(raw))
	}
	if opts.AssignedRole != "" {
		set += `, assigned_role = ?`
		args = append(args, string(opts.AssignedRole))
	}
	args = append(args, taskID, string(from))

	var projectID int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET `+set+` WHERE id = ? AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			row := s.db.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID)
			if err := row.Scan(&projectID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("failed to check task existence: %w", err)
			}
			return ErrNotApplied
		}
		row := s.db.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID)
		return row.Scan(&projectID)
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeTaskStatus, ProjectID: projectID, TaskID: taskID, From: string(from), To: string(to)})
	return nil
}

// ClaimReadyTask atomically claims the oldest ready task of the project for
// the given agent: status becomes in_progress, the agent is assigned, and
// the attempt counter is bumped. Returns ErrNoReadyTasks when nothing is
// claimable. Concurrent callers never receive the same task.
func (s *Store) ClaimReadyTask(ctx context.Context, projectID, agentID int64) (*models.Task, error) {
	var claimedID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM tasks WHERE project_id = ? AND status = ?
			 ORDER BY CAST(task_number AS INTEGER) ASC, task_number ASC, id ASC LIMIT 1`,
			projectID, string(models.TaskStatusReady))
		if err := row.Scan(&claimedID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoReadyTasks
			}
			return fmt.Errorf("failed to select ready task: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, assigned_agent_id = ?, attempt_count = attempt_count + 1, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(models.TaskStatusInProgress), agentID, formatTime(nowUTC()),
			claimedID, string(models.TaskStatusReady))
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoReadyTasks
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(Change{Kind: ChangeTaskStatus, ProjectID: projectID, TaskID: claimedID,
		From: string(models.TaskStatusReady), To: string(models.TaskStatusInProgress)})
	return s.GetTask(ctx, claimedID)
}

// AddTaskComment attaches an operator note (e.g. unblock guidance) to a task.
func (s *Store) AddTaskComment(ctx context.Context, taskID int64, author, body string) (*models.TaskComment, error) {
	if body == "" {
		return nil, NewValidationError("body", "required")
	}
	now := nowUTC()
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO task_comments (task_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
			taskID, author, body, formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert task comment: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.TaskComment{ID: id, TaskID: taskID, Author: author, Body: body, CreatedAt: now}, nil
}

// ListTaskComments returns a task's comments oldest-first.
func (s *Store) ListTaskComments(ctx context.Context, taskID int64) ([]*models.TaskComment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, author, body, created_at FROM task_comments WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task comments: %w", err)
	}
	defer rows.Close()
	var comments []*models.TaskComment
	for rows.Next() {
		var (
			c         models.TaskComment
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// loadDependencies fills DependsOn for every task in byID.
func (s *Store) loadDependencies(ctx context.Context, projectID int64, byID map[int64]*models.Task) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT td.task_id, td.depends_on_id
		 FROM task_dependencies td JOIN tasks t ON t.id = td.task_id
		 WHERE t.project_id = ? ORDER BY td.task_id, td.depends_on_id`, projectID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, depID int64
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.DependsOn = append(t.DependsOn, depID)
		}
	}
	return rows.Err()
}

func scanTask(r rowScanner) (*models.Task, error) {
	var (
		t                    models.Task
		status, gate         string
		role                 sql.NullString
		agentID              sql.NullInt64
		artifacts            string
		createdAt, updatedAt string
	)
	err := r.Scan(&t.ID, &t.ProjectID, &t.TaskNumber, &t.Title, &t.Description,
		&status, &role, &agentID, &t.AttemptCount, &t.MaxAttempts, &gate,
		&artifacts, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	t.QualityGateStatus = models.GateStatus(gate)
	t.AssignedRole = models.Role(role.String)
	t.AssignedAgentID = agentID.Int64
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &t.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode artifacts: %w", err)
		}
	}
	return &t, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
