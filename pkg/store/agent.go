package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// CreateAgent inserts an idle agent of the given role.
func (s *Store) CreateAgent(ctx context.Context, projectID int64, role models.Role) (*models.Agent, error) {
	if !models.RoleValidator(role) {
		return nil, NewValidationError("role", "unknown role "+string(role))
	}
	now := formatTime(nowUTC())
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO agents (project_id, role, status, created_at, last_heartbeat) VALUES (?, ?, ?, ?, ?)`,
			projectID, string(role), string(models.AgentStatusIdle), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(Change{Kind: ChangeAgentStatus, ProjectID: projectID, AgentID: id,
		From: "", To: string(models.AgentStatusIdle)})
	return s.GetAgent(ctx, id)
}

// GetAgent returns the agent by id.
func (s *Store) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, role, status, current_task_id, created_at, last_heartbeat,
		        total_tokens_in, total_tokens_out, total_cost_cents
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns the project's agents, oldest first.
func (s *Store) ListAgents(ctx context.Context, projectID int64) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, role, status, current_task_id, created_at, last_heartbeat,
		        total_tokens_in, total_tokens_out, total_cost_cents
		 FROM agents WHERE project_id = ? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()
	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus performs a guarded status transition and optionally sets
// or clears the current task. Busy requires a task id; idle clears it.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID int64, from, to models.AgentStatus, taskID int64) error {
	if to == models.AgentStatusBusy && taskID == 0 {
		return NewValidationError("current_task_id", "busy agents require a current task")
	}
	var task any
	if to == models.AgentStatusBusy {
		task = taskID
	}

	var projectID int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, current_task_id = ?, last_heartbeat = ? WHERE id = ? AND status = ?`,
			string(to), task, formatTime(nowUTC()), agentID, string(from))
		if err != nil {
			return fmt.Errorf("failed to update agent status: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			row := s.db.QueryRowContext(ctx, `SELECT project_id FROM agents WHERE id = ?`, agentID)
			if err := row.Scan(&projectID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("failed to check agent existence: %w", err)
			}
			return ErrNotApplied
		}
		row := s.db.QueryRowContext(ctx, `SELECT project_id FROM agents WHERE id = ?`, agentID)
		return row.Scan(&projectID)
	})
	if err != nil {
		return err
	}
	s.notify(Change{Kind: ChangeAgentStatus, ProjectID: projectID, AgentID: agentID,
		TaskID: taskID, From: string(from), To: string(to)})
	return nil
}

// TouchAgentHeartbeat updates last_heartbeat for a busy agent.
func (s *Store) TouchAgentHeartbeat(ctx context.Context, agentID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE agents SET last_heartbeat = ? WHERE id = ?`,
			formatTime(nowUTC()), agentID)
		if err != nil {
			return fmt.Errorf("failed to update agent heartbeat: %w", err)
		}
		return nil
	})
}

// AddAgentUsage atomically accumulates token and cost totals onto the agent.
func (s *Store) AddAgentUsage(ctx context.Context, agentID, tokensIn, tokensOut, cents int64) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE agents SET total_tokens_in = total_tokens_in + ?,
			        total_tokens_out = total_tokens_out + ?,
			        total_cost_cents = total_cost_cents + ?
			 WHERE id = ?`,
			tokensIn, tokensOut, cents, agentID)
		if err != nil {
			return fmt.Errorf("failed to update agent usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FindIdleAgent returns the oldest idle agent of the role, or ErrNotFound.
func (s *Store) FindIdleAgent(ctx context.Context, projectID int64, role models.Role) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, role, status, current_task_id, created_at, last_heartbeat,
		        total_tokens_in, total_tokens_out, total_cost_cents
		 FROM agents WHERE project_id = ? AND role = ? AND status = ?
		 ORDER BY id ASC LIMIT 1`,
		projectID, string(role), string(models.AgentStatusIdle))
	return scanAgent(row)
}

func scanAgent(r rowScanner) (*models.Agent, error) {
	var (
		a                   models.Agent
		role, status        string
		taskID              sql.NullInt64
		createdAt, lastBeat string
	)
	err := r.Scan(&a.ID, &a.ProjectID, &role, &status, &taskID, &createdAt, &lastBeat,
		&a.TotalTokensIn, &a.TotalTokensOut, &a.TotalCostCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	a.Role = models.Role(role)
	a.Status = models.AgentStatus(status)
	a.CurrentTaskID = taskID.Int64
	a.CreatedAt = parseTime(createdAt)
	a.LastHeartbeat = parseTime(lastBeat)
	return &a, nil
}
