package store

import (
	"context"
	"fmt"
	"time"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// RecordCost persists one billed completion. Agent totals are accumulated
// separately via AddAgentUsage so the two stay atomic per call site.
func (s *Store) RecordCost(ctx context.Context, rec models.CostRecord) (*models.CostRecord, error) {
	if rec.Model == "" {
		return nil, NewValidationError("model", "required")
	}
	now := nowUTC()
	var agent, task any
	if rec.AgentID != 0 {
		agent = rec.AgentID
	}
	if rec.TaskID != 0 {
		task = rec.TaskID
	}
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO cost_records (project_id, agent_id, task_id, model, tokens_in, tokens_out, cents, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ProjectID, agent, task, rec.Model, rec.TokensIn, rec.TokensOut, rec.Cents, formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert cost record: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.TS = now
	return &rec, nil
}

// MetricsBucket is one point on the cost trend (per UTC day).
type MetricsBucket struct {
	Day   string `json:"day"`
	Cents int64  `json:"cents"`
}

// ProjectMetrics aggregates cost and token usage for a project.
type ProjectMetrics struct {
	CostTotalCents int64            `json:"cost_total_cents"`
	TokensIn       int64            `json:"tokens_in"`
	TokensOut      int64            `json:"tokens_out"`
	ByAgent        map[int64]int64  `json:"by_agent"`
	ByModel        map[string]int64 `json:"by_model"`
	Trend          []MetricsBucket  `json:"trend"`
}

// GetProjectMetrics aggregates cost records since the given time (zero time
// means all history).
func (s *Store) GetProjectMetrics(ctx context.Context, projectID int64, since time.Time) (*ProjectMetrics, error) {
	m := &ProjectMetrics{
		ByAgent: make(map[int64]int64),
		ByModel: make(map[string]int64),
	}

	query := `SELECT COALESCE(agent_id, 0), model, tokens_in, tokens_out, cents, ts
	          FROM cost_records WHERE project_id = ?`
	args := []any{projectID}
	if !since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	trend := make(map[string]int64)
	var days []string
	for rows.Next() {
		var (
			agentID              int64
			model                string
			tokIn, tokOut, cents int64
			ts                   string
		)
		if err := rows.Scan(&agentID, &model, &tokIn, &tokOut, &cents, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		m.CostTotalCents += cents
		m.TokensIn += tokIn
		m.TokensOut += tokOut
		if agentID != 0 {
			m.ByAgent[agentID] += cents
		}
		m.ByModel[model] += cents
		day := parseTime(ts).Format("2006-01-02")
		if _, seen := trend[day]; !seen {
			days = append(days, day)
		}
		trend[day] += cents
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, day := range days {
		m.Trend = append(m.Trend, MetricsBucket{Day: day, Cents: trend[day]})
	}
	return m, nil
}
