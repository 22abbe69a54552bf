package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/graph"
	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

const decomposeSystemPrompt = `You are a tech lead breaking a requirements document into
implementation tasks for a small team of coding agents (backend, frontend,
test, review). Respond with a JSON array:
[{"task_number": "1", "title": "...", "description": "...",
  "depends_on": ["task numbers"], "role": "backend|frontend|test|review or omit"}]
Rules: task numbers are unique strings; dependencies reference earlier work
that must land first; the graph must be acyclic; 5 to 25 tasks; every task
small enough for one focused session.`

// decomposedTask is the JSON shape returned by the lead model.
type decomposedTask struct {
	TaskNumber  string   `json:"task_number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
	Role        string   `json:"role"`
}

// Decompose turns the PRD into the project's task breakdown. Allowed once,
// in the planning phase.
func (c *Coordinator) Decompose(ctx context.Context, projectID int64) ([]*models.Task, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Phase != models.PhasePlanning {
		return nil, fmt.Errorf("project is in phase %s: %w", project.Phase, store.ErrConflict)
	}
	existing, err := c.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("project already has a task breakdown: %w", store.ErrAlreadyExists)
	}
	state, err := c.store.GetDiscoveryState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if state.PRDStatus != models.PRDStatusAvailable {
		return nil, fmt.Errorf("requirements document is %s: %w", state.PRDStatus, store.ErrConflict)
	}

	res, err := c.completeCall(ctx, projectID, 0, llm.Request{
		Model:  c.cfg.LLMModel,
		System: decomposeSystemPrompt,
		Prompt: state.PRDContent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decompose requirements: %w", err)
	}

	batch, err := parseDecomposition(res.Text)
	if err != nil {
		return nil, err
	}

	deps := make(map[string][]string, len(batch))
	for _, t := range batch {
		deps[t.TaskNumber] = t.DependsOn
	}
	if err := graph.ValidateAcyclic(deps); err != nil {
		return nil, store.NewValidationError("depends_on", err.Error())
	}

	tasks, err := c.store.CreateTasks(ctx, projectID, batch)
	if err != nil {
		return nil, err
	}
	if err := c.publisher.TasksDecomposed(ctx, projectID, len(tasks)); err != nil {
		slog.Error("Failed to publish decomposition event", "project_id", projectID, "error", err)
	}
	slog.Info("Requirements decomposed", "project_id", projectID, "tasks", len(tasks))
	return tasks, nil
}

// ApproveResult reports the outcome of an approval request.
type ApproveResult struct {
	Session         *models.Session
	AlreadyApproved bool
}

// Approve accepts the task breakdown, excludes the named tasks, moves the
// project to active, and starts the execution session. Approving an already
// active project is idempotent.
func (c *Coordinator) Approve(ctx context.Context, projectID int64, excludedTaskNumbers []string) (*ApproveResult, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.Phase == models.PhaseActive {
		sess, err := c.store.ActiveSession(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return &ApproveResult{Session: sess, AlreadyApproved: true}, nil
	}
	if project.Phase != models.PhasePlanning {
		return nil, fmt.Errorf("project is in phase %s: %w", project.Phase, store.ErrConflict)
	}

	tasks, err := c.store.ListTasks(ctx, projectID, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("nothing to approve, decompose first: %w", store.ErrConflict)
	}

	// The whole exclusion set is validated before the first write; a rejected
	// request leaves every task untouched.
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.TaskNumber] = true
	}
	excluded := make(map[string]bool, len(excludedTaskNumbers))
	var unknown []string
	for _, n := range excludedTaskNumbers {
		if !known[n] {
			unknown = append(unknown, n)
			continue
		}
		excluded[n] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, store.NewValidationError("excluded_task_ids", "unknown task numbers: "+strings.Join(unknown, ", "))
	}
	for _, t := range tasks {
		if !excluded[t.TaskNumber] {
			continue
		}
		// Exclusion is terminal; dependents treat it as satisfied.
		if err := c.store.UpdateTaskStatus(ctx, t.ID, models.TaskStatusPending, models.TaskStatusExcluded, store.TransitionOpts{}); err != nil {
			return nil, fmt.Errorf("failed to exclude task %s: %w", t.TaskNumber, err)
		}
	}

	if err := c.store.UpdateProjectPhase(ctx, projectID, models.PhasePlanning, models.PhaseActive); err != nil {
		return nil, err
	}
	if err := c.publisher.PhaseChanged(ctx, projectID, 0, string(models.PhasePlanning), string(models.PhaseActive)); err != nil {
		slog.Error("Failed to publish phase change", "project_id", projectID, "error", err)
	}

	sess, err := c.startSession(ctx, project)
	if err != nil {
		return nil, err
	}
	return &ApproveResult{Session: sess}, nil
}

// CompleteReview closes the review phase: accept finishes the project,
// reject returns it to active and starts a rework session.
func (c *Coordinator) CompleteReview(ctx context.Context, projectID int64, accept bool) (*models.Project, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Phase != models.PhaseReview {
		return nil, fmt.Errorf("project is in phase %s: %w", project.Phase, store.ErrConflict)
	}

	to := models.PhaseComplete
	if !accept {
		to = models.PhaseActive
	}
	if err := c.store.UpdateProjectPhase(ctx, projectID, models.PhaseReview, to); err != nil {
		return nil, err
	}
	if err := c.publisher.PhaseChanged(ctx, projectID, 0, string(models.PhaseReview), string(to)); err != nil {
		slog.Error("Failed to publish phase change", "project_id", projectID, "error", err)
	}
	if !accept {
		if _, err := c.startSession(ctx, project); err != nil {
			return nil, err
		}
	}
	return c.store.GetProject(ctx, projectID)
}

func parseDecomposition(text string) ([]store.NewTask, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(trimmed), &decomposed); err != nil {
		return nil, fmt.Errorf("failed to parse decomposition: %w", err)
	}

	batch := make([]store.NewTask, 0, len(decomposed))
	for _, d := range decomposed {
		batch = append(batch, store.NewTask{
			TaskNumber:  d.TaskNumber,
			Title:       d.Title,
			Description: d.Description,
			DependsOn:   d.DependsOn,
			Role:        models.Role(d.Role),
		})
	}
	return batch, nil
}
