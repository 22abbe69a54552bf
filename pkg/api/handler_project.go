package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeframe-dev/codeframe/pkg/coordinator"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	SourceType     string `json:"source_type"`
	SourceLocation string `json:"source_location,omitempty"`
	SourceBranch   string `json:"source_branch,omitempty"`
}

func (s *Server) createProjectHandler(c *echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	project, err := s.coord.CreateProject(c.Request().Context(), coordinator.CreateProjectInput{
		Name:           req.Name,
		Description:    req.Description,
		SourceType:     models.SourceType(req.SourceType),
		SourceLocation: req.SourceLocation,
		SourceBranch:   req.SourceBranch,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) listProjectsHandler(c *echo.Context) error {
	projects, err := s.store.ListProjects(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) getProjectHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	project, getErr := s.store.GetProject(c.Request().Context(), id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	return c.JSON(http.StatusOK, project)
}

func (s *Server) deleteProjectHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if delErr := s.coord.DeleteProject(c.Request().Context(), id); delErr != nil {
		return mapServiceError(delErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

// DiscoveryProgressResponse is the aggregate state the UI polls during the
// discovery and planning phases.
type DiscoveryProgressResponse struct {
	Phase     models.Phase      `json:"phase"`
	Discovery DiscoveryProgress `json:"discovery"`
	PRD       PRDProgress       `json:"prd"`
	Approved  bool              `json:"approved"`
}

type DiscoveryProgress struct {
	State           models.DiscoveryStatus    `json:"state"`
	CurrentQuestion *models.DiscoveryQuestion `json:"current_question,omitempty"`
}

type PRDProgress struct {
	Status  models.PRDStatus `json:"status"`
	Content string           `json:"content,omitempty"`
}

func (s *Server) discoveryProgressHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	project, getErr := s.store.GetProject(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	state, getErr := s.store.GetDiscoveryState(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}

	resp := DiscoveryProgressResponse{
		Phase:     project.Phase,
		Discovery: DiscoveryProgress{State: state.State},
		PRD:       PRDProgress{Status: state.PRDStatus, Content: state.PRDContent},
		Approved:  project.Phase != models.PhaseDiscovery && project.Phase != models.PhasePlanning,
	}
	if q, qErr := s.store.PendingQuestion(ctx, id); qErr == nil {
		resp.Discovery.CurrentQuestion = q
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) discoveryStartHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	q, startErr := s.coord.StartDiscovery(c.Request().Context(), id)
	if startErr != nil {
		return mapServiceError(startErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"question": q})
}

// AnswerRequest is the body of POST .../discovery/answer.
type AnswerRequest struct {
	Text string `json:"text"`
}

func (s *Server) discoveryAnswerHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req AnswerRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "text field is required")
	}

	q, ansErr := s.coord.AnswerQuestion(c.Request().Context(), id, req.Text)
	if ansErr != nil {
		return mapServiceError(ansErr)
	}
	if q == nil {
		return c.JSON(http.StatusOK, map[string]any{"complete": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"question": q})
}

func (s *Server) generateTasksHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	// Preflight the phase and PRD synchronously so the caller gets the
	// conflict instead of a silent background failure.
	ctx := c.Request().Context()
	project, getErr := s.store.GetProject(ctx, id)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	if project.Phase != models.PhasePlanning {
		return echo.NewHTTPError(http.StatusConflict, "project is not in the planning phase")
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.coord.Decompose(bg, id); err != nil {
			slog.Error("Background decomposition failed", "project_id", id, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]any{"status": "generating"})
}

// TaskListResponse is the body of GET .../tasks.
type TaskListResponse struct {
	Tasks  []*models.Task    `json:"tasks"`
	Total  int               `json:"total"`
	Counts models.TaskCounts `json:"counts"`
}

func (s *Server) listTasksHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if _, getErr := s.store.GetProject(c.Request().Context(), id); getErr != nil {
		return mapServiceError(getErr)
	}

	filter := store.TaskFilter{}
	if st := c.QueryParam("status"); st != "" {
		status := models.TaskStatus(st)
		if !models.TaskStatusValidator(status) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+st)
		}
		filter.Statuses = []models.TaskStatus{status}
	}
	tasks, listErr := s.store.ListTasks(c.Request().Context(), id, filter)
	if listErr != nil {
		return mapServiceError(listErr)
	}

	var counts models.TaskCounts
	for _, t := range tasks {
		counts.Add(t.Status)
	}
	return c.JSON(http.StatusOK, &TaskListResponse{Tasks: tasks, Total: len(tasks), Counts: counts})
}

// ApproveRequest is the body of POST .../tasks/approve.
type ApproveRequest struct {
	Approved        bool    `json:"approved"`
	ExcludedTaskIDs []int64 `json:"excluded_task_ids"`
}

// ApproveResponse is the body of a successful approval.
type ApproveResponse struct {
	Success       bool   `json:"success"`
	Phase         string `json:"phase"`
	ApprovedCount int    `json:"approved_count"`
	ExcludedCount int    `json:"excluded_count"`
	Message       string `json:"message"`
}

func (s *Server) approveTasksHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req ApproveRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
	}
	if !req.Approved {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "approved must be true")
	}
	ctx := c.Request().Context()

	// The wire carries task row ids; the coordinator works in task numbers.
	tasks, listErr := s.store.ListTasks(ctx, id, store.TaskFilter{})
	if listErr != nil {
		return mapServiceError(listErr)
	}
	numberByID := make(map[int64]string, len(tasks))
	for _, t := range tasks {
		numberByID[t.ID] = t.TaskNumber
	}
	excluded := make([]string, 0, len(req.ExcludedTaskIDs))
	for _, taskID := range req.ExcludedTaskIDs {
		number, ok := numberByID[taskID]
		if !ok {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"excluded_task_ids: unknown task id "+strconv.FormatInt(taskID, 10))
		}
		excluded = append(excluded, number)
	}

	res, appErr := s.coord.Approve(ctx, id, excluded)
	if appErr != nil {
		return mapServiceError(appErr)
	}
	if res.AlreadyApproved {
		return c.JSON(http.StatusOK, &ApproveResponse{
			Success: true,
			Phase:   string(models.PhaseActive),
			Message: "already approved",
		})
	}
	return c.JSON(http.StatusOK, &ApproveResponse{
		Success:       true,
		Phase:         string(models.PhaseActive),
		ApprovedCount: len(tasks) - len(excluded),
		ExcludedCount: len(excluded),
		Message:       "execution started",
	})
}

// UnblockRequest is the body of POST .../tasks/{task_id}/unblock.
type UnblockRequest struct {
	Guidance string `json:"guidance"`
}

func (s *Server) unblockTaskHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	taskID, err := paramID(c, "task_id")
	if err != nil {
		return err
	}
	var req UnblockRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
	}

	task, unbErr := s.coord.UnblockTask(c.Request().Context(), id, taskID, req.Guidance)
	if unbErr != nil {
		return mapServiceError(unbErr)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) listTaskCommentsHandler(c *echo.Context) error {
	taskID, err := paramID(c, "task_id")
	if err != nil {
		return err
	}
	comments, listErr := s.store.ListTaskComments(c.Request().Context(), taskID)
	if listErr != nil {
		return mapServiceError(listErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

func (s *Server) listFindingsHandler(c *echo.Context) error {
	taskID, err := paramID(c, "task_id")
	if err != nil {
		return err
	}
	findings, listErr := s.store.ListFindings(c.Request().Context(), taskID)
	if listErr != nil {
		return mapServiceError(listErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"findings": findings})
}

func (s *Server) listAgentsHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	agents, listErr := s.store.ListAgents(c.Request().Context(), id)
	if listErr != nil {
		return mapServiceError(listErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) projectMetricsHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var since time.Time
	if r := c.QueryParam("range"); r != "" {
		d, parseErr := time.ParseDuration(r)
		if parseErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid range: must be a duration like 24h")
		}
		since = time.Now().UTC().Add(-d)
	}

	m, getErr := s.store.GetProjectMetrics(c.Request().Context(), id, since)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) listEventsHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	sinceID := int64(0)
	if v := c.QueryParam("since_id"); v != "" {
		n, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_id")
		}
		sinceID = n
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, parseErr := strconv.Atoi(v)
		if parseErr != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	events, listErr := s.store.ListEvents(c.Request().Context(), id, sinceID, limit)
	if listErr != nil {
		return mapServiceError(listErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// CompleteReviewRequest is the body of POST .../review/complete.
type CompleteReviewRequest struct {
	Accept bool `json:"accept"`
}

func (s *Server) completeReviewHandler(c *echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req CompleteReviewRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
	}

	project, revErr := s.coord.CompleteReview(c.Request().Context(), id, req.Accept)
	if revErr != nil {
		return mapServiceError(revErr)
	}
	return c.JSON(http.StatusOK, project)
}

// paramID parses a numeric path parameter.
func paramID(c *echo.Context, name string) (int64, *echo.HTTPError) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}
