// Package coordinator drives projects through their lifecycle: discovery
// Q&A, PRD generation, task decomposition, approval, and the supervised
// execution loop that hands tasks to worker agents.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeframe-dev/codeframe/pkg/agent"
	"github.com/codeframe-dev/codeframe/pkg/checkpoint"
	"github.com/codeframe-dev/codeframe/pkg/config"
	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/gates"
	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/pool"
	"github.com/codeframe-dev/codeframe/pkg/store"
	"github.com/codeframe-dev/codeframe/pkg/workspace"
)

// Coordinator owns the orchestration state machine for every project served
// by this process.
type Coordinator struct {
	cfg       *config.Config
	store     *store.Store
	publisher *events.Publisher
	pool      *pool.Pool
	factory   agent.Factory
	gates     *gates.Engine
	lead      llm.CompletionProvider
	pricing   *llm.PricingTable
	checkpts  *checkpoint.Manager

	mu         sync.Mutex
	workspaces map[int64]*workspace.Workspace
	runners    map[int64]*runner
}

// Options wires a Coordinator.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Publisher *events.Publisher
	Pool      *pool.Pool
	Factory   agent.Factory
	Gates     *gates.Engine
	// Lead serves discovery, PRD generation, and decomposition.
	Lead    llm.CompletionProvider
	Pricing *llm.PricingTable
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	return &Coordinator{
		cfg:        opts.Config,
		store:      opts.Store,
		publisher:  opts.Publisher,
		pool:       opts.Pool,
		factory:    opts.Factory,
		gates:      opts.Gates,
		lead:       opts.Lead,
		pricing:    opts.Pricing,
		checkpts:   checkpoint.NewManager(opts.Store, opts.Publisher),
		workspaces: make(map[int64]*workspace.Workspace),
		runners:    make(map[int64]*runner),
	}
}

// Checkpoints exposes the checkpoint manager for the API layer.
func (c *Coordinator) Checkpoints() *checkpoint.Manager {
	return c.checkpts
}

// Workspace returns the cached workspace for a project, creating the
// wrapper on first use.
func (c *Coordinator) Workspace(project *models.Project) *workspace.Workspace {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.workspaces[project.ID]
	if !ok {
		ws = workspace.New(project.WorkspacePath)
		c.workspaces[project.ID] = ws
	}
	return ws
}

// CreateProjectInput is the API-level project creation request.
type CreateProjectInput struct {
	Name           string
	Description    string
	SourceType     models.SourceType
	SourceLocation string
	SourceBranch   string
}

// CreateProject registers a project, provisions its workspace under the
// configured root, and initializes git. local_path sources reuse the given
// directory instead and are refused in hosted mode.
func (c *Coordinator) CreateProject(ctx context.Context, in CreateProjectInput) (*models.Project, error) {
	if c.cfg.HostedMode && in.SourceType == models.SourceTypeLocalPath {
		return nil, fmt.Errorf("local_path sources are disabled on this server: %w", store.ErrForbidden)
	}

	workspacePath := in.SourceLocation
	if in.SourceType != models.SourceTypeLocalPath {
		workspacePath = filepath.Join(c.cfg.WorkspaceRoot, sanitizeName(in.Name))
		if err := os.MkdirAll(workspacePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}

	project, err := c.store.CreateProject(ctx, store.CreateProjectInput{
		Name:           in.Name,
		Description:    in.Description,
		SourceType:     in.SourceType,
		SourceLocation: in.SourceLocation,
		SourceBranch:   in.SourceBranch,
		WorkspacePath:  workspacePath,
	})
	if err != nil {
		return nil, err
	}

	ws := c.Workspace(project)
	if in.SourceType == models.SourceTypeGitRemote {
		if err := ws.Clone(ctx, in.SourceLocation, in.SourceBranch); err != nil {
			return nil, fmt.Errorf("failed to clone source: %w", err)
		}
	}
	if err := ws.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace git: %w", err)
	}
	head, err := ws.Head(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetProjectGit(ctx, project.ID, true, head); err != nil {
		return nil, err
	}

	slog.Info("Project created", "project_id", project.ID, "name", project.Name, "workspace", workspacePath)
	return c.store.GetProject(ctx, project.ID)
}

// DeleteProject removes a project and, for server-provisioned workspaces,
// its working tree. Refused while a session runs.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID int64) error {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := c.store.ActiveSession(ctx, projectID); err == nil {
		return fmt.Errorf("project has a running session: %w", store.ErrConflict)
	}

	if err := c.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.workspaces, projectID)
	delete(c.runners, projectID)
	c.mu.Unlock()

	if project.SourceType != models.SourceTypeLocalPath {
		if err := os.RemoveAll(project.WorkspacePath); err != nil {
			slog.Error("Failed to remove workspace", "project_id", projectID, "error", err)
		}
	}
	return nil
}

// Shutdown stops every running session and waits for their loops to exit.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	runners := make([]*runner, 0, len(c.runners))
	for _, r := range c.runners {
		runners = append(runners, r)
	}
	c.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

// completeCall bills one lead completion against the project.
func (c *Coordinator) completeCall(ctx context.Context, projectID, sessionID int64, req llm.Request) (*llm.Result, error) {
	res, err := c.lead.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.recordCost(ctx, projectID, sessionID, 0, 0, res)
	return res, nil
}

// recordCost persists and publishes the cost of one completion.
func (c *Coordinator) recordCost(ctx context.Context, projectID, sessionID, agentID, taskID int64, res *llm.Result) {
	cents := c.pricing.Observe(res.Model, res.TokensIn, res.TokensOut)
	if _, err := c.store.RecordCost(ctx, models.CostRecord{
		ProjectID: projectID, AgentID: agentID, TaskID: taskID,
		Model: res.Model, TokensIn: res.TokensIn, TokensOut: res.TokensOut, Cents: cents,
	}); err != nil {
		slog.Error("Failed to record cost", "project_id", projectID, "error", err)
		return
	}
	if agentID != 0 {
		if err := c.store.AddAgentUsage(ctx, agentID, res.TokensIn, res.TokensOut, cents); err != nil {
			slog.Error("Failed to accumulate agent usage", "agent_id", agentID, "error", err)
		}
	}
	if err := c.publisher.CostUpdated(ctx, projectID, sessionID, events.CostUpdatedPayload{
		AgentID: agentID, TaskID: taskID, Model: res.Model,
		TokensIn: res.TokensIn, TokensOut: res.TokensOut, Cents: cents,
	}); err != nil {
		slog.Error("Failed to publish cost event", "project_id", projectID, "error", err)
	}
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			out = append(out, r)
		case r == '-' || r == '_' || r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	s := string(out)
	if s == "" {
		s = fmt.Sprintf("project-%d", time.Now().Unix())
	}
	return s
}
