// Package pool manages the worker-agent roster under a fixed concurrency
// cap. Slots are a counting semaphore; agent rows are persisted so the
// roster survives restarts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/metrics"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// DefaultMaxConcurrent caps simultaneously executing agents.
const DefaultMaxConcurrent = 5

// Pool hands out persisted agents under the concurrency cap.
type Pool struct {
	store     *store.Store
	publisher *events.Publisher
	slots     chan struct{}
	max       int
}

// New creates a Pool with the given capacity.
func New(st *store.Store, pub *events.Publisher, maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Pool{
		store:     st,
		publisher: pub,
		slots:     make(chan struct{}, maxConcurrent),
		max:       maxConcurrent,
	}
}

// Acquire blocks until a slot is free (or ctx is done), then returns an idle
// agent of the role, creating one if the project has none. The agent is
// still idle; the caller marks it busy once a task is claimed.
func (p *Pool) Acquire(ctx context.Context, projectID int64, role models.Role) (*models.Agent, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	agent, err := p.store.FindIdleAgent(ctx, projectID, role)
	if errors.Is(err, store.ErrNotFound) {
		agent, err = p.store.CreateAgent(ctx, projectID, role)
		if err == nil {
			name := fmt.Sprintf("%s-%d", role, agent.ID)
			if pubErr := p.publisher.AgentCreated(ctx, projectID, agent.ID, name, string(role)); pubErr != nil {
				slog.Error("Failed to publish agent creation", "agent_id", agent.ID, "error", pubErr)
			}
		}
	}
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("failed to acquire %s agent: %w", role, err)
	}
	return agent, nil
}

// MarkBusy transitions the acquired agent to busy on the given task.
func (p *Pool) MarkBusy(ctx context.Context, agent *models.Agent, taskID int64) error {
	if err := p.store.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusIdle, models.AgentStatusBusy, taskID); err != nil {
		return err
	}
	metrics.ActiveAgents.Inc()
	return nil
}

// Release returns the agent to idle (or error) and frees its slot. Always
// pairs with a successful Acquire.
func (p *Pool) Release(ctx context.Context, agent *models.Agent, failed bool) {
	defer func() { <-p.slots }()

	current, err := p.store.GetAgent(ctx, agent.ID)
	if err != nil {
		slog.Error("Failed to load agent on release", "agent_id", agent.ID, "error", err)
		return
	}
	if current.Status != models.AgentStatusBusy {
		return // never marked busy, nothing to unwind
	}
	metrics.ActiveAgents.Dec()

	to := models.AgentStatusIdle
	if failed {
		to = models.AgentStatusError
	}
	if err := p.store.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusBusy, to, 0); err != nil {
		slog.Error("Failed to release agent", "agent_id", agent.ID, "error", err)
	}
}

// Revive returns an errored agent to idle so it can take work again.
func (p *Pool) Revive(ctx context.Context, agentID int64) error {
	return p.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusError, models.AgentStatusIdle, 0)
}

// Retire stops an idle agent permanently.
func (p *Pool) Retire(ctx context.Context, agentID int64) error {
	return p.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusIdle, models.AgentStatusStopped, 0)
}

// Health describes pool load for the operator surface.
type Health struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
}

// Health reports current slot usage.
func (p *Pool) Health() Health {
	return Health{Capacity: p.max, InUse: len(p.slots)}
}
