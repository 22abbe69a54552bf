package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/metrics"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// Publisher appends events to the durable log and broadcasts them on the
// live channel. The append is authoritative; a broadcast that finds no
// subscribers is not an error.
type Publisher struct {
	store *store.Store
	bus   *bus.Bus
}

// NewPublisher creates a Publisher over the given store and bus.
func NewPublisher(st *store.Store, b *bus.Bus) *Publisher {
	return &Publisher{store: st, bus: b}
}

// Publish persists one event and fans it out. sessionID may be zero for
// events outside any session.
func (p *Publisher) Publish(ctx context.Context, projectID, sessionID int64, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	if _, err := p.store.AppendEvent(ctx, projectID, sessionID, kind, raw); err != nil {
		return fmt.Errorf("failed to append %s event: %w", kind, err)
	}
	metrics.EventsPublished.WithLabelValues(kind).Inc()
	p.bus.Publish(projectID, kind, raw)
	return nil
}

// PhaseChanged publishes a project lifecycle transition.
func (p *Publisher) PhaseChanged(ctx context.Context, projectID, sessionID int64, from, to string) error {
	return p.Publish(ctx, projectID, sessionID, KindPhaseChanged, PhaseChangedPayload{From: from, To: to})
}

// DiscoveryQuestion publishes a newly asked clarifying question.
func (p *Publisher) DiscoveryQuestion(ctx context.Context, projectID, questionID int64, index int, text string) error {
	return p.Publish(ctx, projectID, 0, KindDiscoveryQuestion,
		DiscoveryQuestionPayload{QuestionID: questionID, Index: index, Text: text})
}

// DiscoveryAnswered publishes that the pending question was answered.
func (p *Publisher) DiscoveryAnswered(ctx context.Context, projectID, questionID int64) error {
	return p.Publish(ctx, projectID, 0, KindDiscoveryAnswered, DiscoveryAnsweredPayload{QuestionID: questionID})
}

// PRDStatus publishes requirements-document generation progress.
func (p *Publisher) PRDStatus(ctx context.Context, projectID int64, status string) error {
	return p.Publish(ctx, projectID, 0, KindPRDStatus, PRDStatusPayload{Status: status})
}

// TasksDecomposed publishes the size of a fresh task breakdown.
func (p *Publisher) TasksDecomposed(ctx context.Context, projectID int64, count int) error {
	return p.Publish(ctx, projectID, 0, KindTasksDecomposed, TasksDecomposedPayload{Count: count})
}

// AgentCreated publishes a new agent joining the pool.
func (p *Publisher) AgentCreated(ctx context.Context, projectID, agentID int64, name, role string) error {
	return p.Publish(ctx, projectID, 0, KindAgentCreated,
		AgentCreatedPayload{AgentID: agentID, Name: name, Role: role})
}

// GateResult publishes a quality gate verdict for a task.
func (p *Publisher) GateResult(ctx context.Context, projectID, sessionID, taskID int64, gate, status string, findings int, critical bool) error {
	return p.Publish(ctx, projectID, sessionID, KindGateResult, GateResultPayload{
		TaskID: taskID, Gate: gate, Status: status, FindingCount: findings, Critical: critical,
	})
}

// CheckpointCreated publishes a new workspace snapshot.
func (p *Publisher) CheckpointCreated(ctx context.Context, projectID, checkpointID int64, name, gitSHA string) error {
	return p.Publish(ctx, projectID, 0, KindCheckpointCreated,
		CheckpointCreatedPayload{CheckpointID: checkpointID, Name: name, GitSHA: gitSHA})
}

// SessionStarted publishes a new execution session.
func (p *Publisher) SessionStarted(ctx context.Context, projectID, sessionID int64) error {
	return p.Publish(ctx, projectID, sessionID, KindSessionStarted, SessionStartedPayload{SessionID: sessionID})
}

// SessionStatus publishes a session status transition.
func (p *Publisher) SessionStatus(ctx context.Context, projectID, sessionID int64, from, to, reason string) error {
	return p.Publish(ctx, projectID, sessionID, KindSessionStatus, SessionStatusPayload{
		SessionID: sessionID, From: from, To: to, Reason: reason,
	})
}

// CostUpdated publishes one billed completion.
func (p *Publisher) CostUpdated(ctx context.Context, projectID, sessionID int64, payload CostUpdatedPayload) error {
	return p.Publish(ctx, projectID, sessionID, KindCostUpdated, payload)
}

// Relay consumes the store's change-notification stream and republishes
// status transitions as events. Runs until the stream closes or ctx is
// cancelled. Phase and session transitions are published explicitly by the
// coordinator with richer context, so the relay skips them to avoid
// duplicates.
// sessionFor attributes a change to the project's active session. Task and
// agent writes do not carry the session id themselves; transitions outside
// any session stay at zero.
func (p *Publisher) sessionFor(ctx context.Context, c store.Change) int64 {
	if c.SessionID != 0 {
		return c.SessionID
	}
	sess, err := p.store.ActiveSession(ctx, c.ProjectID)
	if err != nil {
		return 0
	}
	return sess.ID
}

func (p *Publisher) Relay(ctx context.Context, changes <-chan store.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			var err error
			switch c.Kind {
			case store.ChangeTaskStatus:
				err = p.Publish(ctx, c.ProjectID, p.sessionFor(ctx, c), KindTaskStatus, TaskStatusPayload{
					TaskID: c.TaskID, From: c.From, To: c.To, AgentID: c.AgentID,
				})
			case store.ChangeAgentStatus:
				err = p.Publish(ctx, c.ProjectID, p.sessionFor(ctx, c), KindAgentStatus, AgentStatusPayload{
					AgentID: c.AgentID, From: c.From, To: c.To, TaskID: c.TaskID,
				})
			default:
				// Published at the call site.
			}
			if err != nil {
				slog.Error("Failed to relay change notification",
					"kind", c.Kind, "project_id", c.ProjectID, "error", err)
			}
		}
	}
}
