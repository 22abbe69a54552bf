// Package events defines the typed telemetry/audit events and the publisher
// that persists them and fans them out to live subscribers.
package events

// Event kinds. The kind string is both the persisted event discriminator and
// the frame type on the live channel.
const (
	KindPhaseChanged      = "project.phase_changed"
	KindDiscoveryQuestion = "discovery.question"
	KindDiscoveryAnswered = "discovery.answered"
	KindPRDStatus         = "prd.status"
	KindTasksDecomposed   = "tasks.decomposed"
	KindTaskStatus        = "task.status_changed"
	KindAgentCreated      = "agent.created"
	KindAgentStatus       = "agent.status_changed"
	KindGateResult        = "quality_gate.result"
	KindCheckpointCreated = "checkpoint.created"
	KindSessionStarted    = "session.started"
	KindSessionStatus     = "session.status_changed"
	KindCostUpdated       = "cost.updated"
)

// PhaseChangedPayload reports a project lifecycle transition.
type PhaseChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DiscoveryQuestionPayload carries a newly asked clarifying question.
type DiscoveryQuestionPayload struct {
	QuestionID int64  `json:"question_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// DiscoveryAnsweredPayload reports that the pending question was answered.
type DiscoveryAnsweredPayload struct {
	QuestionID int64 `json:"question_id"`
}

// PRDStatusPayload reports requirements-document generation progress.
type PRDStatusPayload struct {
	Status string `json:"status"`
}

// TasksDecomposedPayload reports the size of a fresh task breakdown.
type TasksDecomposedPayload struct {
	Count int `json:"count"`
}

// TaskStatusPayload reports a task status transition.
type TaskStatusPayload struct {
	TaskID  int64  `json:"task_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	AgentID int64  `json:"agent_id,omitempty"`
}

// AgentCreatedPayload reports a new agent joining the pool.
type AgentCreatedPayload struct {
	AgentID int64  `json:"agent_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

// AgentStatusPayload reports an agent status transition.
type AgentStatusPayload struct {
	AgentID int64  `json:"agent_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	TaskID  int64  `json:"task_id,omitempty"`
}

// GateResultPayload reports a quality gate verdict for a task.
type GateResultPayload struct {
	TaskID       int64  `json:"task_id"`
	Gate         string `json:"gate"`
	Status       string `json:"status"`
	FindingCount int    `json:"finding_count"`
	Critical     bool   `json:"critical"`
}

// CheckpointCreatedPayload reports a new workspace snapshot.
type CheckpointCreatedPayload struct {
	CheckpointID int64  `json:"checkpoint_id"`
	Name         string `json:"name"`
	GitSHA       string `json:"git_sha"`
}

// SessionStartedPayload reports a new execution session.
type SessionStartedPayload struct {
	SessionID int64 `json:"session_id"`
}

// SessionStatusPayload reports a session status transition.
type SessionStatusPayload struct {
	SessionID int64  `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
}

// CostUpdatedPayload reports one billed completion.
type CostUpdatedPayload struct {
	AgentID   int64  `json:"agent_id,omitempty"`
	TaskID    int64  `json:"task_id,omitempty"`
	Model     string `json:"model"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
	Cents     int64  `json:"cents"`
}
