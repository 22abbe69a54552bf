package models

import "time"

// Role identifies the specialization of an agent.
type Role string

const (
	RoleLead     Role = "lead"
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
	RoleTest     Role = "test"
	RoleReview   Role = "review"
)

// WorkerRoles lists the roles executed by the worker pool (everything but lead).
var WorkerRoles = []Role{RoleBackend, RoleFrontend, RoleTest, RoleReview}

// RoleValidator reports whether r is a known role.
func RoleValidator(r Role) bool {
	switch r {
	case RoleLead, RoleBackend, RoleFrontend, RoleTest, RoleReview:
		return true
	}
	return false
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusStopping AgentStatus = "stopping"
	AgentStatusStopped  AgentStatus = "stopped"
	AgentStatusError    AgentStatus = "error"
)

// Agent is a persisted worker-agent row. Busy agents always carry a
// CurrentTaskID; idle agents never do.
type Agent struct {
	ID             int64       `json:"id"`
	ProjectID      int64       `json:"project_id"`
	Role           Role        `json:"role"`
	Status         AgentStatus `json:"status"`
	CurrentTaskID  int64       `json:"current_task_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	TotalTokensIn  int64       `json:"total_tokens_in"`
	TotalTokensOut int64       `json:"total_tokens_out"`
	TotalCostCents int64       `json:"total_cost_cents"`
}
