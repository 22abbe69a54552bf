package models

import "time"

// CostRecord is one billed LLM completion, linked to the agent and task
// that incurred it.
type CostRecord struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	AgentID   int64     `json:"agent_id,omitempty"`
	TaskID    int64     `json:"task_id,omitempty"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cents     int64     `json:"cents"`
	TS        time.Time `json:"ts"`
}
