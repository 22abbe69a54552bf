package models

import "time"

// TaskStatus is the lifecycle state of a coding task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusExcluded   TaskStatus = "excluded"
)

// TaskStatusValidator reports whether s is a known task status.
func TaskStatusValidator(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusExcluded:
		return true
	}
	return false
}

// IsTerminal reports whether the task status admits no further transitions.
// Blocked is not terminal; an unblock returns the task to ready.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusExcluded
}

// GateStatus is the aggregate quality-gate outcome recorded on a task.
type GateStatus string

const (
	GateStatusNotRun GateStatus = "not_run"
	GateStatusPassed GateStatus = "passed"
	GateStatusFailed GateStatus = "failed"
)

// DefaultMaxAttempts is the per-task retry budget.
const DefaultMaxAttempts = 3

// Task is one unit of coding work produced by decomposition.
// DependsOn holds ids of tasks in the same project; the set is acyclic.
type Task struct {
	ID                int64      `json:"id"`
	ProjectID         int64      `json:"project_id"`
	TaskNumber        string     `json:"task_number"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            TaskStatus `json:"status"`
	DependsOn         []int64    `json:"depends_on"`
	AssignedRole      Role       `json:"assigned_role,omitempty"`
	AssignedAgentID   int64      `json:"assigned_agent_id,omitempty"`
	AttemptCount      int        `json:"attempt_count"`
	MaxAttempts       int        `json:"max_attempts"`
	QualityGateStatus GateStatus `json:"quality_gate_status"`
	Artifacts         []string   `json:"artifacts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskCounts aggregates tasks by status for list responses.
type TaskCounts struct {
	Pending    int `json:"pending"`
	Ready      int `json:"ready"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Excluded   int `json:"excluded"`
}

// Add increments the counter for status s.
func (c *TaskCounts) Add(s TaskStatus) {
	switch s {
	case TaskStatusPending:
		c.Pending++
	case TaskStatusReady:
		c.Ready++
	case TaskStatusInProgress:
		c.InProgress++
	case TaskStatusBlocked:
		c.Blocked++
	case TaskStatusCompleted:
		c.Completed++
	case TaskStatusFailed:
		c.Failed++
	case TaskStatusExcluded:
		c.Excluded++
	}
}

// TaskComment is an operator note attached to a task (e.g. unblock guidance).
type TaskComment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
