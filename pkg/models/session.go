package models

import "time"

// SessionStatus is the lifecycle state of an orchestration session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the session can no longer be resumed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusStopped || s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is one concrete orchestration run of a project. At most one
// session per project is active at any time.
type Session struct {
	ID            int64         `json:"id"`
	ProjectID     int64         `json:"project_id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Status        SessionStatus `json:"status"`
	LastIteration int64         `json:"last_iteration"`
	WatchdogCount int64         `json:"watchdog_count"`
	FailureReason string        `json:"failure_reason,omitempty"`
}
