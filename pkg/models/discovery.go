package models

import "time"

// DiscoveryStatus tracks the Socratic Q&A loop for a project.
type DiscoveryStatus string

const (
	DiscoveryNotStarted  DiscoveryStatus = "not_started"
	DiscoveryDiscovering DiscoveryStatus = "discovering"
	DiscoveryCompleted   DiscoveryStatus = "completed"
)

// PRDStatus tracks generation of the product requirements document.
type PRDStatus string

const (
	PRDStatusNone       PRDStatus = "none"
	PRDStatusGenerating PRDStatus = "generating"
	PRDStatusAvailable  PRDStatus = "available"
	PRDStatusFailed     PRDStatus = "failed"
)

// DiscoveryQuestion is one question asked during discovery. At most one
// question per project is unanswered at a time.
type DiscoveryQuestion struct {
	ID         int64      `json:"id"`
	ProjectID  int64      `json:"project_id"`
	Text       string     `json:"text"`
	Answer     string     `json:"answer,omitempty"`
	AskedAt    time.Time  `json:"asked_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// DiscoveryState is the per-project discovery record.
type DiscoveryState struct {
	ProjectID  int64           `json:"project_id"`
	State      DiscoveryStatus `json:"state"`
	PRDStatus  PRDStatus       `json:"prd_status"`
	PRDContent string          `json:"prd_content,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
