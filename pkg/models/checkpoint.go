package models

import "time"

// Checkpoint is a named git snapshot of a project's workspace.
// (project_id, name) is unique.
type Checkpoint struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GitSHA      string    `json:"git_sha"`
	CreatedAt   time.Time `json:"created_at"`
}
