// Package models defines the persisted domain entities and their status
// enums. Entities are plain structs; the store owns all persistence, and no
// entity holds back-pointers to other entities (lookups go through the store
// by id).
package models

import "time"

// SourceType describes where a project's workspace content comes from.
type SourceType string

const (
	SourceTypeGitRemote SourceType = "git_remote"
	SourceTypeLocalPath SourceType = "local_path"
	SourceTypeUpload    SourceType = "upload"
	SourceTypeEmpty     SourceType = "empty"
)

// SourceTypeValidator reports whether s is a known source type.
func SourceTypeValidator(s SourceType) bool {
	switch s {
	case SourceTypeGitRemote, SourceTypeLocalPath, SourceTypeUpload, SourceTypeEmpty:
		return true
	}
	return false
}

// Phase is the stage of a project's lifecycle. It gates which API commands
// are accepted.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhasePlanning  Phase = "planning"
	PhaseActive    Phase = "active"
	PhaseReview    Phase = "review"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// PhaseValidator reports whether p is a known phase.
func PhaseValidator(p Phase) bool {
	switch p {
	case PhaseDiscovery, PhasePlanning, PhaseActive, PhaseReview, PhaseComplete, PhaseFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the phase admits no further transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// CanTransition reports whether the phase machine permits from → to.
// Forward-only, except review→active (rework) and any non-terminal → failed.
func CanTransition(from, to Phase) bool {
	if from == to {
		return false
	}
	if to == PhaseFailed {
		return !from.IsTerminal()
	}
	switch from {
	case PhaseDiscovery:
		return to == PhasePlanning
	case PhasePlanning:
		return to == PhaseActive
	case PhaseActive:
		return to == PhaseReview || to == PhaseComplete
	case PhaseReview:
		return to == PhaseActive || to == PhaseComplete
	}
	return false
}

// Project is the root aggregate. workspace_path is unique per project and
// holds a git working tree.
type Project struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	SourceType     SourceType `json:"source_type"`
	SourceLocation string     `json:"source_location,omitempty"`
	SourceBranch   string     `json:"source_branch,omitempty"`
	WorkspacePath  string     `json:"workspace_path"`
	GitInitialized bool       `json:"git_initialized"`
	CurrentCommit  string     `json:"current_commit,omitempty"`
	Phase          Phase      `json:"phase"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
