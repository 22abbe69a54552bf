// Package checkpoint creates and restores named workspace snapshots backed
// by git commits.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
	"github.com/codeframe-dev/codeframe/pkg/workspace"
)

// Manager coordinates snapshot rows with the underlying git tree.
type Manager struct {
	store     *store.Store
	publisher *events.Publisher
}

// NewManager creates a Manager.
func NewManager(st *store.Store, pub *events.Publisher) *Manager {
	return &Manager{store: st, publisher: pub}
}

// Create commits the current workspace state and records the checkpoint.
// Names are unique per project.
func (m *Manager) Create(ctx context.Context, projectID int64, ws *workspace.Workspace, name, description string) (*models.Checkpoint, error) {
	sha, err := ws.Snapshot(ctx, "checkpoint: "+name)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workspace: %w", err)
	}

	cp, err := m.store.CreateCheckpointRow(ctx, projectID, name, description, sha)
	if err != nil {
		// The orphaned commit is harmless; the next snapshot moves past it.
		return nil, err
	}
	if err := m.store.SetProjectGit(ctx, projectID, true, sha); err != nil {
		slog.Error("Failed to record checkpoint commit on project", "project_id", projectID, "error", err)
	}
	if err := m.publisher.CheckpointCreated(ctx, projectID, cp.ID, name, sha); err != nil {
		slog.Error("Failed to publish checkpoint event", "checkpoint_id", cp.ID, "error", err)
	}
	return cp, nil
}

// List returns the project's checkpoints, newest first.
func (m *Manager) List(ctx context.Context, projectID int64) ([]*models.Checkpoint, error) {
	return m.store.ListCheckpoints(ctx, projectID)
}

// Diff returns the patch between a checkpoint and the current workspace HEAD.
func (m *Manager) Diff(ctx context.Context, projectID, checkpointID int64, ws *workspace.Workspace) (string, error) {
	cp, err := m.store.GetCheckpoint(ctx, projectID, checkpointID)
	if err != nil {
		return "", err
	}
	return ws.Diff(ctx, cp.GitSHA)
}

// Restore resets the workspace to the checkpoint's commit. Refused while a
// session is active or paused; stop it first.
func (m *Manager) Restore(ctx context.Context, projectID, checkpointID int64, ws *workspace.Workspace) (*models.Checkpoint, error) {
	if sess, err := m.store.ActiveSession(ctx, projectID); err == nil {
		return nil, fmt.Errorf("session %d is %s: %w", sess.ID, sess.Status, store.ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cp, err := m.store.GetCheckpoint(ctx, projectID, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := ws.Restore(ctx, cp.GitSHA); err != nil {
		return nil, fmt.Errorf("failed to restore workspace: %w", err)
	}
	if err := m.store.SetProjectGit(ctx, projectID, true, cp.GitSHA); err != nil {
		slog.Error("Failed to record restored commit on project", "project_id", projectID, "error", err)
	}
	slog.Info("Workspace restored", "project_id", projectID, "checkpoint", cp.Name, "sha", cp.GitSHA)
	return cp, nil
}
