package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
	"github.com/codeframe-dev/codeframe/pkg/workspace"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *workspace.Workspace, int64) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.Init(ctx))

	project, err := st.CreateProject(ctx, store.CreateProjectInput{
		Name: "demo", SourceType: models.SourceTypeEmpty, WorkspacePath: ws.Dir(),
	})
	require.NoError(t, err)

	b := bus.New(bus.Options{})
	b.Start()
	t.Cleanup(b.Close)

	return NewManager(st, events.NewPublisher(st, b)), st, ws, project.ID
}

func TestCreateAndRestore(t *testing.T) {
	ctx := context.Background()
	m, st, ws, projectID := newTestManager(t)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "app.go"), []byte("package app\n"), 0o644))
	cp, err := m.Create(ctx, projectID, ws, "before-auth", "state before auth work")
	require.NoError(t, err)
	assert.NotEmpty(t, cp.GitSHA)

	project, err := st.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, cp.GitSHA, project.CurrentCommit)

	// Wreck the workspace, then restore.
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "app.go"), []byte("garbage"), 0o644))
	_, err = ws.Snapshot(ctx, "bad state")
	require.NoError(t, err)

	restored, err := m.Restore(ctx, projectID, cp.ID, ws)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, restored.ID)

	content, err := os.ReadFile(filepath.Join(ws.Dir(), "app.go"))
	require.NoError(t, err)
	assert.Equal(t, "package app\n", string(content))
}

func TestCreateDuplicateName(t *testing.T) {
	ctx := context.Background()
	m, _, ws, projectID := newTestManager(t)

	_, err := m.Create(ctx, projectID, ws, "v1", "")
	require.NoError(t, err)
	_, err = m.Create(ctx, projectID, ws, "v1", "")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestRestoreRefusedWhileSessionRuns(t *testing.T) {
	ctx := context.Background()
	m, st, ws, projectID := newTestManager(t)

	cp, err := m.Create(ctx, projectID, ws, "v1", "")
	require.NoError(t, err)

	sess, err := st.CreateSession(ctx, projectID)
	require.NoError(t, err)

	_, err = m.Restore(ctx, projectID, cp.ID, ws)
	assert.ErrorIs(t, err, store.ErrConflict)

	// Paused sessions still hold the workspace.
	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusActive, models.SessionStatusPaused, ""))
	_, err = m.Restore(ctx, projectID, cp.ID, ws)
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusPaused, models.SessionStatusStopped, ""))
	_, err = m.Restore(ctx, projectID, cp.ID, ws)
	assert.NoError(t, err)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	m, _, ws, projectID := newTestManager(t)

	cp, err := m.Create(ctx, projectID, ws, "base", "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "new.go"), []byte("package new\n"), 0o644))
	_, err = ws.Snapshot(ctx, "add new")
	require.NoError(t, err)

	diff, err := m.Diff(ctx, projectID, cp.ID, ws)
	require.NoError(t, err)
	assert.Contains(t, diff, "new.go")

	_, err = m.Diff(ctx, projectID, cp.ID+99, ws)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
