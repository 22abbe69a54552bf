package pool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	project, err := st.CreateProject(ctx, store.CreateProjectInput{
		Name: "demo", SourceType: models.SourceTypeEmpty, WorkspacePath: t.TempDir(),
	})
	require.NoError(t, err)

	b := bus.New(bus.Options{})
	b.Start()
	t.Cleanup(b.Close)

	return New(st, events.NewPublisher(st, b), capacity), st, project.ID
}

func TestAcquireCreatesAgentOnce(t *testing.T) {
	ctx := context.Background()
	p, st, projectID := newTestPool(t, 2)

	a1, err := p.Acquire(ctx, projectID, models.RoleBackend)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, a1.Status)

	require.NoError(t, p.MarkBusy(ctx, a1, 1))
	p.Release(ctx, a1, false)

	// The same idle agent is reused, not duplicated.
	a2, err := p.Acquire(ctx, projectID, models.RoleBackend)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
	p.Release(ctx, a2, false)

	agents, err := st.ListAgents(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	ctx := context.Background()
	p, _, projectID := newTestPool(t, 1)

	a1, err := p.Acquire(ctx, projectID, models.RoleBackend)
	require.NoError(t, err)
	assert.Equal(t, Health{Capacity: 1, InUse: 1}, p.Health())

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(blocked, projectID, models.RoleTest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(ctx, a1, false)
	assert.Equal(t, Health{Capacity: 1, InUse: 0}, p.Health())

	a2, err := p.Acquire(ctx, projectID, models.RoleTest)
	require.NoError(t, err)
	p.Release(ctx, a2, false)
}

func TestReleaseFailedAgent(t *testing.T) {
	ctx := context.Background()
	p, st, projectID := newTestPool(t, 1)

	a, err := p.Acquire(ctx, projectID, models.RoleBackend)
	require.NoError(t, err)
	require.NoError(t, p.MarkBusy(ctx, a, 7))
	p.Release(ctx, a, true)

	got, err := st.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusError, got.Status)

	// Errored agents are skipped until revived.
	_, err = st.FindIdleAgent(ctx, projectID, models.RoleBackend)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, p.Revive(ctx, a.ID))
	got, err = st.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, got.Status)
}

func TestRetire(t *testing.T) {
	ctx := context.Background()
	p, st, projectID := newTestPool(t, 1)

	a, err := p.Acquire(ctx, projectID, models.RoleReview)
	require.NoError(t, err)
	p.Release(ctx, a, false)

	require.NoError(t, p.Retire(ctx, a.ID))
	got, err := st.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusStopped, got.Status)

	// Retiring a busy agent is a lost race, not a crash.
	b, err := p.Acquire(ctx, projectID, models.RoleReview)
	require.NoError(t, err)
	require.NoError(t, p.MarkBusy(ctx, b, 1))
	assert.ErrorIs(t, p.Retire(ctx, b.ID), store.ErrNotApplied)
	p.Release(ctx, b, false)
}
