package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

func newTestPublisher(t *testing.T) (*Publisher, *store.Store, *bus.Bus, int64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	project, err := st.CreateProject(ctx, store.CreateProjectInput{
		Name:          "telemetry",
		SourceType:    models.SourceTypeEmpty,
		WorkspacePath: t.TempDir(),
	})
	require.NoError(t, err)

	b := bus.New(bus.Options{})
	b.Start()
	t.Cleanup(b.Close)

	return NewPublisher(st, b), st, b, project.ID
}

func TestPublishPersistsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	pub, st, b, projectID := newTestPublisher(t)

	sub := b.Subscribe(projectID)
	require.NoError(t, pub.PhaseChanged(ctx, projectID, 0, "discovery", "planning"))

	frame := <-sub.C()
	assert.Equal(t, KindPhaseChanged, frame.Type)
	assert.JSONEq(t, `{"from":"discovery","to":"planning"}`, string(frame.Payload))

	events, err := st.ListEvents(ctx, projectID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindPhaseChanged, events[0].Kind)
}

func TestRelayRepublishesTaskTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, st, b, projectID := newTestPublisher(t)

	sub := b.Subscribe(projectID)
	changes := make(chan store.Change, 4)
	done := make(chan struct{})
	go func() {
		pub.Relay(ctx, changes)
		close(done)
	}()

	changes <- store.Change{
		Kind: store.ChangeTaskStatus, ProjectID: projectID,
		TaskID: 42, From: "ready", To: "in_progress", AgentID: 7,
	}
	// Phase changes are the coordinator's to publish; the relay skips them.
	changes <- store.Change{
		Kind: store.ChangeProjectPhase, ProjectID: projectID,
		From: "active", To: "review",
	}

	frame := <-sub.C()
	assert.Equal(t, KindTaskStatus, frame.Type)
	assert.JSONEq(t, `{"task_id":42,"from":"ready","to":"in_progress","agent_id":7}`, string(frame.Payload))

	select {
	case f := <-sub.C():
		t.Fatalf("relay republished %q", f.Type)
	case <-time.After(50 * time.Millisecond):
	}

	events, err := st.ListEvents(ctx, projectID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	close(changes)
	<-done
}

func TestRelayAttributesActiveSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, st, _, projectID := newTestPublisher(t)

	sess, err := st.CreateSession(ctx, projectID)
	require.NoError(t, err)

	changes := make(chan store.Change, 1)
	done := make(chan struct{})
	go func() {
		pub.Relay(ctx, changes)
		close(done)
	}()

	// Task writes do not carry the session id; the relay fills it in.
	changes <- store.Change{
		Kind: store.ChangeTaskStatus, ProjectID: projectID,
		TaskID: 1, From: "pending", To: "ready",
	}
	close(changes)
	<-done

	events, err := st.ListEvents(ctx, projectID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindTaskStatus, events[0].Kind)
	assert.Equal(t, sess.ID, events[0].SessionID)
}
