package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestProject(t *testing.T, s *Store) *models.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), CreateProjectInput{
		Name:          "demo",
		SourceType:    models.SourceTypeEmpty,
		WorkspacePath: t.TempDir(),
	})
	require.NoError(t, err)
	return p
}

func TestCreateProjectStartsInDiscovery(t *testing.T) {
	s := newTestStore(t)
	p := newTestProject(t, s)

	assert.Equal(t, models.PhaseDiscovery, p.Phase)
	assert.False(t, p.GitInitialized)

	d, err := s.GetDiscoveryState(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DiscoveryNotStarted, d.State)
	assert.Equal(t, models.PRDStatusNone, d.PRDStatus)
}

func TestCreateProjectValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, CreateProjectInput{
		SourceType: models.SourceTypeEmpty, WorkspacePath: t.TempDir(),
	})
	assert.True(t, IsValidationError(err))

	_, err = s.CreateProject(ctx, CreateProjectInput{
		Name: "x", SourceType: models.SourceTypeGitRemote, WorkspacePath: t.TempDir(),
	})
	require.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "source_location")
}

func TestCreateProjectWorkspaceUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws := t.TempDir()

	_, err := s.CreateProject(ctx, CreateProjectInput{
		Name: "a", SourceType: models.SourceTypeEmpty, WorkspacePath: ws,
	})
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, CreateProjectInput{
		Name: "b", SourceType: models.SourceTypeEmpty, WorkspacePath: ws,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateProjectPhaseGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	require.NoError(t, s.UpdateProjectPhase(ctx, p.ID, models.PhaseDiscovery, models.PhasePlanning))

	// Same transition again: the row is no longer in discovery.
	err := s.UpdateProjectPhase(ctx, p.ID, models.PhaseDiscovery, models.PhasePlanning)
	assert.ErrorIs(t, err, ErrNotApplied)

	// Backward transitions are rejected by the phase machine itself.
	err = s.UpdateProjectPhase(ctx, p.ID, models.PhasePlanning, models.PhaseDiscovery)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, got.Phase)
}

func TestCreateTasksAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	// Reference to an unknown sibling rolls back the whole batch.
	_, err := s.CreateTasks(ctx, p.ID, []NewTask{
		{TaskNumber: "1", Title: "models"},
		{TaskNumber: "2", Title: "api", DependsOn: []string{"99"}},
	})
	require.True(t, IsValidationError(err))

	tasks, err := s.ListTasks(ctx, p.ID, TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = s.CreateTasks(ctx, p.ID, []NewTask{
		{TaskNumber: "1", Title: "models"},
		{TaskNumber: "2", Title: "api", DependsOn: []string{"1"}},
		{TaskNumber: "10", Title: "ui", DependsOn: []string{"2"}, Role: models.RoleFrontend},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	// Numeric ordering: 10 sorts after 2.
	assert.Equal(t, []string{"1", "2", "10"}, []string{tasks[0].TaskNumber, tasks[1].TaskNumber, tasks[2].TaskNumber})
	assert.Equal(t, []int64{tasks[1].ID}, tasks[2].DependsOn)
	assert.Equal(t, models.RoleFrontend, tasks[2].AssignedRole)
	assert.Equal(t, models.DefaultMaxAttempts, tasks[0].MaxAttempts)
}

func TestUpdateTaskStatusGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	tasks, err := s.CreateTasks(ctx, p.ID, []NewTask{{TaskNumber: "1", Title: "t"}})
	require.NoError(t, err)
	id := tasks[0].ID

	require.NoError(t, s.UpdateTaskStatus(ctx, id, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{}))

	// Lost race: the task already left pending.
	err = s.UpdateTaskStatus(ctx, id, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{})
	assert.ErrorIs(t, err, ErrNotApplied)

	// Unknown task id is reported as not found, not as a lost race.
	err = s.UpdateTaskStatus(ctx, id+100, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimReadyTaskFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	agent, err := s.CreateAgent(ctx, p.ID, models.RoleBackend)
	require.NoError(t, err)

	tasks, err := s.CreateTasks(ctx, p.ID, []NewTask{
		{TaskNumber: "1", Title: "a"},
		{TaskNumber: "2", Title: "b"},
	})
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{}))
	}

	claimed, err := s.ClaimReadyTask(ctx, p.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", claimed.TaskNumber)
	assert.Equal(t, models.TaskStatusInProgress, claimed.Status)
	assert.Equal(t, agent.ID, claimed.AssignedAgentID)
	assert.Equal(t, 1, claimed.AttemptCount)

	claimed, err = s.ClaimReadyTask(ctx, p.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", claimed.TaskNumber)

	_, err = s.ClaimReadyTask(ctx, p.ID, agent.ID)
	assert.ErrorIs(t, err, ErrNoReadyTasks)
}

func TestClaimReadyTaskExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	const n = 8
	var batch []NewTask
	for i := 1; i <= n; i++ {
		batch = append(batch, NewTask{TaskNumber: string(rune('0' + i)), Title: "t"})
	}
	tasks, err := s.CreateTasks(ctx, p.ID, batch)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{}))
	}

	// N concurrent claimers receive N distinct tasks.
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		agent, err := s.CreateAgent(ctx, p.ID, models.RoleBackend)
		require.NoError(t, err)
		go func(agentID int64) {
			task, err := s.ClaimReadyTask(ctx, p.ID, agentID)
			if err != nil {
				results <- 0
				return
			}
			results <- task.ID
		}(agent.ID)
	}

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		id := <-results
		require.NotZero(t, id)
		require.False(t, seen[id], "task %d claimed twice", id)
		seen[id] = true
	}
}

func TestAgentStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	agent, err := s.CreateAgent(ctx, p.ID, models.RoleTest)
	require.NoError(t, err)

	// Busy requires a task.
	err = s.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusIdle, models.AgentStatusBusy, 0)
	assert.True(t, IsValidationError(err))

	require.NoError(t, s.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusIdle, models.AgentStatusBusy, 42))
	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusBusy, got.Status)
	assert.Equal(t, int64(42), got.CurrentTaskID)

	// Returning to idle clears the task.
	require.NoError(t, s.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusBusy, models.AgentStatusIdle, 0))
	got, err = s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentTaskID)

	require.NoError(t, s.AddAgentUsage(ctx, agent.ID, 100, 40, 3))
	require.NoError(t, s.AddAgentUsage(ctx, agent.ID, 50, 10, 2))
	got, err = s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TotalTokensIn)
	assert.Equal(t, int64(50), got.TotalTokensOut)
	assert.Equal(t, int64(5), got.TotalCostCents)
}

func TestSingleActiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	sess, err := s.CreateSession(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, sess.Status)

	_, err = s.CreateSession(ctx, p.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// Ending the session frees the slot.
	require.NoError(t, s.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusActive, models.SessionStatusCompleted, ""))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)

	_, err = s.CreateSession(ctx, p.ID)
	assert.NoError(t, err)
}

func TestSessionWatchdogCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	sess, err := s.CreateSession(ctx, p.ID)
	require.NoError(t, err)

	w, err := s.TouchSessionIteration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w)
	w, err = s.TouchSessionIteration(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w)

	// Progress resets the counter.
	w, err = s.TouchSessionIteration(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.Zero(t, w)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.LastIteration)
}

func TestDiscoverySinglePendingQuestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	q1, err := s.AddQuestion(ctx, p.ID, "what storage?")
	require.NoError(t, err)

	_, err = s.AddQuestion(ctx, p.ID, "what transport?")
	assert.ErrorIs(t, err, ErrConflict)

	answered, err := s.AnswerQuestion(ctx, p.ID, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, q1.ID, answered.ID)
	assert.Equal(t, "sqlite", answered.Answer)
	require.NotNil(t, answered.AnsweredAt)

	_, err = s.AnswerQuestion(ctx, p.ID, "again")
	assert.ErrorIs(t, err, ErrNoPendingQuestion)

	_, err = s.AddQuestion(ctx, p.ID, "what transport?")
	assert.NoError(t, err)
}

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	for i := 0; i < 3; i++ {
		_, err := s.AppendEvent(ctx, p.ID, 0, "task.status_changed", nil)
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, p.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Cursor pagination.
	events, err = s.ListEvents(ctx, p.ID, events[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	n, err := s.PruneEvents(ctx, p.ID, events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCheckpointNamesUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)

	_, err := s.CreateCheckpointRow(ctx, p.ID, "before-auth", "", "abc123")
	require.NoError(t, err)
	_, err = s.CreateCheckpointRow(ctx, p.ID, "before-auth", "", "def456")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestProjectMetricsAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	agent, err := s.CreateAgent(ctx, p.ID, models.RoleBackend)
	require.NoError(t, err)

	_, err = s.RecordCost(ctx, models.CostRecord{
		ProjectID: p.ID, AgentID: agent.ID, Model: "gpt-main",
		TokensIn: 1000, TokensOut: 200, Cents: 12,
	})
	require.NoError(t, err)
	_, err = s.RecordCost(ctx, models.CostRecord{
		ProjectID: p.ID, Model: "gpt-mini", TokensIn: 500, TokensOut: 100, Cents: 3,
	})
	require.NoError(t, err)

	m, err := s.GetProjectMetrics(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(15), m.CostTotalCents)
	assert.Equal(t, int64(1500), m.TokensIn)
	assert.Equal(t, int64(300), m.TokensOut)
	assert.Equal(t, int64(12), m.ByAgent[agent.ID])
	assert.Equal(t, int64(3), m.ByModel["gpt-mini"])
	require.Len(t, m.Trend, 1)
	assert.Equal(t, int64(15), m.Trend[0].Cents)
}

func TestChangeNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newTestProject(t, s)
	tasks, err := s.CreateTasks(ctx, p.ID, []NewTask{{TaskNumber: "1", Title: "t"}})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[0].ID, models.TaskStatusPending, models.TaskStatusReady, TransitionOpts{}))

	var change Change
	for c := range s.Changes() {
		if c.Kind == ChangeTaskStatus {
			change = c
			break
		}
	}
	assert.Equal(t, p.ID, change.ProjectID)
	assert.Equal(t, tasks[0].ID, change.TaskID)
	assert.Equal(t, string(models.TaskStatusReady), change.To)
}
