package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeframe-dev/codeframe/pkg/agent"
	"github.com/codeframe-dev/codeframe/pkg/graph"
	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/metrics"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/store"
)

// pollInterval paces the coordination loop when nothing is in flight.
const pollInterval = 500 * time.Millisecond

// heartbeatInterval paces agent liveness updates during execution.
const heartbeatInterval = 30 * time.Second

// runner is the in-process state of one running session.
type runner struct {
	projectID int64
	sessionID int64
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	completions chan struct{}

	// abandonFailed flips when the session deadline forces the shutdown;
	// cancelled in-flight tasks then fail instead of requeueing.
	abandonFailed atomic.Bool

	mu            sync.Mutex
	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	graceTimer    *time.Timer
}

func newRunner(parent context.Context, projectID, sessionID int64, cancel context.CancelFunc) *runner {
	r := &runner{
		projectID:   projectID,
		sessionID:   sessionID,
		parent:      parent,
		cancel:      cancel,
		done:        make(chan struct{}),
		completions: make(chan struct{}, 64),
	}
	r.mu.Lock()
	r.workerCtx, r.cancelWorkers = context.WithCancel(parent)
	r.mu.Unlock()
	return r
}

func (r *runner) workerContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerCtx
}

// scheduleWorkerCancel lets in-flight workers finish within the grace
// window, then cancels them.
func (r *runner) scheduleWorkerCancel(grace time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	cancel := r.cancelWorkers
	r.graceTimer = time.AfterFunc(grace, cancel)
}

// refreshWorkerCtx arms a fresh worker context after a resume.
func (r *runner) refreshWorkerCtx() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	if r.workerCtx.Err() != nil {
		r.workerCtx, r.cancelWorkers = context.WithCancel(r.parent)
	}
}

func (c *Coordinator) runner(projectID int64) *runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runners[projectID]
}

// startSession creates the session row and launches the coordination loop.
func (c *Coordinator) startSession(ctx context.Context, project *models.Project) (*models.Session, error) {
	sess, err := c.store.CreateSession(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := c.publisher.SessionStarted(ctx, project.ID, sess.ID); err != nil {
		slog.Error("Failed to publish session start", "session_id", sess.ID, "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := newRunner(runCtx, project.ID, sess.ID, cancel)
	c.mu.Lock()
	c.runners[project.ID] = r
	c.mu.Unlock()

	go c.runSession(runCtx, r, project)
	slog.Info("Session started", "project_id", project.ID, "session_id", sess.ID)
	return sess, nil
}

// runSession is the coordination loop: promote ready tasks, dispatch workers
// under the pool cap, and watch for completion, deadlock, stalls, and the
// session deadline.
func (c *Coordinator) runSession(ctx context.Context, r *runner, project *models.Project) {
	defer close(r.done)
	defer func() {
		c.mu.Lock()
		if c.runners[project.ID] == r {
			delete(c.runners, project.ID)
		}
		c.mu.Unlock()
	}()

	deadline := time.NewTimer(c.cfg.SessionTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	inflight := 0
	progressed := false

	for {
		sess, err := c.store.GetSession(ctx, r.sessionID)
		if err != nil {
			slog.Error("Failed to load session, aborting loop", "session_id", r.sessionID, "error", err)
			// Persistence failures are fatal to the session; best effort.
			c.finishSession(r, project, models.SessionStatusFailed, "persistence failure: "+err.Error(), "")
			return
		}
		if sess.Status.IsTerminal() {
			c.drainInflight(r, &inflight)
			return
		}

		if sess.Status == models.SessionStatusActive {
			tasks, err := c.store.ListTasks(ctx, project.ID, store.TaskFilter{})
			if err != nil {
				slog.Error("Failed to list tasks", "project_id", project.ID, "error", err)
			} else {
				progressed = c.promoteReady(ctx, tasks) || progressed

				if inflight == 0 && graph.IsComplete(tasks) {
					c.finishSession(r, project, models.SessionStatusCompleted, "", nextPhase(tasks))
					return
				}
				if reason := graph.DeadlockReason(tasks); reason != "" && inflight == 0 {
					if blockedCount(tasks) > 0 {
						// Blocked tasks wait for an operator; the watchdog
						// bounds how long.
					} else {
						c.finishSession(r, project, models.SessionStatusFailed, reason, "")
						return
					}
				}

				launched := c.dispatch(ctx, r, project, sess, tasks, &inflight)
				progressed = progressed || launched
			}

			watchdog, err := c.store.TouchSessionIteration(ctx, r.sessionID, progressed)
			if err != nil {
				slog.Error("Failed to touch session iteration", "session_id", r.sessionID, "error", err)
			} else if watchdog > c.cfg.WatchdogMaxIterations {
				slog.Error("Watchdog tripped, emergency shutdown",
					"session_id", r.sessionID, "iterations", watchdog)
				r.scheduleWorkerCancel(0)
				c.finishSession(r, project, models.SessionStatusFailed,
					fmt.Sprintf("watchdog: %d iterations without progress", watchdog), "")
				c.drainInflight(r, &inflight)
				return
			}
			progressed = false
		}

		select {
		case <-ctx.Done():
			c.markStoppedOnShutdown(r)
			return
		case <-deadline.C:
			slog.Error("Session deadline exceeded, emergency shutdown", "session_id", r.sessionID)
			r.abandonFailed.Store(true)
			r.scheduleWorkerCancel(0)
			c.finishSession(r, project, models.SessionStatusFailed, "session timeout exceeded", "")
			c.drainInflight(r, &inflight)
			return
		case <-r.completions:
			inflight--
			progressed = true
		case <-ticker.C:
		}
	}
}

// promoteReady moves pending tasks with satisfied dependencies to ready.
func (c *Coordinator) promoteReady(ctx context.Context, tasks []*models.Task) bool {
	promoted := false
	for _, t := range graph.ReadySet(tasks) {
		err := c.store.UpdateTaskStatus(ctx, t.ID, models.TaskStatusPending, models.TaskStatusReady, store.TransitionOpts{})
		if err == nil {
			t.Status = models.TaskStatusReady
			promoted = true
		} else if !errors.Is(err, store.ErrNotApplied) {
			slog.Error("Failed to promote task", "task_id", t.ID, "error", err)
		}
	}
	return promoted
}

// dispatch claims ready tasks and hands them to workers while pool capacity
// lasts. Returns whether anything was launched.
func (c *Coordinator) dispatch(ctx context.Context, r *runner, project *models.Project, sess *models.Session, tasks []*models.Task, inflight *int) bool {
	launched := false
	for _, t := range tasks {
		if t.Status != models.TaskStatusReady {
			continue
		}
		if c.pool.Health().InUse >= c.pool.Health().Capacity {
			break
		}

		role, why := agent.AssignRole(t)
		agt, err := c.pool.Acquire(ctx, project.ID, role)
		if err != nil {
			slog.Error("Failed to acquire agent", "role", role, "error", err)
			break
		}
		claimed, err := c.store.ClaimReadyTask(ctx, project.ID, agt.ID)
		if err != nil {
			c.pool.Release(ctx, agt, false)
			if !errors.Is(err, store.ErrNoReadyTasks) {
				slog.Error("Failed to claim task", "project_id", project.ID, "error", err)
			}
			break
		}
		if err := c.pool.MarkBusy(ctx, agt, claimed.ID); err != nil {
			slog.Error("Failed to mark agent busy", "agent_id", agt.ID, "error", err)
		}
		if _, err := c.store.AddTaskComment(ctx, claimed.ID, "system", "assigned to "+string(role)+": "+why); err != nil {
			slog.Error("Failed to record assignment", "task_id", claimed.ID, "error", err)
		}

		*inflight++
		launched = true
		go c.superviseTask(r, project, sess, agt, claimed)
	}
	return launched
}

// superviseTask runs one task execution end to end: worker call, cost
// accounting, quality gates, and the resulting status transition.
func (c *Coordinator) superviseTask(r *runner, project *models.Project, sess *models.Session, agt *models.Agent, task *models.Task) {
	defer func() { r.completions <- struct{}{} }()

	ctx := r.workerContext()
	execCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	stopBeat := c.startHeartbeat(agt.ID)
	defer stopBeat()

	// Status writes survive worker cancellation.
	bg := context.Background()

	env, err := c.buildEnv(bg, project, task)
	if err != nil {
		slog.Error("Failed to build task environment", "task_id", task.ID, "error", err)
		c.failOrRetry(bg, agt, task, true, "")
		return
	}

	worker := c.factory.Worker(agt.Role)
	result, execErr := worker.Execute(execCtx, task, env)

	switch {
	case execErr == nil:
		c.recordCost(bg, project.ID, sess.ID, agt.ID, task.ID, &llm.Result{
			Model: result.Model, TokensIn: result.TokensIn, TokensOut: result.TokensOut,
		})
		c.runGates(bg, r, project, sess, agt, task, result)

	case isNeedsHuman(execErr):
		var nh *agent.ErrNeedsHuman
		errors.As(execErr, &nh)
		if _, err := c.store.AddTaskComment(bg, task.ID, "agent", nh.Reason); err != nil {
			slog.Error("Failed to record block reason", "task_id", task.ID, "error", err)
		}
		if err := c.store.UpdateTaskStatus(bg, task.ID, models.TaskStatusInProgress, models.TaskStatusBlocked,
			store.TransitionOpts{ClearAgent: true}); err != nil {
			slog.Error("Failed to block task", "task_id", task.ID, "error", err)
		}
		c.pool.Release(bg, agt, false)

	case execCtx.Err() != nil && ctx.Err() != nil:
		if r.abandonFailed.Load() {
			// The session deadline forced the shutdown; the task fails with it.
			if _, err := c.store.AddTaskComment(bg, task.ID, "system", "session timeout exceeded"); err != nil {
				slog.Error("Failed to record timeout comment", "task_id", task.ID, "error", err)
			}
			if err := c.store.UpdateTaskStatus(bg, task.ID, models.TaskStatusInProgress, models.TaskStatusFailed,
				store.TransitionOpts{ClearAgent: true}); err != nil {
				slog.Error("Failed to fail abandoned task", "task_id", task.ID, "error", err)
			}
			c.pool.Release(bg, agt, false)
			return
		}
		// Pause or stop cancelled the worker: the attempt is void, the task
		// goes back in line.
		if err := c.store.UpdateTaskStatus(bg, task.ID, models.TaskStatusInProgress, models.TaskStatusReady,
			store.TransitionOpts{ClearAgent: true}); err != nil {
			slog.Error("Failed to requeue cancelled task", "task_id", task.ID, "error", err)
		}
		c.pool.Release(bg, agt, false)

	default:
		slog.Error("Task execution failed",
			"task", task.TaskNumber, "attempt", task.AttemptCount, "error", execErr)
		c.failOrRetry(bg, agt, task, agent.IsRetryable(execErr), "")
	}
}

// runGates executes the quality gates and settles the task.
func (c *Coordinator) runGates(ctx context.Context, r *runner, project *models.Project, sess *models.Session, agt *models.Agent, task *models.Task, result *agent.Result) {
	gateCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	task.Artifacts = result.Artifacts
	report := c.gates.Run(gateCtx, c.Workspace(project), task)

	if err := c.store.SaveFindings(ctx, task.ID, report.Findings()); err != nil {
		slog.Error("Failed to save findings", "task_id", task.ID, "error", err)
	}
	for _, res := range report.Results {
		if res.Outcome == models.GateOutcomeSkipped {
			continue
		}
		critical := false
		for _, f := range res.Findings {
			if f.Severity == models.SeverityCritical {
				critical = true
			}
		}
		if err := c.publisher.GateResult(ctx, project.ID, sess.ID, task.ID,
			string(res.Gate), string(res.Outcome), len(res.Findings), critical); err != nil {
			slog.Error("Failed to publish gate result", "task_id", task.ID, "error", err)
		}
	}

	if report.Status == models.GateStatusPassed {
		if err := c.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, models.TaskStatusCompleted,
			store.TransitionOpts{GateStatus: models.GateStatusPassed, SetArtifacts: result.Artifacts, ClearAgent: true}); err != nil {
			slog.Error("Failed to complete task", "task_id", task.ID, "error", err)
		}
		metrics.TasksExecuted.WithLabelValues(string(agt.Role), "completed").Inc()
		c.pool.Release(ctx, agt, false)
		return
	}
	// Gate failures are worth a retry; the next attempt sees the findings.
	c.failOrRetry(ctx, agt, task, true, models.GateStatusFailed)
}

// failOrRetry requeues a failed attempt while the retry budget lasts,
// otherwise fails the task permanently.
func (c *Coordinator) failOrRetry(ctx context.Context, agt *models.Agent, task *models.Task, retryable bool, gate models.GateStatus) {
	opts := store.TransitionOpts{ClearAgent: true}
	if gate != "" {
		opts.GateStatus = gate
	}

	if retryable && task.AttemptCount < task.MaxAttempts {
		if err := c.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, models.TaskStatusReady, opts); err != nil {
			slog.Error("Failed to requeue task", "task_id", task.ID, "error", err)
		}
		metrics.TaskRetries.Inc()
		c.pool.Release(ctx, agt, false)
		return
	}

	if err := c.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, models.TaskStatusFailed, opts); err != nil {
		slog.Error("Failed to fail task", "task_id", task.ID, "error", err)
	}
	metrics.TasksExecuted.WithLabelValues(string(agt.Role), "failed").Inc()
	c.pool.Release(ctx, agt, !retryable)
}

// buildEnv assembles the execution context for one task.
func (c *Coordinator) buildEnv(ctx context.Context, project *models.Project, task *models.Task) (agent.Env, error) {
	state, err := c.store.GetDiscoveryState(ctx, project.ID)
	if err != nil {
		return agent.Env{}, err
	}
	comments, err := c.store.ListTaskComments(ctx, task.ID)
	if err != nil {
		return agent.Env{}, err
	}
	env := agent.Env{
		ProjectName:   project.Name,
		WorkspacePath: project.WorkspacePath,
		PRD:           state.PRDContent,
		Locker:        c.Workspace(project),
	}
	for _, cm := range comments {
		// System comments are bookkeeping, not guidance for the worker.
		if cm.Author == "system" {
			continue
		}
		env.Comments = append(env.Comments, cm.Body)
	}
	return env, nil
}

// startHeartbeat keeps the agent's liveness timestamp fresh during a long
// execution. The returned func stops it.
func (c *Coordinator) startHeartbeat(agentID int64) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.store.TouchAgentHeartbeat(context.Background(), agentID); err != nil {
					slog.Error("Failed to touch heartbeat", "agent_id", agentID, "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

// nextPhase decides where a finished run leaves the project: complete when
// every task landed cleanly, review when anything failed a gate or the task
// itself and an operator should look.
func nextPhase(tasks []*models.Task) models.Phase {
	for _, t := range tasks {
		if t.Status == models.TaskStatusFailed || t.QualityGateStatus == models.GateStatusFailed {
			return models.PhaseReview
		}
	}
	return models.PhaseComplete
}

// finishSession settles the session row and, on success, advances the
// project phase.
func (c *Coordinator) finishSession(r *runner, project *models.Project, to models.SessionStatus, reason string, phase models.Phase) {
	ctx := context.Background()
	for _, from := range []models.SessionStatus{models.SessionStatusActive, models.SessionStatusPaused} {
		err := c.store.UpdateSessionStatus(ctx, r.sessionID, from, to, reason)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrNotApplied) {
			slog.Error("Failed to finish session", "session_id", r.sessionID, "error", err)
			break
		}
	}
	if err := c.publisher.SessionStatus(ctx, project.ID, r.sessionID, "", string(to), reason); err != nil {
		slog.Error("Failed to publish session status", "session_id", r.sessionID, "error", err)
	}

	if to == models.SessionStatusCompleted && phase != "" {
		if err := c.store.UpdateProjectPhase(ctx, project.ID, models.PhaseActive, phase); err != nil {
			slog.Error("Failed to advance project phase", "project_id", project.ID, "phase", phase, "error", err)
		} else if err := c.publisher.PhaseChanged(ctx, project.ID, r.sessionID,
			string(models.PhaseActive), string(phase)); err != nil {
			slog.Error("Failed to publish phase change", "project_id", project.ID, "error", err)
		}
	}
	slog.Info("Session finished", "session_id", r.sessionID, "status", to, "reason", reason)
}

// drainInflight waits for outstanding workers to report back.
func (c *Coordinator) drainInflight(r *runner, inflight *int) {
	for *inflight > 0 {
		<-r.completions
		*inflight--
	}
}

// markStoppedOnShutdown records a server shutdown against a still-running
// session.
func (c *Coordinator) markStoppedOnShutdown(r *runner) {
	ctx := context.Background()
	for _, from := range []models.SessionStatus{models.SessionStatusActive, models.SessionStatusPaused} {
		if err := c.store.UpdateSessionStatus(ctx, r.sessionID, from, models.SessionStatusStopped, "server shutdown"); err == nil {
			return
		}
	}
}

func blockedCount(tasks []*models.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == models.TaskStatusBlocked {
			n++
		}
	}
	return n
}

func isNeedsHuman(err error) bool {
	var nh *agent.ErrNeedsHuman
	return errors.As(err, &nh)
}

// StartSession launches a new execution session for an active project with
// no running session. The usual entry point is Approve; this serves restarts
// after a stop or a server crash.
func (c *Coordinator) StartSession(ctx context.Context, projectID int64) (*models.Session, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Phase != models.PhaseActive {
		return nil, fmt.Errorf("project is in phase %s: %w", project.Phase, store.ErrConflict)
	}
	if _, err := c.store.ActiveSession(ctx, projectID); err == nil {
		return nil, fmt.Errorf("project already has a running session: %w", store.ErrConflict)
	}
	return c.startSession(ctx, project)
}

// PauseSession pauses the active session. In-flight workers get the grace
// window before cancellation; their tasks return to ready.
func (c *Coordinator) PauseSession(ctx context.Context, projectID int64) (*models.Session, error) {
	sess, err := c.store.ActiveSession(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusActive, models.SessionStatusPaused, ""); err != nil {
		if errors.Is(err, store.ErrNotApplied) {
			return nil, fmt.Errorf("session is %s: %w", sess.Status, store.ErrConflict)
		}
		return nil, err
	}
	if err := c.publisher.SessionStatus(ctx, projectID, sess.ID,
		string(models.SessionStatusActive), string(models.SessionStatusPaused), ""); err != nil {
		slog.Error("Failed to publish session status", "session_id", sess.ID, "error", err)
	}
	if r := c.runner(projectID); r != nil {
		r.scheduleWorkerCancel(c.cfg.PauseGrace)
	}
	return c.store.GetSession(ctx, sess.ID)
}

// ResumeSession resumes a paused session.
func (c *Coordinator) ResumeSession(ctx context.Context, projectID int64) (*models.Session, error) {
	sess, err := c.store.ActiveSession(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusPaused, models.SessionStatusActive, ""); err != nil {
		if errors.Is(err, store.ErrNotApplied) {
			return nil, fmt.Errorf("session is %s: %w", sess.Status, store.ErrConflict)
		}
		return nil, err
	}
	if err := c.publisher.SessionStatus(ctx, projectID, sess.ID,
		string(models.SessionStatusPaused), string(models.SessionStatusActive), ""); err != nil {
		slog.Error("Failed to publish session status", "session_id", sess.ID, "error", err)
	}
	if r := c.runner(projectID); r != nil {
		r.refreshWorkerCtx()
	}
	return c.store.GetSession(ctx, sess.ID)
}

// StopSession stops the session permanently. Workers get the grace window.
func (c *Coordinator) StopSession(ctx context.Context, projectID int64, reason string) (*models.Session, error) {
	sess, err := c.store.ActiveSession(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var updErr error
	for _, from := range []models.SessionStatus{models.SessionStatusActive, models.SessionStatusPaused} {
		if updErr = c.store.UpdateSessionStatus(ctx, sess.ID, from, models.SessionStatusStopped, reason); updErr == nil {
			break
		}
	}
	if updErr != nil {
		return nil, fmt.Errorf("session is %s: %w", sess.Status, store.ErrConflict)
	}
	if err := c.publisher.SessionStatus(ctx, projectID, sess.ID,
		string(sess.Status), string(models.SessionStatusStopped), reason); err != nil {
		slog.Error("Failed to publish session status", "session_id", sess.ID, "error", err)
	}
	if r := c.runner(projectID); r != nil {
		r.scheduleWorkerCancel(c.cfg.PauseGrace)
	}
	return c.store.GetSession(ctx, sess.ID)
}

// UnblockTask attaches operator guidance to a blocked task and returns it
// to the queue.
func (c *Coordinator) UnblockTask(ctx context.Context, projectID, taskID int64, guidance string) (*models.Task, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != projectID {
		return nil, store.ErrNotFound
	}
	if guidance != "" {
		if _, err := c.store.AddTaskComment(ctx, taskID, "operator", guidance); err != nil {
			return nil, err
		}
	}
	if err := c.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusBlocked, models.TaskStatusReady, store.TransitionOpts{}); err != nil {
		if errors.Is(err, store.ErrNotApplied) {
			return nil, fmt.Errorf("task is %s, not blocked: %w", task.Status, store.ErrConflict)
		}
		return nil, err
	}
	return c.store.GetTask(ctx, taskID)
}
