package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// Env is the execution context handed to a worker for one task.
type Env struct {
	ProjectName   string
	WorkspacePath string
	PRD           string
	// Comments carries operator guidance (e.g. unblock instructions).
	Comments []string
	// Locker, when set, is held while artifacts land so snapshot and
	// restore never see a half-written tree.
	Locker sync.Locker
}

// Result is a finished task execution.
type Result struct {
	Summary   string
	Artifacts []string
	Model     string
	TokensIn  int64
	TokensOut int64
}

// Worker executes tasks of one role against a workspace.
type Worker interface {
	Role() models.Role
	Execute(ctx context.Context, task *models.Task, env Env) (*Result, error)
}

// ErrNeedsHuman marks an execution the agent refused to finish without
// operator input. The coordinator parks the task as blocked.
type ErrNeedsHuman struct {
	Reason string
}

func (e *ErrNeedsHuman) Error() string {
	return "needs human input: " + e.Reason
}

// ExecError classifies a failed execution for the retry policy.
type ExecError struct {
	Retryable bool
	Err       error
}

func (e *ExecError) Error() string {
	return e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed execution may be re-queued. Provider
// auth failures and artifact write failures are permanent.
func IsRetryable(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	var ne *ErrNeedsHuman
	if errors.As(err, &ne) {
		return false
	}
	return true
}

// worker is the shared implementation; roles differ only in their prompts.
type worker struct {
	role     models.Role
	provider llm.CompletionProvider
	model    string
}

func (w *worker) Role() models.Role {
	return w.role
}

// response is the structured reply expected from the model.
type response struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Summary string `json:"summary"`
	Files   []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files,omitempty"`
}

func (w *worker) Execute(ctx context.Context, task *models.Task, env Env) (*Result, error) {
	req := llm.Request{
		Model:  w.model,
		System: systemPrompt(w.role),
		Prompt: taskPrompt(task, env),
	}

	res, err := w.provider.Complete(ctx, req)
	if err != nil {
		retryable := llm.IsRetryable(err) && llm.KindOf(err) != llm.ErrKindAuth
		return nil, &ExecError{Retryable: retryable, Err: fmt.Errorf("completion failed: %w", err)}
	}

	parsed, err := parseResponse(res.Text)
	if err != nil {
		// Malformed output is worth another attempt with a fresh completion.
		return nil, &ExecError{Retryable: true, Err: err}
	}
	if parsed.Status == "needs_human" {
		return nil, &ErrNeedsHuman{Reason: parsed.Reason}
	}

	files := make(map[string]string, len(parsed.Files))
	for _, f := range parsed.Files {
		files[f.Path] = f.Content
	}
	if env.Locker != nil {
		env.Locker.Lock()
	}
	artifacts, err := writeArtifacts(env.WorkspacePath, files)
	if env.Locker != nil {
		env.Locker.Unlock()
	}
	if err != nil {
		// A partially written workspace must not be retried blindly.
		return nil, &ExecError{Retryable: false, Err: err}
	}

	slog.Info("Task execution finished",
		"task", task.TaskNumber, "role", w.role,
		"artifacts", len(artifacts), "tokens_in", res.TokensIn, "tokens_out", res.TokensOut)

	return &Result{
		Summary:   parsed.Summary,
		Artifacts: artifacts,
		Model:     res.Model,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
	}, nil
}

// parseResponse decodes the model reply, tolerating a fenced code block
// around the JSON.
func parseResponse(text string) (*response, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var resp response
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse agent response: %w", err)
	}
	if resp.Status == "" {
		resp.Status = "ok"
	}
	return &resp, nil
}
