package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

func TestAssignRole(t *testing.T) {
	tests := []struct {
		title string
		want  models.Role
	}{
		{"Write tests for the auth flow", models.RoleTest},
		{"Review the storage layer", models.RoleReview},
		{"Build the settings UI component", models.RoleFrontend},
		{"Add CSS for the dashboard", models.RoleFrontend},
		{"Create the users API endpoint", models.RoleBackend},
		{"Design the database schema", models.RoleBackend},
		{"Update the changelog", models.RoleBackend}, // default
		{"Fetch the latest release notes", models.RoleBackend},
	}
	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			got, _ := AssignRole(&models.Task{Title: tc.title})
			assert.Equal(t, tc.want, got)
		})
	}

	// Test outranks backend when both match.
	got, why := AssignRole(&models.Task{Title: "Write API tests"})
	assert.Equal(t, models.RoleTest, got)
	assert.Equal(t, `matched keyword "test"`, why)

	// An explicit role wins over any keyword.
	got, why = AssignRole(&models.Task{Title: "Write tests", AssignedRole: models.RoleFrontend})
	assert.Equal(t, models.RoleFrontend, got)
	assert.Equal(t, "explicit role on the task", why)

	// Lead plans but never executes; the hint is ignored.
	got, why = AssignRole(&models.Task{Title: "Update the changelog", AssignedRole: models.RoleLead})
	assert.Equal(t, models.RoleBackend, got)
	assert.Equal(t, "no keyword matched, defaulting to backend", why)
}

type fakeProvider struct {
	text string
	err  error
	last llm.Request
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Result{Text: p.text, Model: req.Model, TokensIn: 100, TokensOut: 50}, nil
}

func TestExecuteWritesArtifacts(t *testing.T) {
	ws := t.TempDir()
	p := &fakeProvider{text: "```json\n" + `{
		"summary": "added the handler",
		"files": [
			{"path": "internal/api/handler.go", "content": "package api\n"},
			{"path": "internal/api/handler_test.go", "content": "package api\n"}
		]
	}` + "\n```"}

	w := NewFactory(p, "gpt-main").Worker(models.RoleBackend)
	res, err := w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "Add handler"},
		Env{ProjectName: "demo", WorkspacePath: ws})
	require.NoError(t, err)

	assert.Equal(t, "added the handler", res.Summary)
	assert.Equal(t, []string{"internal/api/handler.go", "internal/api/handler_test.go"}, res.Artifacts)
	assert.Equal(t, int64(100), res.TokensIn)

	content, err := os.ReadFile(filepath.Join(ws, "internal/api/handler.go"))
	require.NoError(t, err)
	assert.Equal(t, "package api\n", string(content))

	// No staging leftovers.
	entries, err := os.ReadDir(ws)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "internal", entries[0].Name())
}

func TestExecuteRejectsEscapingPaths(t *testing.T) {
	ws := t.TempDir()
	p := &fakeProvider{text: `{"summary": "x", "files": [{"path": "../evil.sh", "content": "rm -rf"}]}`}

	w := NewFactory(p, "m").Worker(models.RoleBackend)
	_, err := w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "t"}, Env{WorkspacePath: ws})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))

	_, statErr := os.Stat(filepath.Join(filepath.Dir(ws), "evil.sh"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteNeedsHuman(t *testing.T) {
	p := &fakeProvider{text: `{"status": "needs_human", "reason": "payment provider undecided"}`}
	w := NewFactory(p, "m").Worker(models.RoleBackend)

	_, err := w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "t"}, Env{WorkspacePath: t.TempDir()})
	var nh *ErrNeedsHuman
	require.ErrorAs(t, err, &nh)
	assert.Equal(t, "payment provider undecided", nh.Reason)
	assert.False(t, IsRetryable(err))
}

func TestExecuteClassifiesProviderFailures(t *testing.T) {
	auth := &fakeProvider{err: &llm.Error{Kind: llm.ErrKindAuth, Err: assert.AnError}}
	w := NewFactory(auth, "m").Worker(models.RoleBackend)
	_, err := w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "t"}, Env{WorkspacePath: t.TempDir()})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))

	network := &fakeProvider{err: &llm.Error{Kind: llm.ErrKindNetwork, Err: assert.AnError}}
	w = NewFactory(network, "m").Worker(models.RoleBackend)
	_, err = w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "t"}, Env{WorkspacePath: t.TempDir()})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestExecuteMalformedResponseIsRetryable(t *testing.T) {
	p := &fakeProvider{text: "sorry, I can't format JSON today"}
	w := NewFactory(p, "m").Worker(models.RoleTest)

	_, err := w.Execute(context.Background(), &models.Task{TaskNumber: "1", Title: "t"}, Env{WorkspacePath: t.TempDir()})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestPromptCarriesRetryAndGuidance(t *testing.T) {
	p := &fakeProvider{text: `{"summary": "ok"}`}
	w := NewFactory(p, "m").Worker(models.RoleBackend)

	task := &models.Task{TaskNumber: "3", Title: "t", AttemptCount: 2, MaxAttempts: 3}
	_, err := w.Execute(context.Background(), task,
		Env{WorkspacePath: t.TempDir(), Comments: []string{"use the existing config loader"}})
	require.NoError(t, err)

	assert.Contains(t, p.last.Prompt, "attempt 2 of 3")
	assert.Contains(t, p.last.Prompt, "use the existing config loader")
}
