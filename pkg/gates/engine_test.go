package gates

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/workspace"
)

type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Result{Text: p.text, Model: req.Model}, nil
}

func writeWorkspaceFile(t *testing.T, ws *workspace.Workspace, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), name), []byte(content), 0o644))
}

func outcomes(r *Report) map[models.Gate]models.GateOutcome {
	m := make(map[models.Gate]models.GateOutcome)
	for _, res := range r.Results {
		m[res.Gate] = res.Outcome
	}
	return m
}

func TestAllGatesPass(t *testing.T) {
	e := NewEngine(Config{
		TestCommand:      []string{"true"},
		CoverageCommand:  []string{"true"},
		TypeCheckCommand: []string{"true"},
		LintCommand:      []string{"true"},
	}, nil, "")

	report := e.Run(context.Background(), workspace.New(t.TempDir()), &models.Task{ID: 1, TaskNumber: "1"})
	assert.Equal(t, models.GateStatusPassed, report.Status)

	o := outcomes(report)
	assert.Equal(t, models.GateOutcomePassed, o[models.GateTests])
	// No provider: review is disabled, not failed.
	assert.Equal(t, models.GateOutcomeSkipped, o[models.GateReview])
}

func TestCommandFailureFailsRun(t *testing.T) {
	e := NewEngine(Config{
		TestCommand: []string{"false"},
		LintCommand: []string{"true"},
	}, nil, "")

	report := e.Run(context.Background(), workspace.New(t.TempDir()), &models.Task{ID: 3, TaskNumber: "1"})
	assert.Equal(t, models.GateStatusFailed, report.Status)

	o := outcomes(report)
	assert.Equal(t, models.GateOutcomeFailed, o[models.GateTests])
	// A high (non-critical) failure does not stop later gates.
	assert.Equal(t, models.GateOutcomePassed, o[models.GateLint])

	findings := report.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, models.GateTests, findings[0].Gate)
	assert.Equal(t, models.SeverityHigh, findings[0].Severity)
	assert.Equal(t, int64(3), findings[0].TaskID)
}

func TestUnconfiguredGatesAreSkipped(t *testing.T) {
	e := NewEngine(Config{}, nil, "")
	report := e.Run(context.Background(), workspace.New(t.TempDir()), &models.Task{ID: 1, TaskNumber: "1"})

	assert.Equal(t, models.GateStatusPassed, report.Status)
	for _, res := range report.Results {
		assert.Equal(t, models.GateOutcomeSkipped, res.Outcome)
	}
}

func TestReviewFindingsFailTask(t *testing.T) {
	ws := workspace.New(t.TempDir())
	writeWorkspaceFile(t, ws, "db.go", "package db\n")

	p := &fakeProvider{text: `[
		{"severity": "high", "file": "db.go", "line": 10,
		 "message": "connection never closed", "recommendation": "defer db.Close()"}
	]`}
	e := NewEngine(Config{TestCommand: []string{"true"}}, p, "gpt-main")

	report := e.Run(context.Background(), ws, &models.Task{ID: 5, TaskNumber: "2", Artifacts: []string{"db.go"}})
	assert.Equal(t, models.GateStatusFailed, report.Status)

	o := outcomes(report)
	assert.Equal(t, models.GateOutcomeFailed, o[models.GateReview])
	findings := report.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, "connection never closed", findings[0].Message)
}

func TestCleanReviewPasses(t *testing.T) {
	ws := workspace.New(t.TempDir())
	writeWorkspaceFile(t, ws, "ok.go", "package ok\n")

	e := NewEngine(Config{}, &fakeProvider{text: `[]`}, "gpt-main")
	report := e.Run(context.Background(), ws, &models.Task{ID: 1, TaskNumber: "1", Artifacts: []string{"ok.go"}})

	assert.Equal(t, models.GateStatusPassed, report.Status)
	assert.Equal(t, models.GateOutcomePassed, outcomes(report)[models.GateReview])
}

func TestReviewProviderFailureFailsGate(t *testing.T) {
	ws := workspace.New(t.TempDir())
	writeWorkspaceFile(t, ws, "x.go", "package x\n")

	e := NewEngine(Config{}, &fakeProvider{err: &llm.Error{Kind: llm.ErrKindNetwork, Err: assert.AnError}}, "m")
	report := e.Run(context.Background(), ws, &models.Task{ID: 1, TaskNumber: "1", Artifacts: []string{"x.go"}})

	assert.Equal(t, models.GateStatusFailed, report.Status)
}
