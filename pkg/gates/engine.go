// Package gates runs the post-task quality checks: the command gates
// (tests, coverage, type check, lint) and the LLM review gate, in fixed
// order. A critical finding stops the run; remaining gates are skipped.
package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/metrics"
	"github.com/codeframe-dev/codeframe/pkg/models"
	"github.com/codeframe-dev/codeframe/pkg/workspace"
)

// Config holds the per-gate check commands, as argv slices run in the
// workspace root. An empty command disables its gate (reported as skipped).
type Config struct {
	TestCommand      []string
	CoverageCommand  []string
	TypeCheckCommand []string
	LintCommand      []string
}

// Result is the outcome of one gate.
type Result struct {
	Gate     models.Gate             `json:"gate"`
	Outcome  models.GateOutcome      `json:"outcome"`
	Findings []models.QualityFinding `json:"findings,omitempty"`
}

// Report aggregates one full gate run for a task.
type Report struct {
	Results []Result          `json:"results"`
	Status  models.GateStatus `json:"status"`
}

// Findings flattens all findings across gates.
func (r *Report) Findings() []models.QualityFinding {
	var all []models.QualityFinding
	for _, res := range r.Results {
		all = append(all, res.Findings...)
	}
	return all
}

// Engine executes the gate sequence.
type Engine struct {
	cfg      Config
	provider llm.CompletionProvider
	model    string
}

// NewEngine creates an Engine. provider may be nil, which disables the
// review gate.
func NewEngine(cfg Config, provider llm.CompletionProvider, model string) *Engine {
	return &Engine{cfg: cfg, provider: provider, model: model}
}

// Run executes the gates in order against the task's artifacts. The overall
// status is passed only if no gate failed; disabled gates do not count
// against the task.
func (e *Engine) Run(ctx context.Context, ws *workspace.Workspace, task *models.Task) *Report {
	report := &Report{Status: models.GateStatusPassed}
	critical := false

	for _, gate := range models.GateOrder {
		if critical {
			report.Results = append(report.Results, Result{Gate: gate, Outcome: models.GateOutcomeSkipped})
			continue
		}

		res := e.runGate(ctx, gate, ws, task)
		report.Results = append(report.Results, res)

		if res.Outcome == models.GateOutcomeFailed {
			report.Status = models.GateStatusFailed
			metrics.GateFailures.WithLabelValues(string(gate)).Inc()
		}
		for _, f := range res.Findings {
			if f.Severity == models.SeverityCritical {
				critical = true
			}
		}
	}
	return report
}

func (e *Engine) runGate(ctx context.Context, gate models.Gate, ws *workspace.Workspace, task *models.Task) Result {
	switch gate {
	case models.GateTests:
		return e.runCommand(ctx, gate, ws, e.cfg.TestCommand, task.ID)
	case models.GateCoverage:
		return e.runCommand(ctx, gate, ws, e.cfg.CoverageCommand, task.ID)
	case models.GateTypeCheck:
		return e.runCommand(ctx, gate, ws, e.cfg.TypeCheckCommand, task.ID)
	case models.GateLint:
		return e.runCommand(ctx, gate, ws, e.cfg.LintCommand, task.ID)
	case models.GateReview:
		return e.runReview(ctx, ws, task)
	}
	return Result{Gate: gate, Outcome: models.GateOutcomeSkipped}
}

// runCommand executes one check command in the workspace. Exit zero passes;
// anything else fails with the tail of the output as the finding.
func (e *Engine) runCommand(ctx context.Context, gate models.Gate, ws *workspace.Workspace, argv []string, taskID int64) Result {
	if len(argv) == 0 {
		return Result{Gate: gate, Outcome: models.GateOutcomeSkipped}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = ws.Dir()
	out, err := cmd.CombinedOutput()
	if err == nil {
		return Result{Gate: gate, Outcome: models.GateOutcomePassed}
	}

	slog.Info("Gate command failed", "gate", gate, "command", argv[0], "error", err)
	return Result{
		Gate:    gate,
		Outcome: models.GateOutcomeFailed,
		Findings: []models.QualityFinding{{
			TaskID:   taskID,
			Gate:     gate,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("%s failed: %s", argv[0], tail(string(out), 500)),
		}},
	}
}

// reviewFinding is the JSON shape expected from the review model.
type reviewFinding struct {
	Severity       string `json:"severity"`
	File           string `json:"file,omitempty"`
	Line           int    `json:"line,omitempty"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation,omitempty"`
}

const reviewSystemPrompt = `You are a strict code reviewer. Review the changed files for
correctness bugs, missing error handling, and security problems.
Respond with a JSON array of findings:
[{"severity": "critical|high|medium|low|info", "file": "path", "line": 0,
  "message": "...", "recommendation": "..."}]
Use "critical" only for defects that corrupt data, break the build, or open
a security hole. An empty array means the change is acceptable.`

func (e *Engine) runReview(ctx context.Context, ws *workspace.Workspace, task *models.Task) Result {
	if e.provider == nil {
		return Result{Gate: models.GateReview, Outcome: models.GateOutcomeSkipped}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", task.TaskNumber, task.Title)
	for _, path := range task.Artifacts {
		content, err := os.ReadFile(filepath.Join(ws.Dir(), path))
		if err != nil {
			continue // deleted or moved since execution
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", path, tail(string(content), 20_000))
	}
	if b.Len() == 0 {
		return Result{Gate: models.GateReview, Outcome: models.GateOutcomeSkipped}
	}

	res, err := e.provider.Complete(ctx, llm.Request{
		Model:  e.model,
		System: reviewSystemPrompt,
		Prompt: b.String(),
	})
	if err != nil {
		// A review that cannot run must not pass the task silently.
		return Result{
			Gate:    models.GateReview,
			Outcome: models.GateOutcomeFailed,
			Findings: []models.QualityFinding{{
				TaskID:   task.ID,
				Gate:     models.GateReview,
				Severity: models.SeverityHigh,
				Message:  "review could not be completed: " + err.Error(),
			}},
		}
	}

	findings, err := parseReview(res.Text)
	if err != nil {
		slog.Warn("Unparseable review response, treating as pass with note", "task", task.TaskNumber, "error", err)
		return Result{Gate: models.GateReview, Outcome: models.GateOutcomePassed}
	}

	result := Result{Gate: models.GateReview, Outcome: models.GateOutcomePassed}
	for _, f := range findings {
		sev := models.Severity(f.Severity)
		switch sev {
		case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInfo:
		default:
			sev = models.SeverityMedium
		}
		result.Findings = append(result.Findings, models.QualityFinding{
			TaskID:         task.ID,
			Gate:           models.GateReview,
			Severity:       sev,
			File:           f.File,
			Line:           f.Line,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
		if sev == models.SeverityCritical || sev == models.SeverityHigh {
			result.Outcome = models.GateOutcomeFailed
		}
	}
	return result
}

func parseReview(text string) ([]reviewFinding, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var findings []reviewFinding
	if err := json.Unmarshal([]byte(trimmed), &findings); err != nil {
		return nil, fmt.Errorf("failed to parse review response: %w", err)
	}
	return findings, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
