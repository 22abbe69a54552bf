package agent

import (
	"fmt"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

const responseContract = `Respond with a single JSON object:
{
  "status": "ok" or "needs_human",
  "reason": "only when status is needs_human: what decision you need",
  "summary": "one paragraph describing what was done",
  "files": [{"path": "relative/path", "content": "full file content"}]
}
Paths are relative to the project root. Always return complete file contents, never diffs.
Use "needs_human" only when the task cannot proceed without an irreversible product decision.`

var rolePrompts = map[models.Role]string{
	models.RoleBackend: `You are a backend engineer. Implement server-side functionality:
data models, storage, business logic, and HTTP APIs. Favor small, tested,
idiomatic code over cleverness.`,

	models.RoleFrontend: `You are a frontend engineer. Implement user-facing functionality:
components, views, styling, and client-side state. Keep markup accessible
and components small.`,

	models.RoleTest: `You are a test engineer. Write thorough automated tests for the
functionality named by the task. Cover the happy path, error paths, and
boundary conditions. Do not modify production code.`,

	models.RoleReview: `You are a code reviewer. Examine the work named by the task and
write a review report as a markdown file under reviews/. Flag correctness
issues, missing error handling, and security problems. Do not modify the
code under review.`,
}

func systemPrompt(role models.Role) string {
	base, ok := rolePrompts[role]
	if !ok {
		base = rolePrompts[models.RoleBackend]
	}
	return base + "\n\n" + responseContract
}

func taskPrompt(task *models.Task, env Env) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\n", env.ProjectName)
	if env.PRD != "" {
		fmt.Fprintf(&b, "Requirements document:\n%s\n\n", env.PRD)
	}
	fmt.Fprintf(&b, "Task %s: %s\n", task.TaskNumber, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if task.AttemptCount > 1 {
		fmt.Fprintf(&b, "\nThis is attempt %d of %d. Previous attempts failed; reconsider the approach.\n",
			task.AttemptCount, task.MaxAttempts)
	}
	if len(env.Comments) > 0 {
		b.WriteString("\nOperator guidance:\n")
		for _, c := range env.Comments {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}
