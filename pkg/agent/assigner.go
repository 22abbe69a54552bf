// Package agent implements the worker agents that execute tasks and the
// heuristics that route tasks to agent roles.
package agent

import (
	"fmt"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// roleKeywords is checked in order; the first matching rule wins. Test and
// review outrank the implementation roles so "write tests for the API"
// routes to the test agent, not the backend agent.
var roleKeywords = []struct {
	role     models.Role
	keywords []string
}{
	{models.RoleTest, []string{"test"}},
	{models.RoleReview, []string{"review"}},
	{models.RoleFrontend, []string{"frontend", "ui", "component", "css"}},
	{models.RoleBackend, []string{"api", "endpoint", "database", "schema", "backend"}},
}

// AssignRole picks the executing role for a task and explains the pick. An
// explicit worker role on the task always wins; otherwise the title and
// description are matched against the keyword rules, defaulting to backend.
func AssignRole(task *models.Task) (models.Role, string) {
	if isWorkerRole(task.AssignedRole) {
		return task.AssignedRole, "explicit role on the task"
	}
	text := strings.ToLower(task.Title + " " + task.Description)
	for _, rule := range roleKeywords {
		for _, kw := range rule.keywords {
			if containsWord(text, kw) {
				return rule.role, fmt.Sprintf("matched keyword %q", kw)
			}
		}
	}
	return models.RoleBackend, "no keyword matched, defaulting to backend"
}

// isWorkerRole reports whether r is a role the pool executes. The lead role
// plans but never takes tasks.
func isWorkerRole(r models.Role) bool {
	for _, wr := range models.WorkerRoles {
		if r == wr {
			return true
		}
	}
	return false
}

// containsWord matches kw at a word start so "latest" does not route to the
// test agent while "tests" and "testing" still do.
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		if start == 0 || !isWordChar(text[start-1]) {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
