// Package graph implements pure dependency-graph computations over a
// project's task set. The resolver never touches storage; callers pass the
// current task snapshot and act on the returned sets.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// ErrCycle reports a cyclic decomposition. The message names one task on
// the cycle.
type ErrCycle struct {
	TaskNumber string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("cyclic dependency involving task %s", e.TaskNumber)
}

// ValidateAcyclic rejects decompositions whose dependency graph has a cycle.
// Dependencies reference sibling tasks by task_number.
func ValidateAcyclic(batch map[string][]string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(batch))

	var visit func(n string) *ErrCycle
	visit = func(n string) *ErrCycle {
		switch state[n] {
		case visiting:
			return &ErrCycle{TaskNumber: n}
		case done:
			return nil
		}
		state[n] = visiting
		for _, dep := range batch[n] {
			if _, ok := batch[dep]; !ok {
				continue // unknown refs are the store's problem
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}

	// Deterministic traversal order keeps the reported task stable.
	numbers := make([]string, 0, len(batch))
	for n := range batch {
		numbers = append(numbers, n)
	}
	sortTaskNumbers(numbers)
	for _, n := range numbers {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

// satisfied reports whether every dependency is in a state that unblocks
// dependents (completed or excluded).
func satisfied(t *models.Task, byID map[int64]*models.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			return false
		}
		if dep.Status != models.TaskStatusCompleted && dep.Status != models.TaskStatusExcluded {
			return false
		}
	}
	return true
}

func index(tasks []*models.Task) map[int64]*models.Task {
	byID := make(map[int64]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

// ReadySet returns the pending tasks whose dependencies are all satisfied,
// ordered by ascending task_number (numeric where possible), then id.
func ReadySet(tasks []*models.Task) []*models.Task {
	byID := index(tasks)
	var ready []*models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusPending && satisfied(t, byID) {
			ready = append(ready, t)
		}
	}
	sortTasks(ready)
	return ready
}

// WaitingSet returns the pending tasks that are not yet ready.
func WaitingSet(tasks []*models.Task) []*models.Task {
	byID := index(tasks)
	var waiting []*models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusPending && !satisfied(t, byID) {
			waiting = append(waiting, t)
		}
	}
	sortTasks(waiting)
	return waiting
}

// IsComplete reports whether every task reached a terminal status.
func IsComplete(tasks []*models.Task) bool {
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// DeadlockReason inspects a stalled graph (nothing ready, nothing running)
// and explains why it cannot make progress. Returns "" when the graph can
// still move or is complete.
func DeadlockReason(tasks []*models.Task) string {
	if IsComplete(tasks) {
		return ""
	}
	byID := index(tasks)
	var running, ready, blocked int
	var stuck []string
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusInProgress:
			running++
		case models.TaskStatusBlocked:
			blocked++
		case models.TaskStatusPending:
			if satisfied(t, byID) {
				ready++
			} else {
				stuck = append(stuck, t.TaskNumber)
			}
		}
	}
	if running > 0 || ready > 0 {
		return ""
	}
	if blocked > 0 {
		return fmt.Sprintf("%d task(s) blocked awaiting human input", blocked)
	}
	sortTaskNumbers(stuck)
	return fmt.Sprintf("tasks %s wait on failed or unreachable dependencies", strings.Join(stuck, ", "))
}

// sortTasks orders by task_number (numeric where both parse), then id.
func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if c := compareTaskNumbers(tasks[i].TaskNumber, tasks[j].TaskNumber); c != 0 {
			return c < 0
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func sortTaskNumbers(numbers []string) {
	sort.Slice(numbers, func(i, j int) bool {
		return compareTaskNumbers(numbers[i], numbers[j]) < 0
	})
}

func compareTaskNumbers(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
