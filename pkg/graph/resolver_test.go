package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

func task(id int64, number string, status models.TaskStatus, deps ...int64) *models.Task {
	return &models.Task{ID: id, TaskNumber: number, Status: status, DependsOn: deps}
}

func TestValidateAcyclic(t *testing.T) {
	assert.NoError(t, ValidateAcyclic(map[string][]string{
		"1": nil,
		"2": {"1"},
		"3": {"1", "2"},
	}))

	err := ValidateAcyclic(map[string][]string{
		"1": {"3"},
		"2": {"1"},
		"3": {"2"},
	})
	require.Error(t, err)
	var cycle *ErrCycle
	assert.ErrorAs(t, err, &cycle)

	// Self-dependency is the smallest cycle.
	err = ValidateAcyclic(map[string][]string{"1": {"1"}})
	assert.Error(t, err)
}

func TestReadySetOrdering(t *testing.T) {
	tasks := []*models.Task{
		task(3, "10", models.TaskStatusPending),
		task(1, "2", models.TaskStatusPending),
		task(2, "1", models.TaskStatusPending),
	}
	ready := ReadySet(tasks)
	require.Len(t, ready, 3)
	assert.Equal(t, []string{"1", "2", "10"}, []string{ready[0].TaskNumber, ready[1].TaskNumber, ready[2].TaskNumber})
}

func TestReadySetDependencies(t *testing.T) {
	tasks := []*models.Task{
		task(1, "1", models.TaskStatusCompleted),
		task(2, "2", models.TaskStatusExcluded),
		task(3, "3", models.TaskStatusPending, 1, 2), // both deps satisfied
		task(4, "4", models.TaskStatusPending, 5),
		task(5, "5", models.TaskStatusInProgress),
	}

	ready := ReadySet(tasks)
	require.Len(t, ready, 1)
	assert.Equal(t, "3", ready[0].TaskNumber)

	waiting := WaitingSet(tasks)
	require.Len(t, waiting, 1)
	assert.Equal(t, "4", waiting[0].TaskNumber)
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete([]*models.Task{
		task(1, "1", models.TaskStatusCompleted),
		task(2, "2", models.TaskStatusFailed),
		task(3, "3", models.TaskStatusExcluded),
	}))
	assert.False(t, IsComplete([]*models.Task{
		task(1, "1", models.TaskStatusCompleted),
		task(2, "2", models.TaskStatusBlocked),
	}))
	assert.True(t, IsComplete(nil))
}

func TestDeadlockReason(t *testing.T) {
	// Progress possible: no deadlock.
	assert.Empty(t, DeadlockReason([]*models.Task{
		task(1, "1", models.TaskStatusInProgress),
		task(2, "2", models.TaskStatusPending, 1),
	}))

	// Dependent of a failed task can never become ready.
	reason := DeadlockReason([]*models.Task{
		task(1, "1", models.TaskStatusFailed),
		task(2, "2", models.TaskStatusPending, 1),
	})
	assert.Contains(t, reason, "2")

	// Blocked tasks stall the graph but name a different cause.
	reason = DeadlockReason([]*models.Task{
		task(1, "1", models.TaskStatusBlocked),
	})
	assert.Contains(t, reason, "blocked")

	assert.Empty(t, DeadlockReason([]*models.Task{
		task(1, "1", models.TaskStatusCompleted),
	}))
}
