package statemachine

import (
	"testing"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []domain.ExecutionStatus{
	domain.ExecutionStatusPending,
	domain.ExecutionStatusRunning,
	domain.ExecutionStatusCompleted,
	domain.ExecutionStatusFailed,
	domain.ExecutionStatusCancelled,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]domain.ExecutionStatus]bool{
		{domain.ExecutionStatusPending, domain.ExecutionStatusRunning}:   true,
		{domain.ExecutionStatusPending, domain.ExecutionStatusCancelled}: true,
		{domain.ExecutionStatusRunning, domain.ExecutionStatusCompleted}: true,
		{domain.ExecutionStatusRunning, domain.ExecutionStatusFailed}:    true,
		{domain.ExecutionStatusRunning, domain.ExecutionStatusCancelled}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, allowed[[2]domain.ExecutionStatus{from, to}], CanTransition(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestTransition_StampsCompletedAtOnlyForTerminal(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := NewExecution("e1", "d1", "c1", nil, start)

	assert.Equal(t, domain.ExecutionStatusPending, exec.Status)
	assert.NotNil(t, exec.InputVariables)
	assert.Nil(t, exec.CompletedAt)

	running := start.Add(time.Second)
	require.NoError(t, Transition(exec, domain.ExecutionStatusRunning, running))
	assert.Equal(t, running, exec.UpdatedAt)
	assert.Nil(t, exec.CompletedAt)

	done := start.Add(2 * time.Second)
	require.NoError(t, Transition(exec, domain.ExecutionStatusCompleted, done))
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, done, *exec.CompletedAt)
	assert.Equal(t, start, exec.StartedAt)
}

func TestTransition_RejectsFromTerminal(t *testing.T) {
	for _, terminal := range []domain.ExecutionStatus{
		domain.ExecutionStatusCompleted,
		domain.ExecutionStatusFailed,
		domain.ExecutionStatusCancelled,
	} {
		completedAt := time.Now()
		exec := &domain.Execution{ID: "e", Status: terminal, CompletedAt: &completedAt}
		before := *exec

		for _, target := range allStatuses {
			err := Transition(exec, target, time.Now())
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		}
		assert.Equal(t, before, *exec)
	}
}

func TestTransition_NilExecution(t *testing.T) {
	assert.ErrorIs(t, Transition(nil, domain.ExecutionStatusRunning, time.Now()), domain.ErrInvalidTransition)
}
