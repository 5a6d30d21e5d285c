package memory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecution(id, definitionID string, status domain.ExecutionStatus, startedAt time.Time) *domain.Execution {
	return &domain.Execution{
		ID:             id,
		DefinitionID:   definitionID,
		CaseID:         "case-" + id,
		Status:         status,
		InputVariables: domain.Variables{"n": 1},
		StartedAt:      startedAt,
		UpdatedAt:      startedAt,
	}
}

func TestExecutionStorage_CreateGet(t *testing.T) {
	store := NewExecutionStorage()
	ctx := testContext(t)

	exec := newExecution("e1", "d1", domain.ExecutionStatusPending, time.Now())
	require.NoError(t, store.Create(ctx, exec))
	assert.Error(t, store.Create(ctx, exec))

	// Mutating the caller's copy does not leak into the store
	exec.InputVariables["n"] = 2

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.InputVariables["n"])

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestExecutionStorage_CompareAndSwap(t *testing.T) {
	store := NewExecutionStorage()
	ctx := testContext(t)

	require.NoError(t, store.Create(ctx, newExecution("e1", "d1", domain.ExecutionStatusRunning, time.Now())))

	completed := newExecution("e1", "d1", domain.ExecutionStatusCompleted, time.Now())
	cancelled := newExecution("e1", "d1", domain.ExecutionStatusCancelled, time.Now())

	require.NoError(t, store.CompareAndSwap(ctx, domain.ExecutionStatusRunning, completed))
	err := store.CompareAndSwap(ctx, domain.ExecutionStatusRunning, cancelled)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)

	err = store.CompareAndSwap(ctx, domain.ExecutionStatusRunning, newExecution("nope", "d1", domain.ExecutionStatusCompleted, time.Now()))
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestExecutionStorage_List(t *testing.T) {
	store := NewExecutionStorage()
	ctx := testContext(t)
	base := time.Now()

	require.NoError(t, store.Create(ctx, newExecution("b", "d1", domain.ExecutionStatusCompleted, base.Add(time.Second))))
	require.NoError(t, store.Create(ctx, newExecution("a", "d1", domain.ExecutionStatusFailed, base)))
	require.NoError(t, store.Create(ctx, newExecution("c", "d2", domain.ExecutionStatusCompleted, base.Add(2*time.Second))))

	all, err := store.List(ctx, domain.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	byDef, err := store.List(ctx, domain.ExecutionFilter{DefinitionID: "d1"})
	require.NoError(t, err)
	assert.Len(t, byDef, 2)

	both, err := store.List(ctx, domain.ExecutionFilter{DefinitionID: "d1", Status: domain.ExecutionStatusCompleted})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "b", both[0].ID)

	byCase, err := store.List(ctx, domain.ExecutionFilter{CaseID: "case-c"})
	require.NoError(t, err)
	require.Len(t, byCase, 1)
	assert.Equal(t, "c", byCase[0].ID)
}

func TestDefinitionStorage(t *testing.T) {
	store := NewDefinitionStorage()
	ctx := testContext(t)

	def := &domain.Definition{
		ID:        "d1",
		Name:      "Order Flow",
		Version:   "1.0",
		Payload:   json.RawMessage(`{"steps":[]}`),
		Active:    true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, def))

	dup := def.Clone()
	dup.ID = "d2"
	assert.ErrorIs(t, store.Create(ctx, dup), domain.ErrDuplicateDefinition)

	dup.Version = "2.0"
	dup.CreatedAt = def.CreatedAt.Add(time.Second)
	require.NoError(t, store.Create(ctx, dup))

	updated, err := store.SetActive(ctx, "d1", false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	active, err := store.List(ctx, domain.DefinitionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "d2", active[0].ID)

	found, err := store.List(ctx, domain.DefinitionFilter{Search: "ORDER"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	require.NoError(t, store.Delete(ctx, "d1"))
	_, err = store.Get(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "d1"), domain.ErrDefinitionNotFound)
	_, err = store.SetActive(ctx, "d1", true)
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
}

func TestDefinitionStorage_Update(t *testing.T) {
	store := NewDefinitionStorage()
	ctx := testContext(t)
	created := time.Now().Add(-time.Hour)

	for _, def := range []*domain.Definition{
		{ID: "d1", Name: "Order Flow", Version: "1.0", Payload: json.RawMessage(`{}`), CreatedAt: created},
		{ID: "d2", Name: "Order Flow", Version: "2.0", Payload: json.RawMessage(`{}`), CreatedAt: created},
	} {
		require.NoError(t, store.Create(ctx, def))
	}

	change := &domain.Definition{
		ID:          "d1",
		Name:        "Order Flow",
		Version:     "1.1",
		Description: "reworked",
		Payload:     json.RawMessage(`{"steps":[{"name":"a"}]}`),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.Update(ctx, change))

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "1.1", got.Version)
	assert.Equal(t, "reworked", got.Description)
	assert.True(t, got.CreatedAt.Equal(created), "creation time is kept")

	clash := got.Clone()
	clash.Version = "2.0"
	assert.ErrorIs(t, store.Update(ctx, clash), domain.ErrDuplicateDefinition)

	// A definition may keep its own name and version
	assert.NoError(t, store.Update(ctx, got))

	missing := got.Clone()
	missing.ID = "nope"
	assert.ErrorIs(t, store.Update(ctx, missing), domain.ErrDefinitionNotFound)
}
