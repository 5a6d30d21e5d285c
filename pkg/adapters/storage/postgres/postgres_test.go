package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrations(t *testing.T) {
	all := migrations()

	migration, exists := all[1]
	require.True(t, exists)
	assert.Contains(t, migration, "CREATE TABLE workflow_definitions")
	assert.Contains(t, migration, "CREATE TABLE workflow_executions")
	assert.Contains(t, migration, "UNIQUE (name, version)")
}

func TestNewPersistence_InvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	persistence, err := NewPersistence(ctx, "postgres://127.0.0.1:1/none?sslmode=disable&connect_timeout=1", zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, persistence)
}

// setupTestDB connects to UNITE_TEST_DATABASE_URL and starts from empty tables
func setupTestDB(t *testing.T) *Persistence {
	t.Helper()

	databaseURL := os.Getenv("UNITE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("UNITE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	for _, table := range []string{"workflow_executions", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	persistence, err := NewPersistence(ctx, databaseURL, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = persistence.Close() })
	return persistence
}

func TestExecutionStorage(t *testing.T) {
	persistence := setupTestDB(t)
	store := persistence.Executions()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := &domain.Execution{
		ID:             uuid.NewString(),
		DefinitionID:   "d1",
		CaseID:         "case-1",
		Status:         domain.ExecutionStatusRunning,
		InputVariables: domain.Variables{"name": "x"},
		StartedAt:      base,
		UpdatedAt:      base,
	}
	second := &domain.Execution{
		ID:             uuid.NewString(),
		DefinitionID:   "d2",
		CaseID:         "case-2",
		Status:         domain.ExecutionStatusPending,
		InputVariables: domain.Variables{},
		StartedAt:      base.Add(time.Second),
		UpdatedAt:      base.Add(time.Second),
	}
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))
	assert.Error(t, store.Create(ctx, first))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.InputVariables["name"])
	assert.Nil(t, got.OutputVariables)
	assert.Nil(t, got.CompletedAt)

	completedAt := base.Add(2 * time.Second)
	done := got.Clone()
	done.Status = domain.ExecutionStatusCompleted
	done.OutputVariables = domain.Variables{"result": "ok"}
	done.UpdatedAt = completedAt
	done.CompletedAt = &completedAt
	require.NoError(t, store.CompareAndSwap(ctx, domain.ExecutionStatusRunning, done))

	err = store.CompareAndSwap(ctx, domain.ExecutionStatusRunning, done)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	got, err = store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, "ok", got.OutputVariables["result"])
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completedAt.Equal(*got.CompletedAt))

	all, err := store.List(ctx, domain.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	filtered, err := store.List(ctx, domain.ExecutionFilter{DefinitionID: "d2", Status: domain.ExecutionStatusPending})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, second.ID, filtered[0].ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestDefinitionStorage(t *testing.T) {
	persistence := setupTestDB(t)
	store := persistence.Definitions()
	ctx := context.Background()
	now := time.Now().UTC()

	definition := &domain.Definition{
		ID:        uuid.NewString(),
		Name:      "Onboarding",
		Version:   "1.0",
		Payload:   []byte(`{"steps": [{"name": "a"}]}`),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, definition))

	duplicate := definition.Clone()
	duplicate.ID = uuid.NewString()
	assert.ErrorIs(t, store.Create(ctx, duplicate), domain.ErrDuplicateDefinition)

	got, err := store.Get(ctx, definition.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[{"name":"a"}]}`, string(got.Payload))

	updated, err := store.SetActive(ctx, definition.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	active, err := store.List(ctx, domain.DefinitionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	search, err := store.List(ctx, domain.DefinitionFilter{Search: "BOARD"})
	require.NoError(t, err)
	assert.Len(t, search, 1)

	revised := got.Clone()
	revised.Version = "1.1"
	revised.Description = "revised"
	revised.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.Update(ctx, revised))
	got, err = store.Get(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.1", got.Version)
	assert.Equal(t, "revised", got.Description)

	other := definition.Clone()
	other.ID = uuid.NewString()
	other.Version = "3.0"
	require.NoError(t, store.Create(ctx, other))
	clash := got.Clone()
	clash.Version = "3.0"
	assert.ErrorIs(t, store.Update(ctx, clash), domain.ErrDuplicateDefinition)
	require.NoError(t, store.Delete(ctx, other.ID))

	require.NoError(t, store.Delete(ctx, definition.ID))
	assert.ErrorIs(t, store.Delete(ctx, definition.ID), domain.ErrDefinitionNotFound)
	_, err = store.SetActive(ctx, definition.ID, true)
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
}
