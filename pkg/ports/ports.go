// Package ports declares the interfaces between the orchestrator core and
// its adapters: stores, the event bus, the step engine and metrics.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/unite/pkg/domain"
)

// ExecutionStore persists execution records. It is the single source of
// truth for execution status.
type ExecutionStore interface {
	// Create stores a new record. The id must not exist yet.
	Create(ctx context.Context, execution *domain.Execution) error
	// Get returns a copy of the record or domain.ErrExecutionNotFound.
	Get(ctx context.Context, id string) (*domain.Execution, error)
	// List returns records matching filter ordered by start time.
	List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error)
	// CompareAndSwap replaces the record only if its stored status still
	// equals expected; otherwise it returns domain.ErrStatusConflict.
	CompareAndSwap(ctx context.Context, expected domain.ExecutionStatus, execution *domain.Execution) error
}

// DefinitionStore persists workflow definitions
type DefinitionStore interface {
	Create(ctx context.Context, definition *domain.Definition) error
	Get(ctx context.Context, id string) (*domain.Definition, error)
	List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.Definition, error)
	// Update replaces every field but ID and CreatedAt
	Update(ctx context.Context, definition *domain.Definition) error
	SetActive(ctx context.Context, id string, active bool) (*domain.Definition, error)
	Delete(ctx context.Context, id string) error
}

// EventBus broadcasts lifecycle events. Delivery is best-effort and
// at-most-once; publishing never blocks on slow subscribers.
type EventBus interface {
	// Publish delivers to the global stream and to the execution's stream.
	Publish(ctx context.Context, event domain.Event) error
	// PublishTo delivers only to the stream of executionID.
	PublishTo(ctx context.Context, executionID string, event domain.Event) error
	// Subscribe returns a stream for executionID, or the global stream when
	// executionID is empty. The first value is a welcome event. The channel
	// is closed once ctx is done.
	Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error)
	Close() error
}

// StepEngine performs the business logic a definition encodes
type StepEngine interface {
	Run(ctx context.Context, definition *domain.Definition, inputs domain.Variables) (domain.Variables, error)
}

// StepEngineFunc adapts a function to StepEngine
type StepEngineFunc func(ctx context.Context, definition *domain.Definition, inputs domain.Variables) (domain.Variables, error)

// Run calls f
func (f StepEngineFunc) Run(ctx context.Context, definition *domain.Definition, inputs domain.Variables) (domain.Variables, error) {
	return f(ctx, definition, inputs)
}

// MetricsCollector records orchestrator metrics
type MetricsCollector interface {
	RecordExecutionStarted(definitionID string)
	RecordExecutionFinished(status string, duration time.Duration)
	SetActiveExecutions(count int)
	RecordEventDropped(topic string)
	RecordSubmissionRejected()
	RecordWorkerPoolStatus(idle, busy, queued int)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordExecutionStarted(string)                 {}
func (NopMetrics) RecordExecutionFinished(string, time.Duration) {}
func (NopMetrics) SetActiveExecutions(int)                       {}
func (NopMetrics) RecordEventDropped(string)                     {}
func (NopMetrics) RecordSubmissionRejected()                     {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)          {}
