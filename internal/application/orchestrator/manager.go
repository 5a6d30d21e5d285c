package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/unite/internal/application/statemachine"
	"github.com/aescanero/unite/pkg/domain"
	"github.com/aescanero/unite/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInterrupted is returned by Run when its context is done before the
// execution finishes
var ErrInterrupted = errors.New("execution interrupted")

// Manager coordinates workflow executions
type Manager struct {
	definitions ports.DefinitionStore
	executions  ports.ExecutionStore
	eventBus    ports.EventBus
	engine      ports.StepEngine
	metrics     ports.MetricsCollector
	validator   *Validator
	logger      *zap.Logger

	// Track in-flight executions and their deadlines
	inflight sync.Map // map[string]*executionContext
	pending  sync.Map // map[string]*domain.Definition, prepared but not yet run
	active   atomic.Int64

	executionTimeout time.Duration
	now              func() time.Time
}

// executionContext holds state for a single in-flight execution
type executionContext struct {
	executionID string
	startedAt   time.Time
	deadline    *time.Timer
}

// Option customises a Manager
type Option func(*Manager)

// WithClock overrides the time source used to stamp records
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new orchestrator manager. A zero executionTimeout
// disables execution deadlines.
func NewManager(
	definitions ports.DefinitionStore,
	executions ports.ExecutionStore,
	eventBus ports.EventBus,
	engine ports.StepEngine,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	executionTimeout time.Duration,
	opts ...Option,
) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	m := &Manager{
		definitions:      definitions,
		executions:       executions,
		eventBus:         eventBus,
		engine:           engine,
		metrics:          metrics,
		validator:        validator,
		logger:           logger,
		executionTimeout: executionTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs one execution to completion on the calling goroutine and
// returns its final snapshot.
//
// A step engine failure is persisted as FAILED before the error, which
// matches domain.ErrStepExecutionFailed, is returned together with the
// failed snapshot. The run is detached from ctx cancellation once the
// record exists, so a departed caller never leaves a record half way.
func (m *Manager) Execute(ctx context.Context, req *domain.ExecutionRequest) (*domain.Execution, error) {
	execution, err := m.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.Run(context.WithoutCancel(ctx), execution.ID)
}

// Prepare checks req, persists the PENDING record and announces it with
// WORKFLOW_STARTED. The record can be read and cancelled from then on;
// Run takes it the rest of the way.
func (m *Manager) Prepare(ctx context.Context, req *domain.ExecutionRequest) (*domain.Execution, error) {
	if err := m.validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	definition, err := m.RunnableDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	caseID := req.CaseID
	if caseID == "" {
		caseID = uuid.New().String()
	}
	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	ctx = context.WithoutCancel(ctx)

	execution := statemachine.NewExecution(executionID, definition.ID, caseID, req.InputVariables.Clone(), m.now())
	if err := m.executions.Create(ctx, execution); err != nil {
		m.logger.Error("failed to create execution",
			zap.String("execution_id", executionID),
			zap.String("definition_id", definition.ID),
			zap.Error(err))
		return nil, domain.NewExecutionError("execute", executionID, fmt.Errorf("failed to create execution: %w", err))
	}
	m.pending.Store(executionID, definition)

	m.publish(ctx, execution, domain.EventTypeWorkflowStarted, "Workflow started", nil)
	m.metrics.RecordExecutionStarted(definition.ID)

	m.logger.Info("execution created",
		zap.String("execution_id", executionID),
		zap.String("definition_id", definition.ID),
		zap.String("case_id", caseID))

	return execution, nil
}

// Run moves a prepared execution from PENDING to RUNNING, drives the step
// engine and records the outcome. If the record was cancelled while it
// waited, the RUNNING transition loses and the CANCELLED record is returned
// with an error matching domain.ErrInvalidTransition.
//
// ctx is the interrupt signal. Once it is done the engine is abandoned and
// the record is CANCELLED as interrupted; records are written regardless
// of ctx.
func (m *Manager) Run(ctx context.Context, executionID string) (*domain.Execution, error) {
	storeCtx := context.WithoutCancel(ctx)

	var definition *domain.Definition
	if cached, ok := m.pending.LoadAndDelete(executionID); ok {
		definition = cached.(*domain.Definition)
	}

	if ctx.Err() != nil {
		return m.interrupt(storeCtx, executionID)
	}

	execCtx := m.track(executionID)
	defer m.untrack(execCtx)

	execution, err := m.transition(storeCtx, executionID, domain.ExecutionStatusRunning, nil)
	if err != nil {
		return execution, domain.NewExecutionError("execute", executionID, err)
	}
	m.publish(storeCtx, execution, domain.EventTypeStateChanged, "Workflow running", map[string]interface{}{
		"status": string(domain.ExecutionStatusRunning),
	})

	if definition == nil {
		definition, err = m.definitions.Get(storeCtx, execution.DefinitionID)
		if err != nil {
			return m.fail(storeCtx, execCtx, fmt.Errorf("failed to load definition %s: %w", execution.DefinitionID, err))
		}
	}

	m.publish(storeCtx, execution, domain.EventTypeStepStarted, "Step started", nil)
	outputs, runErr := m.engine.Run(ctx, definition, execution.InputVariables.Clone())
	if runErr != nil {
		if ctx.Err() != nil {
			return m.interrupt(storeCtx, executionID)
		}
		return m.fail(storeCtx, execCtx, runErr)
	}

	return m.complete(storeCtx, execCtx, outputs)
}

// complete records a successful engine run
func (m *Manager) complete(ctx context.Context, execCtx *executionContext, outputs domain.Variables) (*domain.Execution, error) {
	if outputs == nil {
		outputs = domain.Variables{}
	}

	execution, err := m.transition(ctx, execCtx.executionID, domain.ExecutionStatusCompleted, func(e *domain.Execution) {
		e.OutputVariables = outputs
	})
	if err != nil {
		m.logger.Warn("execution finished but completion was not recorded",
			zap.String("execution_id", execCtx.executionID),
			zap.Error(err))
		return execution, domain.NewExecutionError("execute", execCtx.executionID, err)
	}

	m.publish(ctx, execution, domain.EventTypeStepCompleted, "Step completed", map[string]interface{}{
		"outputVariables": map[string]interface{}(execution.OutputVariables.Clone()),
	})
	m.publish(ctx, execution, domain.EventTypeWorkflowCompleted, "Workflow completed", nil)

	duration := time.Since(execCtx.startedAt)
	m.metrics.RecordExecutionFinished(string(domain.ExecutionStatusCompleted), duration)
	m.logger.Info("execution completed",
		zap.String("execution_id", execution.ID),
		zap.Duration("duration", duration))

	return execution, nil
}

// fail persists FAILED with the engine's message, then surfaces the failure
func (m *Manager) fail(ctx context.Context, execCtx *executionContext, runErr error) (*domain.Execution, error) {
	message := runErr.Error()

	execution, err := m.transition(ctx, execCtx.executionID, domain.ExecutionStatusFailed, func(e *domain.Execution) {
		e.ErrorMessage = message
	})
	if err != nil {
		m.logger.Error("failed to record execution failure",
			zap.String("execution_id", execCtx.executionID),
			zap.NamedError("cause", runErr),
			zap.Error(err))
		return execution, domain.NewExecutionError("execute", execCtx.executionID, err)
	}

	data := map[string]interface{}{"error": message}
	m.publish(ctx, execution, domain.EventTypeStepFailed, "Step failed", data)
	m.publish(ctx, execution, domain.EventTypeWorkflowFailed, "Workflow failed", data)

	duration := time.Since(execCtx.startedAt)
	m.metrics.RecordExecutionFinished(string(domain.ExecutionStatusFailed), duration)
	m.logger.Warn("execution failed",
		zap.String("execution_id", execution.ID),
		zap.Duration("duration", duration),
		zap.String("error", message))

	var stepErr *domain.StepExecutionError
	if !errors.As(runErr, &stepErr) {
		stepErr = domain.NewStepExecutionError("", runErr)
	}
	return execution, domain.NewExecutionError("execute", execution.ID, stepErr)
}

// Cancel moves a non-terminal execution to CANCELLED. It does not interrupt
// a step that is already running; the run's own terminal transition will
// then lose the race and leave the record CANCELLED.
func (m *Manager) Cancel(ctx context.Context, executionID string) (*domain.Execution, error) {
	execution, err := m.cancel(ctx, executionID, "Workflow cancelled", nil)
	if err != nil {
		return execution, domain.NewExecutionError("cancel", executionID, err)
	}

	m.logger.Info("execution cancelled", zap.String("execution_id", executionID))
	return execution, nil
}

func (m *Manager) cancel(ctx context.Context, executionID, message string, data map[string]interface{}) (*domain.Execution, error) {
	execution, err := m.transition(ctx, executionID, domain.ExecutionStatusCancelled, nil)
	if err != nil {
		return execution, err
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = string(domain.ExecutionStatusCancelled)
	m.publish(ctx, execution, domain.EventTypeStateChanged, message, data)

	m.metrics.RecordExecutionFinished(string(domain.ExecutionStatusCancelled), execution.CompletedAt.Sub(execution.StartedAt))
	return execution, nil
}

// interrupt cancels an execution whose run was cut short
func (m *Manager) interrupt(ctx context.Context, executionID string) (*domain.Execution, error) {
	execution, err := m.cancel(ctx, executionID, "Workflow interrupted by shutdown", map[string]interface{}{
		"reason": "interrupted",
	})
	if err != nil {
		m.logger.Info("interrupted execution already settled",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return execution, domain.NewExecutionError("execute", executionID, err)
	}

	m.logger.Warn("execution interrupted", zap.String("execution_id", executionID))
	return execution, domain.NewExecutionError("execute", executionID, ErrInterrupted)
}

// Get retrieves an execution by id
func (m *Manager) Get(ctx context.Context, executionID string) (*domain.Execution, error) {
	execution, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, domain.NewExecutionError("get", executionID, err)
	}
	return execution, nil
}

// List returns executions matching filter
func (m *Manager) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, filter.Status)
	}

	executions, err := m.executions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

// RunnableDefinition loads a definition and checks that it may run
func (m *Manager) RunnableDefinition(ctx context.Context, definitionID string) (*domain.Definition, error) {
	definition, err := m.definitions.Get(ctx, definitionID)
	if err != nil {
		if errors.Is(err, domain.ErrDefinitionNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, definitionID)
		}
		return nil, fmt.Errorf("failed to load definition %s: %w", definitionID, err)
	}

	if !definition.Active {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionInactive, definition.Name)
	}

	return definition, nil
}

// transition re-reads the record, applies the state machine and writes it
// back conditioned on the status it was read with. mutate runs after the
// status change and before the write.
func (m *Manager) transition(
	ctx context.Context,
	executionID string,
	target domain.ExecutionStatus,
	mutate func(*domain.Execution),
) (*domain.Execution, error) {
	current, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	prior := current.Status
	if err := statemachine.Transition(current, target, m.now()); err != nil {
		return current, err
	}
	if mutate != nil {
		mutate(current)
	}

	if err := m.executions.CompareAndSwap(ctx, prior, current); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			latest, getErr := m.executions.Get(ctx, executionID)
			if getErr != nil {
				latest = nil
			}
			return latest, fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
		}
		return nil, fmt.Errorf("failed to persist %s status: %w", target, err)
	}

	m.logger.Debug("execution status changed",
		zap.String("execution_id", executionID),
		zap.String("from", string(prior)),
		zap.String("to", string(target)))

	return current, nil
}

// publish emits an event; failures are logged and never propagated
func (m *Manager) publish(ctx context.Context, execution *domain.Execution, eventType domain.EventType, message string, data map[string]interface{}) {
	event := domain.NewExecutionEvent(execution, eventType, message, data)
	if err := m.eventBus.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("execution_id", execution.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// track registers an in-flight execution and arms its deadline
func (m *Manager) track(executionID string) *executionContext {
	execCtx := &executionContext{
		executionID: executionID,
		startedAt:   time.Now(),
	}
	if m.executionTimeout > 0 {
		execCtx.deadline = time.AfterFunc(m.executionTimeout, func() {
			m.handleTimeout(executionID)
		})
	}

	m.inflight.Store(executionID, execCtx)
	m.metrics.SetActiveExecutions(int(m.active.Add(1)))
	return execCtx
}

func (m *Manager) untrack(execCtx *executionContext) {
	if execCtx.deadline != nil {
		execCtx.deadline.Stop()
	}
	m.inflight.Delete(execCtx.executionID)
	m.metrics.SetActiveExecutions(int(m.active.Add(-1)))
}

// handleTimeout attempts the cancel transition once the deadline passes
func (m *Manager) handleTimeout(executionID string) {
	m.logger.Warn("execution timed out",
		zap.String("execution_id", executionID),
		zap.Duration("timeout", m.executionTimeout))

	_, err := m.cancel(context.Background(), executionID, "Workflow timed out", map[string]interface{}{
		"reason":  "timeout",
		"timeout": m.executionTimeout.String(),
	})
	if err != nil {
		m.logger.Info("timed out execution already settled",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
}

// ActiveExecutions returns the number of executions currently in flight
func (m *Manager) ActiveExecutions() int {
	return int(m.active.Load())
}

// Shutdown disarms all execution deadlines and cancels every execution that
// is still prepared or running, so no record is left PENDING or RUNNING
// once the stores are closed
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	var unsettled []string
	m.pending.Range(func(key, _ interface{}) bool {
		unsettled = append(unsettled, key.(string))
		return true
	})
	m.inflight.Range(func(key, value interface{}) bool {
		execCtx := value.(*executionContext)
		if execCtx.deadline != nil {
			execCtx.deadline.Stop()
		}
		unsettled = append(unsettled, key.(string))
		return true
	})

	storeCtx := context.WithoutCancel(ctx)
	interrupted := 0
	for _, executionID := range unsettled {
		m.pending.Delete(executionID)
		if _, err := m.interrupt(storeCtx, executionID); errors.Is(err, ErrInterrupted) {
			interrupted++
		}
	}

	m.logger.Info("orchestrator manager shut down complete",
		zap.Int("in_flight", m.ActiveExecutions()),
		zap.Int("interrupted", interrupted))
	return nil
}
