// Package service exposes the orchestrator's logical operations to the
// transport adapters: creating, batching, reading, listing and cancelling
// executions, streaming their events, and managing definitions.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/unite/internal/application/dispatch"
	"github.com/aescanero/unite/internal/application/orchestrator"
	"github.com/aescanero/unite/pkg/domain"
	"github.com/aescanero/unite/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxBatchSize bounds the number of requests accepted in one batch
const MaxBatchSize = 100

// Service implements the externally visible operations
type Service struct {
	manager     *orchestrator.Manager
	dispatcher  *dispatch.Dispatcher
	batch       *dispatch.Batch
	definitions ports.DefinitionStore
	eventBus    ports.EventBus
	validator   *orchestrator.Validator
	logger      *zap.Logger
}

// New creates a new service
func New(
	manager *orchestrator.Manager,
	dispatcher *dispatch.Dispatcher,
	definitions ports.DefinitionStore,
	eventBus ports.EventBus,
	validator *orchestrator.Validator,
	logger *zap.Logger,
) *Service {
	return &Service{
		manager:     manager,
		dispatcher:  dispatcher,
		batch:       dispatch.NewBatch(dispatcher, logger),
		definitions: definitions,
		eventBus:    eventBus,
		validator:   validator,
		logger:      logger,
	}
}

// CreateExecution runs a definition. Synchronously it returns the final
// record. Asynchronously it persists the PENDING record, queues the run and
// returns that record; it can be read and cancelled while it waits.
func (s *Service) CreateExecution(ctx context.Context, req *domain.ExecutionRequest, async bool) (*domain.Execution, error) {
	if !async {
		return s.manager.Execute(ctx, req)
	}

	execution, _, err := s.dispatcher.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("execution accepted",
		zap.String("execution_id", execution.ID),
		zap.String("definition_id", execution.DefinitionID))

	return execution, nil
}

// CreateExecutionsBatch runs every request on the worker pool and returns
// one outcome per request in request order
func (s *Service) CreateExecutionsBatch(ctx context.Context, reqs []*domain.ExecutionRequest) ([]dispatch.Outcome, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrInvalidRequest)
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", domain.ErrInvalidRequest, len(reqs), MaxBatchSize)
	}
	return s.batch.Execute(ctx, reqs), nil
}

// GetExecution returns an execution by id
func (s *Service) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	return s.manager.Get(ctx, id)
}

// ListExecutions returns executions matching filter
func (s *Service) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	return s.manager.List(ctx, filter)
}

// CancelExecution cancels a non-terminal execution
func (s *Service) CancelExecution(ctx context.Context, id string) (*domain.Execution, error) {
	return s.manager.Cancel(ctx, id)
}

// Subscribe streams events of one execution, or of all executions when
// executionID is empty, until ctx is done
func (s *Service) Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error) {
	return s.eventBus.Subscribe(ctx, executionID)
}

// CreateDefinition validates and stores a new definition
func (s *Service) CreateDefinition(ctx context.Context, req *domain.DefinitionRequest) (*domain.Definition, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", domain.ErrInvalidRequest)
	}

	now := time.Now()
	definition := &domain.Definition{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Payload:     req.Payload,
		Active:      req.Active == nil || *req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.CreatedBy,
		Tags:        req.Tags,
	}
	if err := s.validator.ValidateDefinition(definition); err != nil {
		return nil, err
	}

	if err := s.definitions.Create(ctx, definition); err != nil {
		return nil, err
	}

	s.logger.Info("workflow definition created",
		zap.String("definition_id", definition.ID),
		zap.String("name", definition.Name),
		zap.String("version", definition.Version))

	return definition, nil
}

// UpdateDefinition replaces the editable fields of a definition. The
// active flag is kept when req leaves it out. Executions already created
// keep running against the definition they loaded.
func (s *Service) UpdateDefinition(ctx context.Context, id string, req *domain.DefinitionRequest) (*domain.Definition, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", domain.ErrInvalidRequest)
	}

	current, err := s.definitions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Name = req.Name
	updated.Description = req.Description
	updated.Version = req.Version
	updated.Payload = req.Payload
	updated.CreatedBy = req.CreatedBy
	updated.Tags = req.Tags
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = time.Now()

	if err := s.validator.ValidateDefinition(updated); err != nil {
		return nil, err
	}
	if err := s.definitions.Update(ctx, updated); err != nil {
		return nil, err
	}

	s.logger.Info("workflow definition updated",
		zap.String("definition_id", id),
		zap.String("name", updated.Name),
		zap.String("version", updated.Version))

	return updated, nil
}

// GetDefinition returns a definition by id
func (s *Service) GetDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	return s.definitions.Get(ctx, id)
}

// ListDefinitions returns definitions matching filter
func (s *Service) ListDefinitions(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.Definition, error) {
	return s.definitions.List(ctx, filter)
}

// ActivateDefinition allows new executions of a definition
func (s *Service) ActivateDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	s.logger.Info("activating workflow definition", zap.String("definition_id", id))
	return s.definitions.SetActive(ctx, id, true)
}

// DeactivateDefinition stops new executions of a definition. Running ones
// are not affected.
func (s *Service) DeactivateDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	s.logger.Info("deactivating workflow definition", zap.String("definition_id", id))
	return s.definitions.SetActive(ctx, id, false)
}

// DeleteDefinition removes a definition
func (s *Service) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.definitions.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workflow definition deleted", zap.String("definition_id", id))
	return nil
}
