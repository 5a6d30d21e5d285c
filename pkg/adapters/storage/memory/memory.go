package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/unite/pkg/domain"
)

// ExecutionStorage implements ports.ExecutionStore using an in-memory map.
// Records are copied on the way in and out so callers never share state
// with the store.
type ExecutionStorage struct {
	executions map[string]*domain.Execution
	mu         sync.RWMutex
}

// NewExecutionStorage creates a new in-memory execution storage
func NewExecutionStorage() *ExecutionStorage {
	return &ExecutionStorage{
		executions: make(map[string]*domain.Execution),
	}
}

// Create stores a new execution
func (s *ExecutionStorage) Create(ctx context.Context, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return fmt.Errorf("execution already exists: %s", execution.ID)
	}

	s.executions[execution.ID] = execution.Clone()
	return nil
}

// Get retrieves an execution by id
func (s *ExecutionStorage) Get(ctx context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
	}

	return execution.Clone(), nil
}

// List returns executions matching filter ordered by start time
func (s *ExecutionStorage) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]*domain.Execution, 0, len(s.executions))
	for _, execution := range s.executions {
		if filter.Matches(execution) {
			executions = append(executions, execution.Clone())
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].ID < executions[j].ID
		}
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

// CompareAndSwap replaces an execution if its stored status equals expected
func (s *ExecutionStorage) CompareAndSwap(ctx context.Context, expected domain.ExecutionStatus, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, execution.ID)
	}

	if stored.Status != expected {
		return fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, expected, stored.Status)
	}

	s.executions[execution.ID] = execution.Clone()
	return nil
}

// DefinitionStorage implements ports.DefinitionStore using an in-memory map
type DefinitionStorage struct {
	definitions map[string]*domain.Definition
	mu          sync.RWMutex
}

// NewDefinitionStorage creates a new in-memory definition storage
func NewDefinitionStorage() *DefinitionStorage {
	return &DefinitionStorage{
		definitions: make(map[string]*domain.Definition),
	}
}

// Create stores a new definition; name and version must be unique together
func (s *DefinitionStorage) Create(ctx context.Context, definition *domain.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.definitions {
		if existing.Name == definition.Name && existing.Version == definition.Version {
			return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
		}
	}
	if _, exists := s.definitions[definition.ID]; exists {
		return fmt.Errorf("%w: id %s", domain.ErrDuplicateDefinition, definition.ID)
	}

	s.definitions[definition.ID] = definition.Clone()
	return nil
}

// Get retrieves a definition by id
func (s *DefinitionStorage) Get(ctx context.Context, id string) (*domain.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	definition, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}

	return definition.Clone(), nil
}

// List returns definitions matching filter ordered by creation time
func (s *DefinitionStorage) List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	definitions := make([]*domain.Definition, 0, len(s.definitions))
	for _, definition := range s.definitions {
		if filter.Matches(definition) {
			definitions = append(definitions, definition.Clone())
		}
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// Update replaces a stored definition. Its name and version must stay
// unique among the other definitions.
func (s *DefinitionStorage) Update(ctx context.Context, definition *domain.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.definitions[definition.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, definition.ID)
	}
	for id, existing := range s.definitions {
		if id != definition.ID && existing.Name == definition.Name && existing.Version == definition.Version {
			return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
		}
	}

	updated := definition.Clone()
	updated.CreatedAt = current.CreatedAt
	s.definitions[definition.ID] = updated
	return nil
}

// SetActive flips the active flag of a definition
func (s *DefinitionStorage) SetActive(ctx context.Context, id string, active bool) (*domain.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	definition, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}

	definition.Active = active
	definition.UpdatedAt = time.Now()
	return definition.Clone(), nil
}

// Delete removes a definition
func (s *DefinitionStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}

	delete(s.definitions, id)
	return nil
}
