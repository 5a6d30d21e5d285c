package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxWatchRetries bounds optimistic transaction retries on WATCH conflicts
const maxWatchRetries = 5

// ExecutionStorage implements ports.ExecutionStore using Redis.
// Each record is a JSON string key; a sorted set indexes ids by start time.
type ExecutionStorage struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewExecutionStorage creates a new Redis execution storage. A zero ttl keeps
// records forever.
func NewExecutionStorage(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *ExecutionStorage {
	if prefix == "" {
		prefix = "unite"
	}
	return &ExecutionStorage{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Create stores a new execution
func (s *ExecutionStorage) Create(ctx context.Context, execution *domain.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.executionKey(execution.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	if !ok {
		return fmt.Errorf("execution already exists: %s", execution.ID)
	}

	member := redis.Z{Score: float64(execution.StartedAt.UnixMilli()), Member: execution.ID}
	if err := s.client.ZAdd(ctx, s.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("failed to index execution: %w", err)
	}

	s.logger.Debug("execution saved",
		zap.String("execution_id", execution.ID),
		zap.String("status", string(execution.Status)))

	return nil
}

// Get retrieves an execution by id
func (s *ExecutionStorage) Get(ctx context.Context, id string) (*domain.Execution, error) {
	data, err := s.client.Get(ctx, s.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return decodeExecution(data)
}

// List returns executions matching filter ordered by start time
func (s *ExecutionStorage) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Execution{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.executionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get executions: %w", err)
	}

	executions := make([]*domain.Execution, 0, len(values))
	var expired []interface{}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Record expired, drop it from the index
			expired = append(expired, ids[i])
			continue
		}
		execution, err := decodeExecution([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping unreadable execution",
				zap.String("execution_id", ids[i]),
				zap.Error(err))
			continue
		}
		if filter.Matches(execution) {
			executions = append(executions, execution)
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			s.logger.Warn("failed to prune execution index", zap.Error(err))
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		if executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].ID < executions[j].ID
		}
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

// CompareAndSwap replaces an execution inside a WATCH/MULTI transaction if
// its stored status equals expected
func (s *ExecutionStorage) CompareAndSwap(ctx context.Context, expected domain.ExecutionStatus, execution *domain.Execution) error {
	key := s.executionKey(execution.ID)
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, execution.ID)
			}
			return fmt.Errorf("failed to get execution: %w", err)
		}
		stored, err := decodeExecution(current)
		if err != nil {
			return err
		}
		if stored.Status != expected {
			return fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, expected, stored.Status)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if s.ttl > 0 {
				pipe.Set(ctx, key, data, s.ttl)
			} else {
				pipe.Set(ctx, key, data, redis.KeepTTL)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Key changed between read and exec, re-evaluate
			continue
		}
		return err
	}
	return fmt.Errorf("%w: too many concurrent updates for %s", domain.ErrStatusConflict, execution.ID)
}

func (s *ExecutionStorage) executionKey(id string) string {
	return fmt.Sprintf("%s:execution:%s", s.prefix, id)
}

func (s *ExecutionStorage) indexKey() string {
	return s.prefix + ":executions"
}

func decodeExecution(data []byte) (*domain.Execution, error) {
	var execution domain.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

// DefinitionStorage implements ports.DefinitionStore using Redis. A
// name/version key enforces uniqueness.
type DefinitionStorage struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewDefinitionStorage creates a new Redis definition storage
func NewDefinitionStorage(client *redis.Client, prefix string, logger *zap.Logger) *DefinitionStorage {
	if prefix == "" {
		prefix = "unite"
	}
	return &DefinitionStorage{
		client: client,
		logger: logger,
		prefix: prefix,
	}
}

// Create stores a new definition
func (s *DefinitionStorage) Create(ctx context.Context, definition *domain.Definition) error {
	data, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	nameKey := s.nameKey(definition.Name, definition.Version)
	claimed, err := s.client.SetNX(ctx, nameKey, definition.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
	}

	created, err := s.client.SetNX(ctx, s.definitionKey(definition.ID), data, 0).Result()
	if err != nil || !created {
		if delErr := s.client.Del(ctx, nameKey).Err(); delErr != nil {
			s.logger.Warn("failed to release definition name", zap.String("key", nameKey), zap.Error(delErr))
		}
		if err != nil {
			return fmt.Errorf("failed to save definition: %w", err)
		}
		return fmt.Errorf("%w: id %s", domain.ErrDuplicateDefinition, definition.ID)
	}

	member := redis.Z{Score: float64(definition.CreatedAt.UnixMilli()), Member: definition.ID}
	if err := s.client.ZAdd(ctx, s.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("failed to index definition: %w", err)
	}
	return nil
}

// Get retrieves a definition by id
func (s *DefinitionStorage) Get(ctx context.Context, id string) (*domain.Definition, error) {
	data, err := s.client.Get(ctx, s.definitionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return decodeDefinition(data)
}

// List returns definitions matching filter ordered by creation time
func (s *DefinitionStorage) List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.Definition, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read definition index: %w", err)
	}

	definitions := make([]*domain.Definition, 0, len(ids))
	if len(ids) == 0 {
		return definitions, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.definitionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get definitions: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		definition, err := decodeDefinition([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping unreadable definition",
				zap.String("definition_id", ids[i]),
				zap.Error(err))
			continue
		}
		if filter.Matches(definition) {
			definitions = append(definitions, definition)
		}
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// Update replaces a definition. A changed name/version moves its
// uniqueness key in the same transaction.
func (s *DefinitionStorage) Update(ctx context.Context, definition *domain.Definition) error {
	key := s.definitionKey(definition.ID)
	nameKey := s.nameKey(definition.Name, definition.Version)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, definition.ID)
			}
			return fmt.Errorf("failed to get definition: %w", err)
		}
		current, err := decodeDefinition(data)
		if err != nil {
			return err
		}

		previousNameKey := s.nameKey(current.Name, current.Version)
		renamed := previousNameKey != nameKey
		if renamed {
			owner, err := tx.Get(ctx, nameKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to check definition name: %w", err)
			}
			if err == nil && owner != definition.ID {
				return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
			}
		}

		updated := definition.Clone()
		updated.CreatedAt = current.CreatedAt
		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal definition: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if renamed {
				pipe.Del(ctx, previousNameKey)
				pipe.Set(ctx, nameKey, definition.ID, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key, nameKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("too many concurrent updates for definition %s", definition.ID)
}

// SetActive flips the active flag of a definition
func (s *DefinitionStorage) SetActive(ctx context.Context, id string, active bool) (*domain.Definition, error) {
	key := s.definitionKey(id)
	var updated *domain.Definition

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
			}
			return fmt.Errorf("failed to get definition: %w", err)
		}
		definition, err := decodeDefinition(data)
		if err != nil {
			return err
		}
		definition.Active = active
		definition.UpdatedAt = time.Now()

		encoded, err := json.Marshal(definition)
		if err != nil {
			return fmt.Errorf("failed to marshal definition: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			updated = definition
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("too many concurrent updates for definition %s", id)
}

// Delete removes a definition and releases its name/version
func (s *DefinitionStorage) Delete(ctx context.Context, id string) error {
	definition, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.definitionKey(id), s.nameKey(definition.Name, definition.Version))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	s.logger.Debug("definition deleted", zap.String("definition_id", id))
	return nil
}

func (s *DefinitionStorage) definitionKey(id string) string {
	return fmt.Sprintf("%s:definition:%s", s.prefix, id)
}

func (s *DefinitionStorage) nameKey(name, version string) string {
	return fmt.Sprintf("%s:definition-name:%s:%s", s.prefix, name, version)
}

func (s *DefinitionStorage) indexKey() string {
	return s.prefix + ":definitions"
}

func decodeDefinition(data []byte) (*domain.Definition, error) {
	var definition domain.Definition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &definition, nil
}
