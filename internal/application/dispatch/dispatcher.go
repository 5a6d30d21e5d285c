package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/unite/internal/application/workers"
	"github.com/aescanero/unite/pkg/domain"
	"go.uber.org/zap"
)

// ErrNotStarted resolves the future of a task the pool gave up on before
// its execution was handed over
var ErrNotStarted = errors.New("execution never started")

// Executor prepares executions and runs prepared ones to completion
type Executor interface {
	Prepare(ctx context.Context, req *domain.ExecutionRequest) (*domain.Execution, error)
	Run(ctx context.Context, executionID string) (*domain.Execution, error)
}

// Submitter accepts tasks without blocking
type Submitter interface {
	Submit(task workers.Task) error
}

// Dispatcher runs executions on a worker pool
type Dispatcher struct {
	executor Executor
	pool     Submitter
	logger   *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(executor Executor, pool Submitter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		pool:     pool,
		logger:   logger,
	}
}

// Submit claims a pool slot, persists the PENDING record and queues its
// run. It returns the PENDING record and a future for the final one.
//
// It fails immediately, with an error matching domain.ErrOverloaded, when
// the pool has no capacity left; no record is written in that case. The
// run is interrupted only when the pool cancels its task context at a
// shutdown deadline.
func (d *Dispatcher) Submit(ctx context.Context, req *domain.ExecutionRequest) (*domain.Execution, *Future, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("%w: request is nil", domain.ErrInvalidRequest)
	}

	future := newFuture()
	handoff := make(chan string, 1)

	err := d.pool.Submit(func(taskCtx context.Context) {
		var (
			execution *domain.Execution
			err       error
		)
		defer func() {
			// A waiter must never hang on a panicking executor
			if r := recover(); r != nil {
				err = fmt.Errorf("execution panicked: %v", r)
				d.logger.Error("dispatched execution panicked",
					zap.String("definition_id", req.DefinitionID),
					zap.Any("panic", r))
			}
			future.resolve(execution, err)
		}()

		var executionID string
		select {
		case id, ok := <-handoff:
			if !ok {
				err = ErrNotStarted
				return
			}
			executionID = id
		case <-taskCtx.Done():
			err = fmt.Errorf("%w: %w", ErrNotStarted, taskCtx.Err())
			return
		}

		execution, err = d.executor.Run(taskCtx, executionID)
		if err != nil {
			d.logger.Debug("dispatched execution finished with error",
				zap.String("definition_id", req.DefinitionID),
				zap.String("execution_id", executionID),
				zap.Error(err))
		}
	})
	if err != nil {
		d.logger.Warn("execution rejected",
			zap.String("definition_id", req.DefinitionID),
			zap.Error(err))
		return nil, nil, fmt.Errorf("failed to dispatch execution: %w", err)
	}

	execution, err := d.executor.Prepare(ctx, req)
	if err != nil {
		close(handoff)
		return nil, nil, err
	}
	handoff <- execution.ID

	return execution, future, nil
}
