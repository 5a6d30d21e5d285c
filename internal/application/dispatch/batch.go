package dispatch

import (
	"context"

	"github.com/aescanero/unite/pkg/domain"
	"go.uber.org/zap"
)

// Outcome is the result of one request of a batch
type Outcome struct {
	Index     int               `json:"index"`
	Execution *domain.Execution `json:"execution,omitempty"`
	Err       error             `json:"-"`
}

// Batch fans requests out over a Dispatcher
type Batch struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewBatch creates a new batch coordinator
func NewBatch(dispatcher *Dispatcher, logger *zap.Logger) *Batch {
	return &Batch{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute submits every request and waits for all of them. The result has
// one Outcome per request in request order; a rejected, invalid or failed
// request carries its error at its index and does not affect the others.
func (b *Batch) Execute(ctx context.Context, requests []*domain.ExecutionRequest) []Outcome {
	outcomes := make([]Outcome, len(requests))
	futures := make([]*Future, len(requests))

	for i, req := range requests {
		outcomes[i].Index = i
		_, future, err := b.dispatcher.Submit(ctx, req)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		futures[i] = future
	}

	waitCtx := context.WithoutCancel(ctx)
	failed := 0
	for i, future := range futures {
		if future != nil {
			outcomes[i].Execution, outcomes[i].Err = future.Wait(waitCtx)
		}
		if outcomes[i].Err != nil {
			failed++
		}
	}

	b.logger.Info("batch finished",
		zap.Int("total", len(requests)),
		zap.Int("failed", failed))

	return outcomes
}
