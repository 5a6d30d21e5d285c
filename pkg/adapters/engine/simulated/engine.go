// Package simulated implements a step engine that performs no real work.
// It stands in for an external workflow runtime during development and tests.
package simulated

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"go.uber.org/zap"
)

// DefaultStepDelay is the time a step without an explicit delay takes
const DefaultStepDelay = time.Second

// Engine runs the steps of a definition's plan in order
type Engine struct {
	stepDelay time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a simulated engine. A negative stepDelay selects
// DefaultStepDelay; zero makes implicit steps instantaneous.
func NewEngine(stepDelay time.Duration, logger *zap.Logger) *Engine {
	if stepDelay < 0 {
		stepDelay = DefaultStepDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		stepDelay: stepDelay,
		logger:    logger,
		now:       time.Now,
	}
}

// Run walks every step of the plan. The result holds the inputs, each
// step's output merged over them in order, and processedAt, definition and
// stepsExecuted bookkeeping keys.
func (e *Engine) Run(ctx context.Context, definition *domain.Definition, inputs domain.Variables) (domain.Variables, error) {
	plan, err := domain.ParsePlan(definition.Payload)
	if err != nil {
		return nil, domain.NewStepExecutionError("", err)
	}

	outputs := inputs.Clone()
	if outputs == nil {
		outputs = domain.Variables{}
	}

	executed := 0
	for _, step := range plan.Steps {
		delay := e.stepDelay
		if step.Delay != nil {
			delay = time.Duration(*step.Delay)
		}

		e.logger.Debug("running step",
			zap.String("definition_id", definition.ID),
			zap.String("step", step.Name),
			zap.Duration("delay", delay))

		if err := sleep(ctx, delay); err != nil {
			return nil, domain.NewStepExecutionError(step.Name, err)
		}

		if step.Fail != "" {
			return nil, domain.NewStepExecutionError(step.Name, errors.New(step.Fail))
		}

		for k, v := range step.Output {
			outputs[k] = v
		}
		executed++
	}

	outputs["processedAt"] = e.now().UTC().Format(time.RFC3339Nano)
	outputs["definition"] = definition.Name
	outputs["stepsExecuted"] = executed

	return outputs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
