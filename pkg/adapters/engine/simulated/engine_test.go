package simulated

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func definition(payload string) *domain.Definition {
	return &domain.Definition{
		ID:      "d1",
		Name:    "Onboarding",
		Version: "1.0",
		Payload: json.RawMessage(payload),
		Active:  true,
	}
}

func TestRun_EchoesInputsWithStepOutputs(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	out, err := engine.Run(context.Background(),
		definition(`{"steps":[{"name":"a","output":{"x":1,"name":"overridden"}},{"name":"b","output":{"y":true}}]}`),
		domain.Variables{"name": "original", "keep": "me"})
	require.NoError(t, err)

	assert.Equal(t, "overridden", out["name"])
	assert.Equal(t, "me", out["keep"])
	assert.Equal(t, float64(1), out["x"])
	assert.Equal(t, true, out["y"])
	assert.Equal(t, "Onboarding", out["definition"])
	assert.Equal(t, 2, out["stepsExecuted"])
	assert.Equal(t, fixed.Format(time.RFC3339Nano), out["processedAt"])
}

func TestRun_DoesNotMutateInputs(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())
	inputs := domain.Variables{"a": "b"}

	_, err := engine.Run(context.Background(), definition(`{"steps":[{"output":{"a":"changed"}}]}`), inputs)
	require.NoError(t, err)
	assert.Equal(t, "b", inputs["a"])
}

func TestRun_EmptyPayloadRunsImplicitStep(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())

	out, err := engine.Run(context.Background(), definition(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out["stepsExecuted"])
}

func TestRun_FailingStep(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())

	_, err := engine.Run(context.Background(),
		definition(`{"steps":[{"name":"ok"},{"name":"charge","fail":"card declined"}]}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStepExecutionFailed)

	var stepErr *domain.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "charge", stepErr.Step)
	assert.EqualError(t, stepErr.Cause, "card declined")
}

func TestRun_UnparsablePayload(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())

	_, err := engine.Run(context.Background(), definition(`{"steps":"nope"}`), nil)
	assert.ErrorIs(t, err, domain.ErrStepExecutionFailed)
}

func TestRun_StepDelay(t *testing.T) {
	engine := NewEngine(0, zap.NewNop())

	start := time.Now()
	_, err := engine.Run(context.Background(), definition(`{"steps":[{"delay":"30ms"},{"delay":20}]}`), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRun_ExplicitZeroDelayOverridesDefault(t *testing.T) {
	engine := NewEngine(time.Hour, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := engine.Run(ctx, definition(`{"steps":[{"name":"a","delay":"0s"},{"name":"b","delay":0}]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out["stepsExecuted"])
}

func TestRun_ContextCancelled(t *testing.T) {
	engine := NewEngine(time.Hour, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Run(ctx, definition(`{}`), nil)
	assert.ErrorIs(t, err, domain.ErrStepExecutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewEngine_DefaultDelay(t *testing.T) {
	assert.Equal(t, DefaultStepDelay, NewEngine(-1, nil).stepDelay)
	assert.Equal(t, time.Duration(0), NewEngine(0, nil).stepDelay)
}
