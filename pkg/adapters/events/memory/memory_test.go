package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func assertEmpty(t *testing.T, ch <-chan domain.Event) {
	t.Helper()
	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestSubscribe_WelcomeEvent(t *testing.T) {
	bus := NewInMemoryEventBus(4, nil, zap.NewNop())

	global, err := bus.Subscribe(testContext(t), "")
	require.NoError(t, err)
	welcome := receive(t, global)
	assert.Equal(t, domain.EventTypeStateChanged, welcome.Type)
	assert.Empty(t, welcome.ExecutionID)

	perExec, err := bus.Subscribe(testContext(t), "exec-1")
	require.NoError(t, err)
	welcome = receive(t, perExec)
	assert.Equal(t, domain.EventTypeStateChanged, welcome.Type)
	assert.Equal(t, "exec-1", welcome.ExecutionID)
}

func TestPublish_FanOut(t *testing.T) {
	bus := NewInMemoryEventBus(4, nil, zap.NewNop())
	ctx := testContext(t)

	global, _ := bus.Subscribe(ctx, "")
	exec1, _ := bus.Subscribe(ctx, "exec-1")
	exec2, _ := bus.Subscribe(ctx, "exec-2")
	receive(t, global)
	receive(t, exec1)
	receive(t, exec2)

	event := domain.Event{ExecutionID: "exec-1", Type: domain.EventTypeWorkflowStarted}
	require.NoError(t, bus.Publish(ctx, event))

	assert.Equal(t, domain.EventTypeWorkflowStarted, receive(t, global).Type)
	assert.Equal(t, domain.EventTypeWorkflowStarted, receive(t, exec1).Type)
	assertEmpty(t, exec2)
}

func TestPublishTo_OnlyExecutionTopic(t *testing.T) {
	bus := NewInMemoryEventBus(4, nil, zap.NewNop())
	ctx := testContext(t)

	global, _ := bus.Subscribe(ctx, "")
	exec1, _ := bus.Subscribe(ctx, "exec-1")
	receive(t, global)
	receive(t, exec1)

	require.NoError(t, bus.PublishTo(ctx, "exec-1", domain.Event{ExecutionID: "exec-1", Type: domain.EventTypeStepStarted}))

	assert.Equal(t, domain.EventTypeStepStarted, receive(t, exec1).Type)
	assertEmpty(t, global)
}

type dropCounter struct {
	dropped int
}

func (d *dropCounter) RecordExecutionStarted(string)                 {}
func (d *dropCounter) RecordExecutionFinished(string, time.Duration) {}
func (d *dropCounter) SetActiveExecutions(int)                       {}
func (d *dropCounter) RecordEventDropped(string)                     { d.dropped++ }
func (d *dropCounter) RecordSubmissionRejected()                     {}
func (d *dropCounter) RecordWorkerPoolStatus(int, int, int)          {}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	metrics := &dropCounter{}
	bus := NewInMemoryEventBus(1, metrics, zap.NewNop())

	// Never drained: the welcome event fills the single slot
	_, err := bus.Subscribe(testContext(t), "")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(context.Background(), domain.Event{Type: domain.EventTypeStateChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, 10, metrics.dropped)
}

func TestSubscribe_ClosedOnContextCancel(t *testing.T) {
	bus := NewInMemoryEventBus(4, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "exec-1")
	require.NoError(t, err)
	receive(t, ch)
	assert.Equal(t, 1, bus.SubscriberCount(domain.ExecutionTopic("exec-1")))

	cancel()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.ExecutionTopic("exec-1")) == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	bus := NewInMemoryEventBus(4, nil, zap.NewNop())

	ch, err := bus.Subscribe(testContext(t), "")
	require.NoError(t, err)
	receive(t, ch)

	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, bus.Publish(testContext(t), domain.Event{}), ErrBusClosed)
	_, err = bus.Subscribe(testContext(t), "")
	assert.ErrorIs(t, err, ErrBusClosed)
}
