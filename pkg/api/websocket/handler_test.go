package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventsmemory "github.com/aescanero/unite/pkg/adapters/events/memory"
	"github.com/aescanero/unite/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, subscriber Subscriber) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handler := NewHandler(subscriber, zap.NewNop())
	router := gin.New()
	router.GET("/api/v1/workflow-events/ws", handler.HandleEventStream)
	router.GET("/api/v1/workflow-events/:executionId/ws", handler.HandleExecutionStream)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event domain.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandleEventStream(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus(16, nil, zap.NewNop())
	defer bus.Close()
	server := newTestServer(t, bus)

	conn := dial(t, server, "/api/v1/workflow-events/ws")

	welcome := readEvent(t, conn)
	assert.Equal(t, domain.EventTypeStateChanged, welcome.Type)
	assert.Equal(t, "Connected to workflow event stream", welcome.Message)
	assert.Empty(t, welcome.ExecutionID)

	for _, id := range []string{"exec-1", "exec-2"} {
		require.NoError(t, bus.Publish(context.Background(), domain.Event{
			ExecutionID: id,
			Type:        domain.EventTypeWorkflowStarted,
			Message:     "Workflow started",
			Timestamp:   time.Now(),
		}))
	}

	assert.Equal(t, "exec-1", readEvent(t, conn).ExecutionID)
	assert.Equal(t, "exec-2", readEvent(t, conn).ExecutionID)
}

func TestHandleExecutionStream(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus(16, nil, zap.NewNop())
	defer bus.Close()
	server := newTestServer(t, bus)

	conn := dial(t, server, "/api/v1/workflow-events/exec-1/ws")

	welcome := readEvent(t, conn)
	assert.Equal(t, "exec-1", welcome.ExecutionID)
	assert.Equal(t, "Connected to execution event stream", welcome.Message)

	require.NoError(t, bus.Publish(context.Background(), domain.Event{ExecutionID: "exec-2", Type: domain.EventTypeWorkflowStarted}))
	require.NoError(t, bus.PublishTo(context.Background(), "exec-1", domain.Event{
		ExecutionID: "exec-1",
		Type:        domain.EventTypeStepCompleted,
		Message:     "Step completed",
	}))

	event := readEvent(t, conn)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, domain.EventTypeStepCompleted, event.Type)
}

func TestHandleEventStream_ClientDisconnect(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus(16, nil, zap.NewNop())
	defer bus.Close()
	server := newTestServer(t, bus)

	conn := dial(t, server, "/api/v1/workflow-events/ws")
	readEvent(t, conn)
	require.Equal(t, 1, bus.SubscriberCount(domain.GlobalTopic))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.GlobalTopic) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleEventStream_BusClosed(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus(16, nil, zap.NewNop())
	server := newTestServer(t, bus)

	conn := dial(t, server, "/api/v1/workflow-events/ws")
	readEvent(t, conn)

	require.NoError(t, bus.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error) {
	return nil, errors.New("bus unavailable")
}

func TestHandleEventStream_SubscribeFailure(t *testing.T) {
	server := newTestServer(t, failingSubscriber{})

	conn := dial(t, server, "/api/v1/workflow-events/ws")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "unexpected error: %v", err)
}
