package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriber opens an event stream. An empty executionID selects the
// global stream.
type Subscriber interface {
	Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error)
}

// Handler handles WebSocket connections
type Handler struct {
	subscriber Subscriber
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(subscriber Subscriber, logger *zap.Logger) *Handler {
	return &Handler{
		subscriber: subscriber,
		logger:     logger,
	}
}

// HandleEventStream streams the events of every execution
func (h *Handler) HandleEventStream(c *gin.Context) {
	h.stream(c, "")
}

// HandleExecutionStream streams the events of one execution
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	h.stream(c, c.Param("executionId"))
}

func (h *Handler) stream(c *gin.Context, executionID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	topic := domain.ExecutionTopic(executionID)
	h.logger.Info("WebSocket connection established",
		zap.String("topic", topic),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.subscriber.Subscribe(ctx, executionID)
	if err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("topic", topic),
			zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"))
		return
	}

	// Reading is required to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WebSocket connection closed", zap.String("topic", topic))
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
