package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/aescanero/unite/pkg/ports"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus
var ErrBusClosed = errors.New("event bus closed")

// DefaultBufferSize is the per-subscriber buffer used when none is given
const DefaultBufferSize = 64

// InMemoryEventBus implements EventBus using per-topic channel fan-out
type InMemoryEventBus struct {
	subscribers map[string]map[*subscription]struct{}
	mu          sync.RWMutex
	closed      bool

	bufferSize int
	metrics    ports.MetricsCollector
	logger     *zap.Logger
}

// subscription is one subscriber's channel on one topic
type subscription struct {
	topic string
	ch    chan domain.Event
	once  sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(bufferSize int, metrics ports.MetricsCollector, logger *zap.Logger) *InMemoryEventBus {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &InMemoryEventBus{
		subscribers: make(map[string]map[*subscription]struct{}),
		bufferSize:  bufferSize,
		metrics:     metrics,
		logger:      logger,
	}
}

// Publish delivers an event to the global topic and to its execution's topic
func (e *InMemoryEventBus) Publish(ctx context.Context, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrBusClosed
	}

	e.deliver(domain.GlobalTopic, event)
	if event.ExecutionID != "" {
		e.deliver(domain.ExecutionTopic(event.ExecutionID), event)
	}
	return nil
}

// PublishTo delivers an event to a single execution's topic
func (e *InMemoryEventBus) PublishTo(ctx context.Context, executionID string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrBusClosed
	}

	e.deliver(domain.ExecutionTopic(executionID), event)
	return nil
}

// deliver sends without blocking; callers hold the read lock
func (e *InMemoryEventBus) deliver(topic string, event domain.Event) {
	for sub := range e.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full, skip event
			e.metrics.RecordEventDropped(topic)
			e.logger.Debug("subscriber buffer full, dropping event",
				zap.String("topic", topic),
				zap.String("execution_id", event.ExecutionID),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// Subscribe registers a subscriber on the global topic (empty executionID)
// or on one execution's topic. The welcome event is queued first.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error) {
	sub := &subscription{
		topic: domain.ExecutionTopic(executionID),
		ch:    make(chan domain.Event, e.bufferSize),
	}
	sub.ch <- domain.WelcomeEvent(executionID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrBusClosed
	}
	if e.subscribers[sub.topic] == nil {
		e.subscribers[sub.topic] = make(map[*subscription]struct{})
	}
	e.subscribers[sub.topic][sub] = struct{}{}
	e.mu.Unlock()

	// Clean up subscription on context cancellation
	go func() {
		<-ctx.Done()
		e.unsubscribe(sub)
	}()

	return sub.ch, nil
}

// SubscriberCount returns the number of live subscribers on a topic
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.subscribers[topic])
}

// Close closes every subscription and rejects further use
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for _, subs := range e.subscribers {
		for sub := range subs {
			sub.close()
		}
	}
	e.subscribers = make(map[string]map[*subscription]struct{})
	return nil
}

func (e *InMemoryEventBus) unsubscribe(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if subs, ok := e.subscribers[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(e.subscribers, sub.topic)
		}
	}
	sub.close()
}
