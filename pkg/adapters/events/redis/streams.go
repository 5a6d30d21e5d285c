package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/aescanero/unite/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultMaxLen caps each stream so abandoned topics do not grow forever
	DefaultMaxLen = 1000
	// DefaultBlock bounds each blocking read so cancellation is noticed
	DefaultBlock = 500 * time.Millisecond
	// DefaultStreamTTL expires per-execution streams once they go quiet
	DefaultStreamTTL = time.Hour
)

// Options tunes the Redis Streams event bus
type Options struct {
	Prefix     string
	MaxLen     int64
	Block      time.Duration
	StreamTTL  time.Duration
	BufferSize int
}

// StreamsEventBus implements EventBus using Redis Streams. Every subscriber
// reads the stream independently with XREAD, so each one sees every event
// published after it subscribed.
type StreamsEventBus struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics ports.MetricsCollector
	opts    Options

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, opts Options, metrics ports.MetricsCollector, logger *zap.Logger) *StreamsEventBus {
	if opts.Prefix == "" {
		opts.Prefix = "unite:events"
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.Block <= 0 {
		opts.Block = DefaultBlock
	}
	if opts.StreamTTL <= 0 {
		opts.StreamTTL = DefaultStreamTTL
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 64
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &StreamsEventBus{
		client:  client,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		stop:    make(chan struct{}),
	}
}

// Publish appends the event to the global stream and to its execution's stream
func (e *StreamsEventBus) Publish(ctx context.Context, event domain.Event) error {
	topics := []string{domain.GlobalTopic}
	if event.ExecutionID != "" {
		topics = append(topics, domain.ExecutionTopic(event.ExecutionID))
	}
	return e.add(ctx, event, topics...)
}

// PublishTo appends the event to a single execution's stream
func (e *StreamsEventBus) PublishTo(ctx context.Context, executionID string, event domain.Event) error {
	return e.add(ctx, event, domain.ExecutionTopic(executionID))
}

func (e *StreamsEventBus) add(ctx context.Context, event domain.Event, topics ...string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := e.client.Pipeline()
	for _, topic := range topics {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: e.streamKey(topic),
			MaxLen: e.opts.MaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"data": string(data),
			},
		})
		if topic != domain.GlobalTopic {
			pipe.Expire(ctx, e.streamKey(topic), e.opts.StreamTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("execution_id", event.ExecutionID),
		zap.String("type", string(event.Type)),
		zap.Strings("topics", topics))

	return nil
}

// Subscribe starts reading the requested stream from its current tail
func (e *StreamsEventBus) Subscribe(ctx context.Context, executionID string) (<-chan domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("event bus closed")
	}

	topic := domain.ExecutionTopic(executionID)
	streamKey := e.streamKey(topic)

	lastID, err := e.tail(ctx, streamKey)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.Event, e.opts.BufferSize)
	ch <- domain.WelcomeEvent(executionID)

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("from", lastID))

	e.wg.Add(1)
	go e.readStream(ctx, topic, streamKey, lastID, ch)

	return ch, nil
}

// tail returns the id of the newest entry, or "0-0" for an empty stream
func (e *StreamsEventBus) tail(ctx context.Context, streamKey string) (string, error) {
	last, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read stream tail: %w", err)
	}
	if len(last) == 0 {
		return "0-0", nil
	}
	return last[0].ID, nil
}

func (e *StreamsEventBus) readStream(ctx context.Context, topic, streamKey, lastID string, ch chan domain.Event) {
	defer e.wg.Done()
	defer close(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		default:
		}

		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   e.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No new messages
				continue
			}
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				event, ok := e.decode(streamKey, message)
				if !ok {
					continue
				}
				select {
				case ch <- event:
				default:
					e.metrics.RecordEventDropped(topic)
					e.logger.Debug("subscriber buffer full, dropping event",
						zap.String("stream", streamKey),
						zap.String("message_id", message.ID))
				}
			}
		}
	}
}

// decode extracts the event carried by a stream message
func (e *StreamsEventBus) decode(streamKey string, message redis.XMessage) (domain.Event, bool) {
	var event domain.Event

	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return event, false
	}

	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return event, false
	}
	return event, true
}

// Close stops all readers and waits for them to exit.
// The Redis client is owned and closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// streamKey returns the Redis stream key for a topic
func (e *StreamsEventBus) streamKey(topic string) string {
	return fmt.Sprintf("%s:%s", e.opts.Prefix, topic)
}
