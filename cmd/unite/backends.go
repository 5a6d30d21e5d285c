package main

import (
	"context"
	"fmt"

	"github.com/aescanero/unite/internal/config"
	eventsmemory "github.com/aescanero/unite/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/unite/pkg/adapters/events/redis"
	storagememory "github.com/aescanero/unite/pkg/adapters/storage/memory"
	"github.com/aescanero/unite/pkg/adapters/storage/postgres"
	storageredis "github.com/aescanero/unite/pkg/adapters/storage/redis"
	"github.com/aescanero/unite/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backends holds the stores and event bus selected by configuration,
// together with the clients that must be closed on shutdown
type backends struct {
	definitions ports.DefinitionStore
	executions  ports.ExecutionStore
	eventBus    ports.EventBus

	redisClient *goredis.Client
	persistence *postgres.Persistence
}

func newBackends(ctx context.Context, cfg *config.Config, metrics ports.MetricsCollector, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.UsesRedis() {
		b.redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := b.redisClient.Ping(ctx).Err(); err != nil {
			_ = b.redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	switch cfg.StorageBackend {
	case config.BackendRedis:
		b.definitions = storageredis.NewDefinitionStorage(b.redisClient, cfg.Redis.Prefix, logger)
		b.executions = storageredis.NewExecutionStorage(b.redisClient, cfg.Redis.Prefix, cfg.Redis.ExecutionTTL, logger)
	case config.BackendPostgres:
		persistence, err := postgres.NewPersistence(ctx, cfg.Database.URL, logger)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.persistence = persistence
		b.definitions = persistence.Definitions()
		b.executions = persistence.Executions()
	default:
		b.definitions = storagememory.NewDefinitionStorage()
		b.executions = storagememory.NewExecutionStorage()
	}

	switch cfg.EventsBackend {
	case config.BackendRedis:
		b.eventBus = eventsredis.NewStreamsEventBus(b.redisClient, eventsredis.Options{
			Prefix:     cfg.Redis.Prefix + ":events",
			MaxLen:     cfg.Events.StreamMaxLen,
			Block:      cfg.Events.StreamReadBlock,
			StreamTTL:  cfg.Events.StreamTTL,
			BufferSize: cfg.Events.BufferSize,
		}, metrics, logger)
	default:
		b.eventBus = eventsmemory.NewInMemoryEventBus(cfg.Events.BufferSize, metrics, logger)
	}

	return b, nil
}

// close releases the event bus and backing clients
func (b *backends) close(logger *zap.Logger) {
	if b.eventBus != nil {
		if err := b.eventBus.Close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}
	}

	if b.persistence != nil {
		if err := b.persistence.Close(); err != nil {
			logger.Error("PostgreSQL close error", zap.Error(err))
		}
	}

	if b.redisClient != nil {
		if err := b.redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}
}
