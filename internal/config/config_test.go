package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, BackendMemory, cfg.EventsBackend)
	assert.Equal(t, 5, cfg.Workers.CoreWorkers)
	assert.Equal(t, 20, cfg.Workers.MaxWorkers)
	assert.Equal(t, 100, cfg.Workers.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.Workers.KeepAlive)
	assert.Equal(t, time.Second, cfg.Engine.StepDelay)
	assert.Zero(t, cfg.Timeouts.ExecutionTimeout)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShutdownTimeout)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("UNITE_HTTP_PORT", "8181")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/unite?sslmode=disable")
	t.Setenv("EVENTS_BACKEND", "redis")
	t.Setenv("EXECUTION_TIMEOUT", "2m")
	t.Setenv("WORKER_CORE_POOL_SIZE", "2")
	t.Setenv("WORKER_MAX_POOL_SIZE", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.ExecutionTimeout)
	assert.Equal(t, 2, cfg.Workers.CoreWorkers)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("UNITE_HTTP_PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:       8080,
			GRPCPort:       9090,
			LogLevel:       "info",
			StorageBackend: BackendMemory,
			EventsBackend:  BackendMemory,
			Redis:          RedisConfig{Addr: "localhost:6379"},
			Workers: WorkerConfig{
				CoreWorkers:         5,
				MaxWorkers:          20,
				QueueSize:           100,
				HealthCheckInterval: time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "http port", mutate: func(c *Config) { c.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "grpc port", mutate: func(c *Config) { c.GRPCPort = 70000 }, wantErr: "invalid gRPC port"},
		{name: "storage backend", mutate: func(c *Config) { c.StorageBackend = "mongo" }, wantErr: "unsupported storage backend"},
		{name: "events backend", mutate: func(c *Config) { c.EventsBackend = "postgres" }, wantErr: "unsupported events backend"},
		{name: "postgres without url", mutate: func(c *Config) { c.StorageBackend = BackendPostgres }, wantErr: "DATABASE_URL"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.EventsBackend = BackendRedis
			c.Redis.Addr = ""
		}, wantErr: "redis address"},
		{name: "no core workers", mutate: func(c *Config) { c.Workers.CoreWorkers = 0 }, wantErr: "core worker pool size"},
		{name: "max below core", mutate: func(c *Config) { c.Workers.MaxWorkers = 1 }, wantErr: "below core size"},
		{name: "negative queue", mutate: func(c *Config) { c.Workers.QueueSize = -1 }, wantErr: "queue capacity"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeouts.ExecutionTimeout = -time.Second }, wantErr: "execution timeout"},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
