package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage and event bus backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the workflow orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"UNITE_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"UNITE_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backends
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	EventsBackend  string `env:"EVENTS_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// Postgres configuration
	Database DatabaseConfig

	// Step engine configuration
	Engine EngineConfig

	// Worker configuration
	Workers WorkerConfig

	// Event streaming configuration
	Events EventsConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"unite"`

	// ExecutionTTL bounds how long execution records are kept; 0 keeps them
	ExecutionTTL time.Duration `env:"REDIS_EXECUTION_TTL" envDefault:"24h"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// DatabaseConfig holds the postgres connection
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

// EngineConfig selects and tunes the step engine
type EngineConfig struct {
	Provider  string        `env:"ENGINE_PROVIDER" envDefault:"simulated"`
	StepDelay time.Duration `env:"ENGINE_STEP_DELAY" envDefault:"1s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	CoreWorkers         int           `env:"WORKER_CORE_POOL_SIZE" envDefault:"5"`
	MaxWorkers          int           `env:"WORKER_MAX_POOL_SIZE" envDefault:"20"`
	QueueSize           int           `env:"WORKER_QUEUE_CAPACITY" envDefault:"100"`
	KeepAlive           time.Duration `env:"WORKER_KEEP_ALIVE" envDefault:"60s"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// EventsConfig tunes subscriber delivery
type EventsConfig struct {
	BufferSize      int           `env:"EVENTS_BUFFER_SIZE" envDefault:"64"`
	StreamMaxLen    int64         `env:"EVENTS_STREAM_MAX_LEN" envDefault:"1000"`
	StreamTTL       time.Duration `env:"EVENTS_STREAM_TTL" envDefault:"1h"`
	StreamReadBlock time.Duration `env:"EVENTS_STREAM_READ_BLOCK" envDefault:"500ms"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	// ExecutionTimeout cancels runs that exceed it; 0 disables it
	ExecutionTimeout time.Duration `env:"EXECUTION_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.StorageBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis or postgres)", c.StorageBackend)
	}

	switch c.EventsBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.EventsBackend)
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate worker config
	if c.Workers.CoreWorkers < 1 {
		return fmt.Errorf("core worker pool size must be at least 1")
	}
	if c.Workers.MaxWorkers < c.Workers.CoreWorkers {
		return fmt.Errorf("max worker pool size %d is below core size %d", c.Workers.MaxWorkers, c.Workers.CoreWorkers)
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("worker queue capacity must not be negative")
	}
	if c.Workers.HealthCheckInterval <= 0 {
		return fmt.Errorf("worker health check interval must be positive")
	}

	if c.Timeouts.ExecutionTimeout < 0 {
		return fmt.Errorf("execution timeout must not be negative")
	}
	if c.Engine.StepDelay < 0 {
		return fmt.Errorf("engine step delay must not be negative")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.StorageBackend == BackendRedis || c.EventsBackend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
