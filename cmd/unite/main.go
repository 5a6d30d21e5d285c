package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/unite/internal/application/dispatch"
	"github.com/aescanero/unite/internal/application/orchestrator"
	"github.com/aescanero/unite/internal/application/service"
	"github.com/aescanero/unite/internal/application/workers"
	"github.com/aescanero/unite/internal/config"
	"github.com/aescanero/unite/pkg/adapters/engine"
	"github.com/aescanero/unite/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/unite/pkg/api/grpc"
	"github.com/aescanero/unite/pkg/api/http"
	"github.com/aescanero/unite/pkg/api/websocket"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting workflow orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("events_backend", cfg.EventsBackend))

	metricsCollector := prometheus.NewCollector(prom.DefaultRegisterer)

	ctx := context.Background()
	b, err := newBackends(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to initialize backends", zap.Error(err))
	}

	stepEngine, err := engine.NewEngine(&engine.Config{
		Provider:  cfg.Engine.Provider,
		StepDelay: cfg.Engine.StepDelay,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to create step engine", zap.Error(err))
	}

	// Initialize application components
	validator := orchestrator.NewValidator()

	orchestratorMgr := orchestrator.NewManager(
		b.definitions,
		b.executions,
		b.eventBus,
		stepEngine,
		metricsCollector,
		validator,
		logger,
		cfg.Timeouts.ExecutionTimeout,
	)

	workerPool := workers.NewPool(workers.Config{
		CoreWorkers:         cfg.Workers.CoreWorkers,
		MaxWorkers:          cfg.Workers.MaxWorkers,
		QueueSize:           cfg.Workers.QueueSize,
		KeepAlive:           cfg.Workers.KeepAlive,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
	}, metricsCollector, logger)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	dispatcher := dispatch.NewDispatcher(orchestratorMgr, workerPool, logger)
	svc := service.New(orchestratorMgr, dispatcher, b.definitions, b.eventBus, validator, logger)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Service: svc,
		Health:  workerPool.Health(),
		Logger:  logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(svc, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: workerPool.Health(),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("workflow orchestrator started",
		zap.String("http_addr", cfg.GetHTTPAddr()),
		zap.String("grpc_addr", cfg.GetGRPCAddr()),
		zap.Int("core_workers", cfg.Workers.CoreWorkers),
		zap.Int("max_workers", cfg.Workers.MaxWorkers))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	// Anything the pool left unfinished is cancelled while the stores are open
	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	b.close(logger)

	logger.Info("workflow orchestrator shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
