package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/unite/internal/application/service"
	"github.com/aescanero/unite/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker reports worker pool health
type HealthChecker interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	service *service.Service
	health  HealthChecker
	logger  *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port    int
	Service *service.Service
	Health  HealthChecker
	Logger  *zap.Logger

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		service: cfg.Service,
		health:  cfg.Health,
		logger:  cfg.Logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := s.router.Group("/api/v1")
	{
		executions := v1.Group("/workflow-executions")
		executions.POST("", s.handleCreateExecution)
		executions.POST("/batch", s.handleCreateExecutionsBatch)
		executions.GET("", s.handleListExecutions)
		executions.GET("/:id", s.handleGetExecution)
		executions.POST("/:id/cancel", s.handleCancelExecution)

		definitions := v1.Group("/workflow-definitions")
		definitions.POST("", s.handleCreateDefinition)
		definitions.GET("", s.handleListDefinitions)
		definitions.GET("/:id", s.handleGetDefinition)
		definitions.PUT("/:id", s.handleUpdateDefinition)
		definitions.DELETE("/:id", s.handleDeleteDefinition)
		definitions.POST("/:id/activate", s.handleActivateDefinition)
		definitions.POST("/:id/deactivate", s.handleDeactivateDefinition)
	}
}

// SetupWebSocket adds the event stream endpoints to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleEventStream(*gin.Context)
		HandleExecutionStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/workflow-events/ws", wsHandler.HandleEventStream)
		s.router.GET("/api/v1/workflow-events/:executionId/ws", wsHandler.HandleExecutionStream)
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
