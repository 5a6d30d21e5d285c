package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor monitors worker health
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers int
	IdleWorkers  int
	BusyWorkers  int
	Queued       int
	Healthy      bool
	Timestamp    time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth checks worker health and logs status
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("queued", status.Queued),
		zap.Bool("healthy", status.Healthy))

	// Record metrics
	h.pool.metrics.RecordWorkerPoolStatus(
		status.IdleWorkers,
		status.BusyWorkers,
		status.Queued,
	)

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("total", status.TotalWorkers))
	}

	// Warn if all workers are busy
	if status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers {
		h.logger.Warn("all workers are busy",
			zap.Int("total", status.TotalWorkers),
			zap.Int("max", h.pool.cfg.MaxWorkers),
			zap.Int("queued", status.Queued))
	}
}

// GetStatus returns the current health status. The pool is healthy while
// it accepts work and has at least one live worker.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	stats := h.pool.Stats()

	return &HealthStatus{
		TotalWorkers: stats.Workers,
		IdleWorkers:  stats.Idle,
		BusyWorkers:  stats.Busy,
		Queued:       stats.Queued,
		Healthy:      !stats.Closed && stats.Workers > 0,
		Timestamp:    time.Now(),
	}
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	status := h.GetStatus()
	return status.Healthy
}
