package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/aescanero/unite/pkg/ports"
	"go.uber.org/zap"
)

var (
	// ErrPoolSaturated is returned when the queue is full and no burst
	// worker can be added. It matches domain.ErrOverloaded.
	ErrPoolSaturated = fmt.Errorf("%w: worker pool saturated", domain.ErrOverloaded)

	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task is a unit of work run by a worker. The context is cancelled only
// when a shutdown deadline expires before the task finishes.
type Task func(ctx context.Context)

// Config sizes the pool
type Config struct {
	CoreWorkers         int
	MaxWorkers          int
	QueueSize           int
	KeepAlive           time.Duration
	HealthCheckInterval time.Duration
}

// DefaultConfig returns the standard sizing: 5 core workers growing to 20,
// a queue of 100 and burst workers retired after 60s idle
func DefaultConfig() Config {
	return Config{
		CoreWorkers:         5,
		MaxWorkers:          20,
		QueueSize:           100,
		KeepAlive:           60 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Pool manages a bounded pool of worker goroutines. Core workers live until
// shutdown; burst workers are added when the queue is full and retire after
// KeepAlive without work.
type Pool struct {
	cfg     Config
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	queue   chan Task
	mu      sync.Mutex
	workers map[string]*worker
	nextID  int
	started bool
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	burst   bool
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "idle"
	WorkerStatusBusy WorkerStatus = "busy"
)

// NewPool creates a new worker pool. Missing or inconsistent sizes fall
// back to DefaultConfig values.
func NewPool(cfg Config, metrics ports.MetricsCollector, logger *zap.Logger) *Pool {
	defaults := DefaultConfig()
	if cfg.CoreWorkers < 1 {
		cfg.CoreWorkers = defaults.CoreWorkers
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan Task, cfg.QueueSize),
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.health = NewHealthMonitor(pool, cfg.HealthCheckInterval, logger)

	return pool
}

// Start starts the core workers and the health monitor
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true

	p.logger.Info("starting worker pool",
		zap.Int("core", p.cfg.CoreWorkers),
		zap.Int("max", p.cfg.MaxWorkers),
		zap.Int("queue", p.cfg.QueueSize))

	for i := 0; i < p.cfg.CoreWorkers; i++ {
		p.spawn(false, nil)
	}
	p.mu.Unlock()

	// Start health monitor
	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.CoreWorkers))
	return nil
}

// Submit hands a task to the pool without blocking. The task is queued if
// there is room, otherwise run on a new burst worker if the pool is below
// MaxWorkers, otherwise rejected with ErrPoolSaturated.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	default:
	}

	if p.started && len(p.workers) < p.cfg.MaxWorkers {
		p.spawn(true, task)
		return nil
	}

	p.metrics.RecordSubmissionRejected()
	p.logger.Warn("worker pool saturated, rejecting task",
		zap.Int("workers", len(p.workers)),
		zap.Int("queued", len(p.queue)))
	return ErrPoolSaturated
}

// spawn starts a worker; callers hold p.mu
func (p *Pool) spawn(burst bool, first Task) {
	p.nextID++
	w := &worker{
		id:      fmt.Sprintf("worker-%d", p.nextID),
		burst:   burst,
		pool:    p,
		status:  WorkerStatusIdle,
		lastJob: time.Now(),
	}
	p.workers[w.id] = w

	p.wg.Add(1)
	go w.run(first)
}

func (p *Pool) retire(w *worker) {
	p.mu.Lock()
	delete(p.workers, w.id)
	p.mu.Unlock()
}

// Shutdown stops accepting tasks, lets the workers drain the queue and
// waits for them. If ctx expires first the task context is cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.logger.Info("shutting down worker pool", zap.Int("queued", len(p.queue)))

	// Stop health monitor
	p.health.Stop()

	// Wait for all workers to finish with timeout
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Stats is a point-in-time snapshot of the pool
type Stats struct {
	Workers int
	Idle    int
	Busy    int
	Queued  int
	Core    int
	Max     int
	Closed  bool
}

// Stats returns a snapshot of worker and queue usage
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Workers: len(p.workers),
		Queued:  len(p.queue),
		Core:    p.cfg.CoreWorkers,
		Max:     p.cfg.MaxWorkers,
		Closed:  p.closed,
	}
	for _, w := range p.workers {
		w.mu.RLock()
		if w.status == WorkerStatusBusy {
			stats.Busy++
		} else {
			stats.Idle++
		}
		w.mu.RUnlock()
	}
	return stats
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(first Task) {
	defer w.pool.wg.Done()
	defer w.pool.retire(w)

	w.pool.logger.Debug("worker started",
		zap.String("worker_id", w.id),
		zap.Bool("burst", w.burst))

	if first != nil {
		w.execute(first)
	}

	var idle *time.Timer
	if w.burst {
		idle = time.NewTimer(w.pool.cfg.KeepAlive)
		defer idle.Stop()
	}

	for {
		var expired <-chan time.Time
		if idle != nil {
			expired = idle.C
		}

		select {
		case task, ok := <-w.pool.queue:
			if !ok {
				w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
				return
			}
			w.execute(task)
			if idle != nil {
				idle.Reset(w.pool.cfg.KeepAlive)
			}
		case <-expired:
			w.pool.logger.Debug("burst worker retired after keep-alive",
				zap.String("worker_id", w.id))
			return
		}
	}
}

// execute runs one task, recovering a panic so the worker survives it
func (w *worker) execute(task Task) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
		}
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	task(w.pool.ctx)
}
