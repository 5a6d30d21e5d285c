package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	executionsStarted   *prometheus.CounterVec
	executionsFinished  *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	activeExecutions    prometheus.Gauge
	eventsDropped       *prometheus.CounterVec
	submissionsRejected prometheus.Counter
	workerPoolIdle      prometheus.Gauge
	workerPoolBusy      prometheus.Gauge
	queueDepth          prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer to expose the metrics on promhttp.Handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		executionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unite_executions_started_total",
				Help: "Total number of workflow executions started",
			},
			[]string{"definition_id"},
		),
		executionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unite_executions_finished_total",
				Help: "Total number of workflow executions that reached a terminal status",
			},
			[]string{"status"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unite_execution_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "unite_active_executions",
				Help: "Number of currently active executions",
			},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unite_events_dropped_total",
				Help: "Total number of events dropped because a subscriber buffer was full",
			},
			[]string{"topic"},
		),
		submissionsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "unite_submissions_rejected_total",
				Help: "Total number of submissions rejected by a saturated worker pool",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "unite_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "unite_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "unite_queue_depth",
				Help: "Current depth of the execution queue",
			},
		),
	}
}

// RecordExecutionStarted counts an execution entering PENDING
func (c *Collector) RecordExecutionStarted(definitionID string) {
	c.executionsStarted.WithLabelValues(definitionID).Inc()
}

// RecordExecutionFinished counts a terminal transition and observes its duration
func (c *Collector) RecordExecutionFinished(status string, duration time.Duration) {
	c.executionsFinished.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveExecutions sets the number of currently active executions
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// RecordEventDropped counts an event not delivered to a slow subscriber
func (c *Collector) RecordEventDropped(topic string) {
	c.eventsDropped.WithLabelValues(topic).Inc()
}

// RecordSubmissionRejected counts a submission refused for lack of capacity
func (c *Collector) RecordSubmissionRejected() {
	c.submissionsRejected.Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, queued int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.queueDepth.Set(float64(queued))
}
