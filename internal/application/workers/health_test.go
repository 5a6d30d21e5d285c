package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type poolStatusRecorder struct {
	calls chan [3]int
}

func (r *poolStatusRecorder) RecordExecutionStarted(string)                 {}
func (r *poolStatusRecorder) RecordExecutionFinished(string, time.Duration) {}
func (r *poolStatusRecorder) SetActiveExecutions(int)                       {}
func (r *poolStatusRecorder) RecordEventDropped(string)                     {}
func (r *poolStatusRecorder) RecordSubmissionRejected()                     {}
func (r *poolStatusRecorder) RecordWorkerPoolStatus(idle, busy, queued int) {
	select {
	case r.calls <- [3]int{idle, busy, queued}:
	default:
	}
}

func TestHealthMonitor_Status(t *testing.T) {
	pool := NewPool(Config{CoreWorkers: 3, MaxWorkers: 3, QueueSize: 1}, nil, zap.NewNop())
	assert.False(t, pool.Health().IsHealthy(), "no workers before start")

	require.NoError(t, pool.Start())
	status := pool.Health().GetStatus()
	assert.Equal(t, 3, status.TotalWorkers)
	assert.Equal(t, 3, status.IdleWorkers)
	assert.True(t, status.Healthy)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.False(t, pool.Health().IsHealthy())
}

func TestHealthMonitor_RecordsMetrics(t *testing.T) {
	recorder := &poolStatusRecorder{calls: make(chan [3]int, 1)}
	pool := NewPool(Config{CoreWorkers: 2, MaxWorkers: 2, QueueSize: 1, HealthCheckInterval: 10 * time.Millisecond}, recorder, zap.NewNop())
	require.NoError(t, pool.Start())
	defer func() { _ = pool.Shutdown(context.Background()) }()

	select {
	case got := <-recorder.calls:
		assert.Equal(t, [3]int{2, 0, 0}, got)
	case <-time.After(time.Second):
		t.Fatal("health check did not record pool status")
	}
}
