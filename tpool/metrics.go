package tpool

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks statistics for the worker pool.
type Metrics struct {
	TasksSubmitted atomic.Uint64
	TasksInline    atomic.Uint64
	TasksCompleted atomic.Uint64
	// BlockingPushes counts submissions that found every shard contended.
	BlockingPushes atomic.Uint64
	TotalLatency   atomic.Int64 // Nanoseconds
	MinLatency     atomic.Int64 // Nanoseconds
	MaxLatency     atomic.Int64 // Nanoseconds

	perWorker []atomic.Uint64
}

func newMetrics(workers int) *Metrics {
	return &Metrics{perWorker: make([]atomic.Uint64, workers)}
}

// AverageLatency returns the average task execution time.
func (m *Metrics) AverageLatency() time.Duration {
	completed := m.TasksCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(m.TotalLatency.Load() / int64(completed))
}

// WorkerExecuted returns the number of tasks run by worker id.
func (m *Metrics) WorkerExecuted(id int) uint64 {
	if id < 0 || id >= len(m.perWorker) {
		return 0
	}
	return m.perWorker[id].Load()
}

func (m *Metrics) recordTask(worker int, duration time.Duration) {
	m.TasksCompleted.Add(1)
	if worker >= 0 {
		m.perWorker[worker].Add(1)
	}
	m.recordLatency(duration)
}

// recordLatency updates latency metrics.
func (m *Metrics) recordLatency(duration time.Duration) {
	nanos := duration.Nanoseconds()
	m.TotalLatency.Add(nanos)

	for {
		current := m.MinLatency.Load()
		if current != 0 && nanos >= current {
			break
		}
		if m.MinLatency.CompareAndSwap(current, nanos) {
			break
		}
	}

	for {
		current := m.MaxLatency.Load()
		if nanos <= current {
			break
		}
		if m.MaxLatency.CompareAndSwap(current, nanos) {
			break
		}
	}
}

// String returns a formatted string representation of the metrics.
func (m *Metrics) String() string {
	return fmt.Sprintf(
		"Tasks: %d submitted, %d inline, %d completed, %d blocking pushes | "+
			"Latency: avg=%v, min=%v, max=%v",
		m.TasksSubmitted.Load(),
		m.TasksInline.Load(),
		m.TasksCompleted.Load(),
		m.BlockingPushes.Load(),
		m.AverageLatency(),
		time.Duration(m.MinLatency.Load()),
		time.Duration(m.MaxLatency.Load()),
	)
}
