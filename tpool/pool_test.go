package tpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayout(t *testing.T) {
	tests := []struct {
		params string
		want   []int
	}{
		{"n", nil},
		{"N", nil},
		{"", nil},
		{"-1", []int{-1}},
		{"-1,-1,-1", []int{-1, -1, -1}},
		{"0, 2,N,5", []int{0, 2, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.params, func(t *testing.T) {
			got, err := ParseLayout(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseLayout("1,x2")
		assert.Error(t, err)
		_, err = ParseLayout("-2")
		assert.Error(t, err)
	})

	t.Run("rejects too many workers", func(t *testing.T) {
		params := "-1"
		for i := 0; i < MaxWorkers; i++ {
			params += ",-1"
		}
		_, err := ParseLayout(params)
		assert.Error(t, err)
	})
}

func TestInlinePool(t *testing.T) {
	p, err := New("n", "inline")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Workers())

	caller := make(chan struct{})
	ran := false
	p.Submit(func(args any) {
		ran = true
		assert.Equal(t, caller, args)
	}, caller)
	// Inline execution completes before Submit returns.
	assert.True(t, ran)
	assert.Equal(t, uint64(1), p.Metrics().TasksInline.Load())
	p.Shutdown()
}

func TestPoolConservation(t *testing.T) {
	for _, workers := range []int{0, 1, 2, 4, 8} {
		workers := workers
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			p, err := NewFloating(workers, "cons")
			require.NoError(t, err)

			const tasks = 2000
			counts := make([]atomic.Int32, tasks)
			var wg sync.WaitGroup
			for g := 0; g < 4; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := g; i < tasks; i += 4 {
						p.Submit(func(args any) { counts[args.(int)].Add(1) }, i)
					}
				}(g)
			}
			wg.Wait()
			p.Shutdown()

			for i := range counts {
				require.Equal(t, int32(1), counts[i].Load(), "task %d", i)
			}
			assert.Equal(t, uint64(tasks), p.Metrics().TasksCompleted.Load())
		})
	}
}

func TestPoolHundredTasksSingleWorker(t *testing.T) {
	p, err := New("-1", "single")
	require.NoError(t, err)
	var processed atomic.Int32
	for i := 0; i < 100; i++ {
		p.Submit(func(any) { processed.Add(1) }, nil)
	}
	p.Shutdown()
	assert.Equal(t, int32(100), processed.Load())
	assert.Equal(t, uint64(100), p.Metrics().WorkerExecuted(0))
}

func TestPoolSlowTasksDrainOnShutdown(t *testing.T) {
	p, err := NewFloating(3, "slow")
	require.NoError(t, err)
	var processed atomic.Int32
	for i := 0; i < 30; i++ {
		p.Submit(func(any) {
			time.Sleep(time.Millisecond)
			processed.Add(1)
		}, nil)
	}
	p.Shutdown()
	assert.Equal(t, int32(30), processed.Load())
}

func TestPoolRunsConcurrently(t *testing.T) {
	p, err := NewFloating(4, "par")
	require.NoError(t, err)
	defer p.Shutdown()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		p.Submit(func(any) {
			defer wg.Done()
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
		}, nil)
	}
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
}

func TestSubmitAfterShutdownPanics(t *testing.T) {
	p, err := NewFloating(1, "closed")
	require.NoError(t, err)
	p.Shutdown()
	assert.Panics(t, func() { p.Submit(func(any) {}, nil) })
	assert.NotPanics(t, p.Shutdown)
}

func TestMetricsLatency(t *testing.T) {
	m := newMetrics(1)
	m.recordTask(0, 3*time.Millisecond)
	m.recordTask(0, time.Millisecond)
	m.recordTask(0, 5*time.Millisecond)

	assert.Equal(t, 3*time.Millisecond, m.AverageLatency())
	assert.Equal(t, int64(time.Millisecond), m.MinLatency.Load())
	assert.Equal(t, int64(5*time.Millisecond), m.MaxLatency.Load())
	assert.Equal(t, uint64(3), m.WorkerExecuted(0))
	assert.Contains(t, m.String(), "3 completed")
}
