// Package tpool is a sharded worker pool. Every worker owns a ring shard;
// submissions are spread round-robin over the shards and idle workers steal
// from their peers before blocking on their own shard.
package tpool

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
)

// MaxWorkers bounds the number of entries of a pool layout.
const MaxWorkers = 128

// ParseLayout reads a comma separated worker layout. Each token is a core
// index, -1 for a floating worker, or a word starting with 'n' or 'N' which
// adds no worker. "n" alone therefore selects inline execution.
func ParseLayout(params string) ([]int, error) {
	var cores []int
	for _, tok := range strings.Split(params, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok[0] == 'n' || tok[0] == 'N' {
			continue
		}
		core, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid pool layout token %q: %w", tok, err)
		}
		if core < thread.AnyCore {
			return nil, fmt.Errorf("invalid core index %d in pool layout", core)
		}
		cores = append(cores, core)
		if len(cores) > MaxWorkers {
			return nil, fmt.Errorf("pool layout %q has more than %d workers", params, MaxWorkers)
		}
	}
	return cores, nil
}

// Pool runs tasks on a fixed set of worker threads.
type Pool struct {
	name    string
	cores   []int
	shards  []*shard
	workers []*thread.Thread
	alive   []atomic.Bool
	index   atomic.Uint64
	closed  atomic.Bool
	metrics *Metrics
}

// New builds a pool from a layout string, see ParseLayout.
func New(params, name string) (*Pool, error) {
	cores, err := ParseLayout(params)
	if err != nil {
		return nil, err
	}
	return NewWithCores(cores, name), nil
}

// NewFloating builds a pool of n unpinned workers.
func NewFloating(n int, name string) (*Pool, error) {
	if n < 0 || n > MaxWorkers {
		return nil, fmt.Errorf("invalid number of workers %d", n)
	}
	cores := make([]int, n)
	for i := range cores {
		cores[i] = thread.AnyCore
	}
	return NewWithCores(cores, name), nil
}

// NewWithCores starts one worker per entry of cores. It returns once every
// worker is running. An empty list builds an inline pool.
func NewWithCores(cores []int, name string) *Pool {
	n := len(cores)
	p := &Pool{
		name:    name,
		cores:   append([]int(nil), cores...),
		metrics: newMetrics(n),
	}
	if n == 0 {
		log.InfoLog.Printf("pool %s: no workers, tasks run inline", name)
		return p
	}

	p.shards = make([]*shard, n)
	for i := range p.shards {
		p.shards[i] = newShard(DefaultShardCapacity)
	}
	p.alive = make([]atomic.Bool, n)
	p.workers = make([]*thread.Thread, n)
	for i, core := range cores {
		p.alive[i].Store(true)
		id := i
		p.workers[i] = thread.Start(fmt.Sprintf("%s%d_%d", name, i, core), core, func() {
			p.work(id)
		})
	}
	log.InfoLog.Printf("pool %s: started %d workers on cores %v", name, n, cores)
	return p
}

// Workers returns the number of worker threads, zero for an inline pool.
func (p *Pool) Workers() int {
	return len(p.workers)
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Pending is a snapshot of the number of queued tasks.
func (p *Pool) Pending() int {
	total := 0
	for _, s := range p.shards {
		total += s.Len()
	}
	return total
}

// Submit schedules fn(args). On an inline pool fn runs before Submit returns.
func (p *Pool) Submit(fn func(args any), args any) {
	log.AssertFatal(fn != nil, "pool %s: nil task function", p.name)
	log.AssertFatal(!p.closed.Load(), "pool %s: submit after shutdown", p.name)
	p.metrics.TasksSubmitted.Add(1)

	if len(p.shards) == 0 {
		p.metrics.TasksInline.Add(1)
		start := time.Now()
		fn(args)
		p.metrics.recordTask(-1, time.Since(start))
		return
	}
	p.dispatch(Task{Func: fn, Args: args})
}

// dispatch tries every shard once starting at the next dispatch index and
// falls back to a blocking push on the shard that index selects.
func (p *Pool) dispatch(t Task) {
	n := uint64(len(p.shards))
	idx := p.index.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		if p.shards[(idx+i)%n].TryPush(t) {
			return
		}
	}
	p.metrics.BlockingPushes.Add(1)
	p.shards[idx%n].Push(t)
}

func (p *Pool) work(id int) {
	n := len(p.shards)
	own := p.shards[id]
	for {
		t, ok := Task{}, false
		for i := 0; i < 2*n && !ok; i++ {
			t, ok = p.shards[(id+i)%n].TryPop()
		}
		if !ok {
			t = own.Pop()
		}
		if t.isSentinel() {
			p.retire(id, t)
			return
		}
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	start := time.Now()
	t.Func(t.Args)
	p.metrics.recordTask(id, time.Since(start))
}

// retire finishes the tasks left on the worker's own shard and hands the
// sentinel to the next live worker. The last worker out drains every shard,
// so no task submitted before Shutdown is lost.
func (p *Pool) retire(id int, sentinel Task) {
	n := len(p.shards)
	p.drain(id, p.shards[id])
	p.alive[id].Store(false)
	for i := 1; i < n; i++ {
		next := (id + i) % n
		if p.alive[next].Load() {
			p.shards[next].Push(sentinel)
			return
		}
	}
	for _, s := range p.shards {
		p.drain(id, s)
	}
}

func (p *Pool) drain(id int, s *shard) {
	for {
		s.mu.Lock()
		t, ok := s.r.pop()
		if ok {
			s.size.Add(-1)
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		if !t.isSentinel() {
			p.run(id, t)
		}
	}
}

// Shutdown sends one sentinel through the pool and waits for every worker to
// exit. Tasks submitted before Shutdown all run. Submitting afterwards is a
// programming error.
func (p *Pool) Shutdown() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	if len(p.shards) == 0 {
		return
	}
	p.dispatch(Task{})
	for _, w := range p.workers {
		w.Join()
	}
	p.shards = nil
	log.InfoLog.Printf("pool %s: stopped. %s", p.name, p.metrics)
}
