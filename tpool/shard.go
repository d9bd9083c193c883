package tpool

import (
	"sync"
	"sync/atomic"
)

// DefaultShardCapacity is the initial number of task slots of a shard.
const DefaultShardCapacity = 256

// Task is a plain function call scheduled on the pool. A task whose Func and
// Args are both nil is the shutdown sentinel.
type Task struct {
	Func func(args any)
	Args any
}

func (t Task) isSentinel() bool {
	return t.Func == nil && t.Args == nil
}

// ring is a growable circular buffer of tasks. The capacity is a power of two
// and the cursors wrap by masking.
type ring struct {
	buf  []Task
	head uint64
	tail uint64
}

func newRing(capacity int) ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("tpool: ring capacity must be a power of two")
	}
	return ring{buf: make([]Task, capacity)}
}

func (r *ring) len() int {
	return int(r.head - r.tail)
}

func (r *ring) capacity() int {
	return len(r.buf)
}

func (r *ring) mask() uint64 {
	return uint64(len(r.buf) - 1)
}

func (r *ring) push(t Task) {
	if r.len() == len(r.buf) {
		r.grow()
	}
	r.buf[r.head&r.mask()] = t
	r.head++
}

func (r *ring) pop() (Task, bool) {
	if r.head == r.tail {
		return Task{}, false
	}
	idx := r.tail & r.mask()
	t := r.buf[idx]
	r.buf[idx] = Task{}
	r.tail++
	return t, true
}

// grow doubles the capacity. Elements keep their logical order: the segment
// from the tail to the end of the old buffer is copied first, then the
// wrapped segment from its start.
func (r *ring) grow() {
	n := r.len()
	next := make([]Task, 2*len(r.buf))
	start := int(r.tail & r.mask())
	if start+n <= len(r.buf) {
		copy(next, r.buf[start:start+n])
	} else {
		first := copy(next, r.buf[start:])
		copy(next[first:], r.buf[:n-first])
	}
	r.buf = next
	r.tail = 0
	r.head = uint64(n)
}

// shard is one worker's task queue.
type shard struct {
	mu   sync.Mutex
	cond *sync.Cond
	r    ring
	size atomic.Int64
}

func newShard(capacity int) *shard {
	s := &shard{r: newRing(capacity)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// TryPush fails only when the shard lock is held by someone else.
func (s *shard) TryPush(t Task) bool {
	if !s.mu.TryLock() {
		return false
	}
	s.pushLocked(t)
	return true
}

// Push always succeeds once the lock is obtained.
func (s *shard) Push(t Task) {
	s.mu.Lock()
	s.pushLocked(t)
}

func (s *shard) pushLocked(t Task) {
	s.r.push(t)
	s.size.Add(1)
	s.mu.Unlock()
	s.cond.Signal()
}

// TryPop returns false on contention or when the shard is empty.
func (s *shard) TryPop() (Task, bool) {
	if !s.mu.TryLock() {
		return Task{}, false
	}
	defer s.mu.Unlock()
	t, ok := s.r.pop()
	if ok {
		s.size.Add(-1)
	}
	return t, ok
}

// Pop waits until a task is available.
func (s *shard) Pop() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.r.len() == 0 {
		s.cond.Wait()
	}
	t, _ := s.r.pop()
	s.size.Add(-1)
	return t
}

// Len is a lock-free snapshot of the number of queued tasks.
func (s *shard) Len() int {
	return int(s.size.Load())
}
