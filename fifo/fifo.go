// Package fifo implements the handoff queue used to post work items between
// threads: an intrusive FIFO guarded by a mutex and a condition variable that
// can be aborted once to release every waiter.
package fifo

import (
	"sync"

	"github.com/ranlab/rtcore/log"
)

// Fifo is a blocking, abortable queue of Items.
type Fifo struct {
	mu      sync.Mutex
	cond    *sync.Cond
	head    *Item
	tail    *Item
	size    int
	aborted bool
}

// New returns an empty queue.
func New() *Fifo {
	f := &Fifo{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push appends it and wakes one waiter. Once the queue is aborted the item
// is released and dropped.
func (f *Fifo) Push(it *Item) {
	f.mu.Lock()
	if f.aborted {
		f.mu.Unlock()
		it.Release()
		return
	}
	f.pushLocked(it)
	f.mu.Unlock()
	f.cond.Signal()
}

func (f *Fifo) pushLocked(it *Item) {
	log.AssertFatal(it.owner == nil && it.next == nil && it != f.tail,
		"item key %d pushed while still queued", it.Key)
	it.owner = f
	if f.tail != nil {
		f.tail.next = it
	} else {
		f.head = it
	}
	f.tail = it
	f.size++
}

func (f *Fifo) popLocked() *Item {
	it := f.head
	if it == nil {
		return nil
	}
	log.AssertFatal(it.next != it, "circular list in fifo")
	f.head = it.next
	if f.head == nil {
		f.tail = nil
	}
	it.next = nil
	it.owner = nil
	f.size--
	return it
}

// Pop blocks until an item is available and returns it. It returns nil once
// the queue has been aborted.
func (f *Fifo) Pop() *Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.head == nil && !f.aborted {
		f.cond.Wait()
	}
	if f.aborted {
		return nil
	}
	return f.popLocked()
}

// TryPop returns the head item without blocking. It returns nil when the
// queue is empty, aborted, or its lock is held by another thread.
func (f *Fifo) TryPop() *Item {
	if !f.mu.TryLock() {
		return nil
	}
	defer f.mu.Unlock()
	if f.aborted {
		return nil
	}
	return f.popLocked()
}

// Abort releases every queued item and wakes all waiters. Later pushes are
// dropped and later pops return nil immediately.
func (f *Fifo) Abort() {
	f.mu.Lock()
	f.aborted = true
	for it := f.popLocked(); it != nil; it = f.popLocked() {
		it.Release()
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Aborted reports whether Abort has been called.
func (f *Fifo) Aborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// Len returns the number of queued items.
func (f *Fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}
