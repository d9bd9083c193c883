// Package actor serializes work on one dedicated thread fed by one handoff
// queue. Only the actor's thread ever pops from the queue.
package actor

import (
	"sync/atomic"
	"time"

	"github.com/ranlab/rtcore/fifo"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
)

// Actor executes the items pushed to it one at a time, in push order.
type Actor struct {
	name      string
	queue     *fifo.Fifo
	th        *thread.Thread
	terminate atomic.Bool
	processed atomic.Uint64
}

// New starts an actor thread named name+"_actor", pinned to core unless core
// is thread.AnyCore.
func New(name string, core int) *Actor {
	a := &Actor{name: name, queue: fifo.New()}
	a.th = thread.Start(name+"_actor", core, a.loop)
	return a
}

func (a *Actor) loop() {
	for {
		it := a.queue.Pop()
		if it == nil {
			log.AssertFatal(a.terminate.Load(), "actor %s: queue returned no item while running", a.name)
			return
		}
		it.Run()
		a.processed.Add(1)
		if it.ResponseFifo != nil {
			it.ReturnTime = time.Now()
			it.ResponseFifo.Push(it)
		} else {
			it.Release()
		}
	}
}

// Push queues it for execution on the actor thread.
func (a *Actor) Push(it *fifo.Item) {
	a.queue.Push(it)
}

// Do queues fn with no payload and no response.
func (a *Actor) Do(fn func()) {
	a.queue.Push(fifo.NewItem(0, 0, nil, func(*fifo.Item) { fn() }))
}

func (a *Actor) Name() string {
	return a.name
}

// Processed returns the number of items executed so far.
func (a *Actor) Processed() uint64 {
	return a.processed.Load()
}

// Destroy stops the actor at once. Items still queued are released without
// running.
func (a *Actor) Destroy() {
	a.terminate.Store(true)
	a.queue.Abort()
	a.th.Join()
}

// Shutdown stops the actor after every item queued before the call has run.
// Items pushed concurrently with Shutdown may or may not run.
func (a *Actor) Shutdown() {
	resp := fifo.New()
	a.queue.Push(fifo.NewItem(0, 0, resp, func(*fifo.Item) {
		a.terminate.Store(true)
		a.queue.Abort()
	}))
	if it := resp.Pop(); it != nil {
		it.Release()
	}
	a.th.Join()
	log.DebugLog.Printf("actor %s: stopped after %d items", a.name, a.processed.Load())
}
