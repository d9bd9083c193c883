// Package barrier provides a join counter whose target and completion
// callback may be set after the first joins have arrived.
package barrier

import (
	"sync"
)

// Barrier runs a callback once a target number of joins has been reached.
type Barrier struct {
	mu        sync.Mutex
	completed int
	maxJoins  int
	callback  func()
}

func New() *Barrier {
	return &Barrier{}
}

// Join records one arrival. If a callback is armed and the target is reached
// the counter resets, the callback is disarmed and then run on the caller.
func (b *Barrier) Join() {
	b.mu.Lock()
	b.completed++
	if b.callback == nil || b.completed != b.maxJoins {
		b.mu.Unlock()
		return
	}
	cb := b.callback
	b.completed = 0
	b.callback = nil
	b.mu.Unlock()
	cb()
}

// Update arms the barrier for maxJoins arrivals. If that many joins already
// happened, cb runs immediately on the caller and the counter resets.
func (b *Barrier) Update(maxJoins int, cb func()) {
	b.mu.Lock()
	if b.completed == maxJoins {
		b.completed = 0
		b.callback = nil
		b.mu.Unlock()
		cb()
		return
	}
	b.maxJoins = maxJoins
	b.callback = cb
	b.mu.Unlock()
}

// Completed returns the number of joins since the last reset.
func (b *Barrier) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}
