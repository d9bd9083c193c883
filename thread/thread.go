// Package thread runs functions on dedicated, optionally pinned, OS threads.
package thread

import (
	"runtime"

	"github.com/ranlab/rtcore/log"
)

// AnyCore leaves the thread floating on every CPU the process may use.
const AnyCore = -1

// maxNameLen is the kernel limit for a thread name, without the NUL.
const maxNameLen = 15

// Thread is a goroutine locked to its own OS thread.
type Thread struct {
	name string
	core int
	done chan struct{}
}

// Start launches fn on a new OS thread named name. A core >= 0 pins the
// thread to that CPU. Failing to apply the name or the affinity is logged and
// the thread keeps running unpinned.
func Start(name string, core int, fn func()) *Thread {
	t := &Thread{name: name, core: core, done: make(chan struct{})}
	ready := make(chan struct{})
	go func() {
		// The thread is never unlocked: the runtime destroys it when fn
		// returns, so its name and affinity do not leak to other goroutines.
		runtime.LockOSThread()
		defer close(t.done)

		if err := setName(name); err != nil {
			log.DebugLog.Printf("thread %s: cannot set name: %v", name, err)
		}
		if core >= 0 {
			if err := setAffinity(core); err != nil {
				log.WarningLog.Printf("thread %s: cannot pin to core %d: %v", name, core, err)
			}
		}
		close(ready)
		fn()
	}()
	<-ready
	return t
}

// Join blocks until the thread function has returned.
func (t *Thread) Join() {
	<-t.done
}

// Done is closed once the thread function has returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) Core() int {
	return t.core
}

func truncateName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}
