//go:build !linux

package shmchan

import (
	"sync/atomic"
	"time"
)

const pollInterval = 50 * time.Microsecond

// futexWait polls the word where futexes are unavailable.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(addr) == val {
		if !time.Now().Before(deadline) {
			return ErrFutexTimeout
		}
		time.Sleep(pollInterval)
	}
	return nil
}

func futexWakeAll(addr *uint32) error { return nil }
