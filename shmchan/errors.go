package shmchan

import "errors"

var (
	// ErrNotConnected is returned until the consumer has attached.
	ErrNotConnected = errors.New("shmchan: peer not connected")
	// ErrTooLate means the addressed samples are behind the channel clock
	// and were already consumed or overwritten.
	ErrTooLate = errors.New("shmchan: timestamp too late")
	// ErrTooEarly means the addressed samples are not available yet, or
	// writing them would overrun samples the peer has not consumed.
	ErrTooEarly = errors.New("shmchan: timestamp too early")

	ErrBadAntenna      = errors.New("shmchan: antenna index out of range")
	ErrTooManySamples  = errors.New("shmchan: sample count exceeds channel capacity")
	ErrClosed          = errors.New("shmchan: channel closed")
	ErrConnectTimeout  = errors.New("shmchan: timed out waiting for channel")
	ErrFutexTimeout    = errors.New("shmchan: futex timeout")
	errSegmentNotReady = errors.New("shmchan: segment not initialized")
)
