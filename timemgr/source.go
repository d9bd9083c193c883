package timemgr

import (
	"sync"
	"time"

	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
)

// TickPeriod is the duration of one tick.
const TickPeriod = time.Millisecond

// SourceMode selects what paces a Source.
type SourceMode int

const (
	// Realtime ticks on wall clock millisecond boundaries.
	Realtime SourceMode = iota
	// IQSamples ticks once per millisecond worth of samples fed through
	// AddSamples.
	IQSamples
)

func (m SourceMode) String() string {
	switch m {
	case Realtime:
		return "realtime"
	case IQSamples:
		return "iq_samples"
	default:
		return "unknown"
	}
}

// Source drives a callback once per tick from its own thread.
type Source struct {
	mode SourceMode

	mu       sync.Mutex
	cond     *sync.Cond
	callback func()
	exit     bool

	// IQSamples mode only.
	samples   uint64
	perSecond uint64

	stop chan struct{}
	th   *thread.Thread
}

// NewSource starts a tick source. Ticks are dropped until SetCallback is
// called.
func NewSource(mode SourceMode) *Source {
	s := &Source{mode: mode, stop: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	switch mode {
	case Realtime:
		s.th = thread.Start("time_source", thread.AnyCore, s.runRealtime)
	case IQSamples:
		s.th = thread.Start("time_source", thread.AnyCore, s.runIQSamples)
	default:
		log.AssertFatal(false, "unknown time source mode %d", mode)
	}
	return s
}

func (s *Source) Mode() SourceMode {
	return s.mode
}

// SetCallback replaces the function run on every tick.
func (s *Source) SetCallback(fn func()) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

func (s *Source) tick() {
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// runRealtime sleeps to absolute deadlines so a late wakeup is followed by
// back to back ticks until the source caught up with the clock.
func (s *Source) runRealtime() {
	next := time.Now().Add(TickPeriod)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}
		for !time.Now().Before(next) {
			select {
			case <-s.stop:
				return
			default:
			}
			s.tick()
			next = next.Add(TickPeriod)
		}
		timer.Reset(time.Until(next))
	}
}

func (s *Source) runIQSamples() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for !s.exit && (s.perSecond == 0 || s.samples < s.perSecond/1000) {
			s.cond.Wait()
		}
		if s.exit {
			return
		}
		s.samples -= s.perSecond / 1000
		cb := s.callback
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
		s.mu.Lock()
	}
}

// AddSamples feeds count samples produced at perSecond samples per second.
// The rate is latched by the first call; a different rate later is a fatal
// error. The call is ignored on a nil or realtime source.
func (s *Source) AddSamples(count, perSecond uint64) {
	if s == nil || s.mode != IQSamples {
		return
	}
	s.mu.Lock()
	if s.perSecond == 0 {
		log.AssertFatal(perSecond >= 1000, "IQ samples per second must be at least 1000, got %d", perSecond)
		s.perSecond = perSecond
	} else {
		log.AssertFatal(s.perSecond == perSecond,
			"unsupported change of value 'IQ samples per second' (%d to %d)", s.perSecond, perSecond)
	}
	s.samples += count
	s.mu.Unlock()
	s.cond.Signal()
}

// Close stops the driver thread and waits for it.
func (s *Source) Close() {
	s.mu.Lock()
	if s.exit {
		s.mu.Unlock()
		return
	}
	s.exit = true
	s.mu.Unlock()

	// The realtime driver sleeps on a timer, the IQ driver on the condition.
	close(s.stop)
	s.cond.Broadcast()
	s.th.Join()
}
