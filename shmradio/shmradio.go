// Package shmradio is a radio device backed by a shared-memory sample
// channel. The server side plays the radio front end: it owns the channel
// clock and advances it at the configured sample rate. The client side is
// the baseband process reading and writing samples against that clock.
package shmradio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/iqrecord"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/shmchan"
	"github.com/ranlab/rtcore/thread"
)

// DefaultConnectTimeout bounds how long a client waits for the server.
const DefaultConnectTimeout = 10 * time.Second

// Config describes a device.
type Config struct {
	ChannelName string
	Server      bool
	// Timescale is simulated time per wall clock time. 1 is realtime.
	Timescale  float64
	SampleRate float64
	// Capacity is the per-antenna ring size; zero selects the channel default.
	Capacity uint64
	// SampleAdvance is subtracted from every transmit timestamp.
	SampleAdvance  uint64
	ConnectTimeout time.Duration
}

// ConfigFrom converts the configuration file section.
func ConfigFrom(c config.ShmRadio) Config {
	return Config{
		ChannelName:    c.ChannelName,
		Server:         c.Role == config.RoleServer,
		Timescale:      c.Timescale,
		SampleRate:     c.SampleRate,
		Capacity:       c.Capacity,
		SampleAdvance:  c.SampleAdvance,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

func (c Config) role() string {
	if c.Server {
		return config.RoleServer
	}
	return config.RoleClient
}

// SampleSink is told about every batch of samples the server clock produces,
// e.g. to pace a tick source.
type SampleSink func(count, perSecond uint64)

// Option customizes a Device.
type Option func(*Device)

// WithSampleSink registers fn for the produced sample batches.
func WithSampleSink(fn SampleSink) Option {
	return func(d *Device) { d.sink = fn }
}

// WithRecorder copies every transmitted block to w.
func WithRecorder(w *iqrecord.Writer) Option {
	return func(d *Device) { d.recorder = w }
}

// Device is one end of a shared-memory radio link.
type Device struct {
	cfg      Config
	ch       *shmchan.Channel
	sink     SampleSink
	recorder *iqrecord.Writer

	lastReceived uint64
	started      time.Time

	txSamplesLate  atomic.Uint64
	txEarly        atomic.Uint64
	txSamplesTotal atomic.Uint64
	rxSamplesLate  atomic.Uint64
	rxEarly        atomic.Uint64
	rxSamplesTotal atomic.Uint64

	budgetMu        sync.Mutex
	averageTxBudget float64

	produced  atomic.Uint64
	runTiming atomic.Bool
	timing    *thread.Thread
}

// New prepares a device. Start attaches it to the channel.
func New(cfg Config, opts ...Option) (*Device, error) {
	if cfg.ChannelName == "" {
		return nil, fmt.Errorf("shm radio: empty channel name")
	}
	if cfg.SampleRate < 1000 {
		return nil, fmt.Errorf("shm radio: invalid sample rate %v", cfg.SampleRate)
	}
	if cfg.Timescale <= 0 {
		return nil, fmt.Errorf("shm radio: invalid timescale %v", cfg.Timescale)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	d := &Device{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Server {
		log.InfoLog.Printf("shm radio: running as server, waiting for client to connect")
	} else {
		log.InfoLog.Printf("shm radio: running as client, will connect to a shm radio server")
	}
	return d, nil
}

// Start creates or joins the channel. A server blocks until the client has
// connected and then starts advancing the channel clock.
func (d *Device) Start(ctx context.Context) error {
	var opts []shmchan.Option
	if d.cfg.Capacity > 0 {
		opts = append(opts, shmchan.WithCapacity(d.cfg.Capacity))
	}

	if !d.cfg.Server {
		ch, err := shmchan.Connect(d.cfg.ChannelName, d.cfg.ConnectTimeout, opts...)
		if err != nil {
			return fmt.Errorf("shm radio: %w", err)
		}
		d.ch = ch
		d.started = time.Now()
		return nil
	}

	ch, err := shmchan.Create(d.cfg.ChannelName, 1, 1, opts...)
	if err != nil {
		return fmt.Errorf("shm radio: %w", err)
	}
	d.ch = ch
	every := log.NewEvery(time.Second)
	for !ch.IsConnected() {
		if every.ShouldLog() {
			log.InfoLog.Printf("shm radio: waiting for client")
		}
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := ch.WaitConnected(waitCtx)
		cancel()
		if err != nil && ctx.Err() != nil {
			ch.Close()
			d.ch = nil
			return fmt.Errorf("shm radio: waiting for client: %w", ctx.Err())
		}
	}

	d.started = time.Now()
	d.runTiming.Store(true)
	d.timing = thread.Start("shm_radio_timing", thread.AnyCore, d.timingLoop)
	return nil
}

// timingLoop advances the channel by the samples elapsed since the previous
// round. The fractional part is carried over so rounding does not drift.
func (d *Device) timingLoop() {
	rate := d.cfg.SampleRate * d.cfg.Timescale
	perSecond := uint64(d.cfg.SampleRate)
	last := time.Now()
	leftover := 0.0
	for d.runTiming.Load() {
		now := time.Now()
		diff := now.Sub(last)
		last = now

		samples := rate * diff.Seconds()
		produce := uint64(samples)
		leftover += samples - float64(produce)
		if leftover > 1 {
			produce++
			leftover--
		}
		if produce > 0 {
			d.ch.Advance(produce)
			d.produced.Add(produce)
			if d.sink != nil {
				d.sink(produce, perSecond)
			}
		}
		time.Sleep(time.Microsecond)
	}
}

// Produced returns the number of samples the server clock has advanced.
func (d *Device) Produced() uint64 {
	return d.produced.Load()
}

// Channel returns the underlying channel, nil before Start.
func (d *Device) Channel() *shmchan.Channel {
	return d.ch
}

// CurrentSample returns the channel clock.
func (d *Device) CurrentSample() uint64 {
	return d.ch.CurrentSample()
}

// Write transmits samples at timestamp minus the sample advance. Late and
// early blocks are counted, not returned; other channel errors are.
func (d *Device) Write(timestamp uint64, samples []shmchan.Sample) error {
	timestamp -= d.cfg.SampleAdvance
	cur := d.ch.CurrentSample()
	budget := float64(int64(timestamp-cur)) / (d.cfg.SampleRate / 1e6)
	d.budgetMu.Lock()
	d.averageTxBudget = .05*budget + .95*d.averageTxBudget
	d.budgetMu.Unlock()

	n := uint64(len(samples))
	d.txSamplesTotal.Add(n)
	err := d.ch.Transmit(timestamp, samples, 0)
	switch {
	case errors.Is(err, shmchan.ErrTooLate):
		d.txSamplesLate.Add(n)
		return nil
	case errors.Is(err, shmchan.ErrTooEarly):
		d.txEarly.Add(1)
		return nil
	case err != nil:
		return err
	}
	if d.recorder != nil {
		if err := d.recorder.WriteFrame(timestamp, 0, samples); err != nil {
			log.ErrorLog.Printf("shm radio: recording: %v", err)
		}
	}
	return nil
}

// Read waits until len(out) new samples are available, reads them and
// returns their timestamp. Reads are consecutive: each call continues where
// the previous one stopped.
func (d *Device) Read(ctx context.Context, out []shmchan.Sample) (uint64, error) {
	n := uint64(len(out))
	if err := d.ch.WaitUntil(ctx, d.lastReceived+n); err != nil {
		return 0, err
	}
	ts := d.lastReceived
	d.rxSamplesTotal.Add(n)
	err := d.ch.Receive(ts, out, 0)
	switch {
	case errors.Is(err, shmchan.ErrTooLate):
		d.rxSamplesLate.Add(n)
	case errors.Is(err, shmchan.ErrTooEarly):
		d.rxEarly.Add(1)
	case err != nil:
		return 0, err
	}
	d.lastReceived += n
	return ts, nil
}

// Report summarizes a device session.
type Report struct {
	Role            string
	Channel         string
	Started         time.Time
	Ended           time.Time
	TxSamplesLate   uint64
	TxEarly         uint64
	TxSamplesTotal  uint64
	RxSamplesLate   uint64
	RxEarly         uint64
	RxSamplesTotal  uint64
	AverageTxBudget float64 // microseconds
}

// TxLatePercent is the share of transmitted samples that missed the clock.
func (r Report) TxLatePercent() float64 {
	return percent(r.TxSamplesLate, r.TxSamplesTotal)
}

// RxLatePercent is the share of received samples that were overwritten.
func (r Report) RxLatePercent() float64 {
	return percent(r.RxSamplesLate, r.RxSamplesTotal)
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Stats returns the counters so far.
func (d *Device) Stats() Report {
	d.budgetMu.Lock()
	budget := d.averageTxBudget
	d.budgetMu.Unlock()
	return Report{
		Role:            d.cfg.role(),
		Channel:         d.cfg.ChannelName,
		Started:         d.started,
		TxSamplesLate:   d.txSamplesLate.Load(),
		TxEarly:         d.txEarly.Load(),
		TxSamplesTotal:  d.txSamplesTotal.Load(),
		RxSamplesLate:   d.rxSamplesLate.Load(),
		RxEarly:         d.rxEarly.Load(),
		RxSamplesTotal:  d.rxSamplesTotal.Load(),
		AverageTxBudget: budget,
	}
}

// End stops the clock, logs the session statistics and closes the channel.
func (d *Device) End() Report {
	if d.timing != nil {
		d.runTiming.Store(false)
		d.timing.Join()
		d.timing = nil
	}
	r := d.Stats()
	r.Ended = time.Now()
	log.InfoLog.Printf("shm radio: realtime issues: TX %.2f%%, RX %.2f%%", r.TxLatePercent(), r.RxLatePercent())
	log.InfoLog.Printf("shm radio: read/write too early (suspected radio implementation error) TX: %d, RX: %d",
		r.TxEarly, r.RxEarly)
	log.InfoLog.Printf("shm radio: average TX budget %.3f us", r.AverageTxBudget)
	if d.ch != nil {
		if err := d.ch.Close(); err != nil {
			log.WarningLog.Printf("shm radio: closing channel: %v", err)
		}
	}
	return r
}
