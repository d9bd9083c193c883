// Package shmchan implements a timestamp addressed sample channel shared by
// two processes through a memory mapped file.
//
// The producer creates the segment and owns the channel clock: the number of
// samples elapsed since the channel was created. Each endpoint writes its
// transmit rings and reads its receive rings at absolute sample timestamps.
// The rings are not locked; the clock window checks keep a reader off slots
// the writer has not produced yet and a writer off slots not yet consumed.
package shmchan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ranlab/rtcore/log"
)

// Role tells which side of the channel an endpoint is.
type Role int

const (
	// Producer created the segment, advances the clock and unlinks the
	// segment on Close.
	Producer Role = iota
	// Consumer attached to an existing segment.
	Consumer
)

func (r Role) String() string {
	switch r {
	case Producer:
		return "producer"
	case Consumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// waitSlice bounds a single futex sleep so cancellation is noticed.
const waitSlice = 10 * time.Millisecond

type options struct {
	capacity        uint64
	connectInterval time.Duration
}

// Option customizes Create and Connect.
type Option func(*options)

// WithCapacity sets the per-antenna ring size in samples. Only the producer
// uses it; consumers read the capacity from the segment.
func WithCapacity(samples uint64) Option {
	return func(o *options) { o.capacity = samples }
}

// WithConnectInterval sets how often Connect retries opening the segment.
func WithConnectInterval(d time.Duration) Option {
	return func(o *options) { o.connectInterval = d }
}

func buildOptions(opts []Option) options {
	o := options{capacity: DefaultCapacity, connectInterval: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Channel is one endpoint of a shared-memory sample channel.
type Channel struct {
	name     string
	path     string
	role     Role
	file     *os.File
	mem      []byte
	hdr      *header
	capacity uint64
	// tx are the rings this endpoint writes, rx the rings it reads.
	tx [][]Sample
	rx [][]Sample
}

// Create builds a new zeroed channel with the given number of producer
// transmit and receive antennas and returns its producer endpoint.
func Create(name string, txAntennas, rxAntennas int, opts ...Option) (*Channel, error) {
	o := buildOptions(opts)
	if txAntennas < 0 || rxAntennas < 0 || txAntennas+rxAntennas == 0 {
		return nil, fmt.Errorf("invalid antenna counts tx=%d rx=%d", txAntennas, rxAntennas)
	}
	if o.capacity == 0 {
		return nil, fmt.Errorf("invalid channel capacity 0")
	}

	path := SegmentPath(name)
	size := SegmentSize(txAntennas, rxAntennas, o.capacity)
	file, mem, err := createSegment(path, size)
	if err != nil {
		return nil, err
	}

	c := &Channel{name: name, path: path, role: Producer, file: file, mem: mem}
	c.hdr = (*header)(unsafe.Pointer(&mem[0]))
	c.hdr.txAntennas = int32(txAntennas)
	c.hdr.rxAntennas = int32(rxAntennas)
	c.hdr.capacity = o.capacity
	atomic.StoreUint64(&c.hdr.timestamp, 0)
	atomic.StoreUint32(&c.hdr.connected, 0)
	c.mapRings()
	atomic.StoreUint32(&c.hdr.magic, Magic)

	log.InfoLog.Printf("shmchan %s: created at %s (tx=%d rx=%d capacity=%d)",
		name, path, txAntennas, rxAntennas, o.capacity)
	return c, nil
}

// Connect attaches to the channel created under name. It retries once per
// connect interval until the segment exists and is initialized, or until
// timeout elapses.
func Connect(name string, timeout time.Duration, opts ...Option) (*Channel, error) {
	o := buildOptions(opts)
	path := SegmentPath(name)
	deadline := time.Now().Add(timeout)

	for {
		c, err := tryConnect(name, path)
		if err == nil {
			atomic.StoreUint32(&c.hdr.connected, 1)
			c.bump()
			log.InfoLog.Printf("shmchan %s: connected (capacity=%d)", name, c.capacity)
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errSegmentNotReady) {
			return nil, err
		}
		if !time.Now().Add(o.connectInterval).Before(deadline) {
			return nil, fmt.Errorf("%w %s after %v", ErrConnectTimeout, name, timeout)
		}
		log.DebugLog.Printf("shmchan %s: not available yet, retrying", name)
		time.Sleep(o.connectInterval)
	}
}

func tryConnect(name, path string) (*Channel, error) {
	file, mem, err := openSegment(path, HeaderSize)
	if err != nil {
		return nil, err
	}
	c := &Channel{name: name, path: path, role: Consumer, file: file, mem: mem}
	c.hdr = (*header)(unsafe.Pointer(&mem[0]))

	if atomic.LoadUint32(&c.hdr.magic) != Magic {
		c.unmap()
		return nil, errSegmentNotReady
	}
	need := SegmentSize(int(c.hdr.txAntennas), int(c.hdr.rxAntennas), c.hdr.capacity)
	if len(mem) < need {
		c.unmap()
		return nil, fmt.Errorf("segment %s truncated: %d bytes, want %d", path, len(mem), need)
	}
	c.mapRings()
	return c, nil
}

// mapRings slices the sample rings out of the mapping. The producer writes
// the first txAntennas rings and reads the rest; the consumer does the
// opposite, so one side's transmit is the other side's receive.
func (c *Channel) mapRings() {
	c.capacity = c.hdr.capacity
	tx, rx := int(c.hdr.txAntennas), int(c.hdr.rxAntennas)
	rings := make([][]Sample, tx+rx)
	for i := range rings {
		off := ringOffset(i, c.capacity)
		rings[i] = unsafe.Slice((*Sample)(unsafe.Pointer(&c.mem[off])), c.capacity)
	}
	if c.role == Producer {
		c.tx, c.rx = rings[:tx], rings[tx:]
	} else {
		c.tx, c.rx = rings[tx:], rings[:tx]
	}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) Role() Role {
	return c.role
}

// Capacity is the ring size in samples.
func (c *Channel) Capacity() uint64 {
	return c.capacity
}

// TxAntennas is the number of rings this endpoint writes.
func (c *Channel) TxAntennas() int {
	return len(c.tx)
}

// RxAntennas is the number of rings this endpoint reads.
func (c *Channel) RxAntennas() int {
	return len(c.rx)
}

// CurrentSample returns the channel clock.
func (c *Channel) CurrentSample() uint64 {
	if c.hdr == nil {
		return 0
	}
	return atomic.LoadUint64(&c.hdr.timestamp)
}

// IsConnected reports whether the consumer has attached.
func (c *Channel) IsConnected() bool {
	return c.mem != nil && atomic.LoadUint32(&c.hdr.connected) != 0
}

// Transmit writes samples at absolute timestamp ts on antenna.
func (c *Channel) Transmit(ts uint64, samples []Sample, antenna int) error {
	if err := c.check(c.tx, antenna, len(samples)); err != nil {
		return err
	}
	cur := c.CurrentSample()
	if ts < cur {
		return ErrTooLate
	}
	if ts-cur+uint64(len(samples)) >= c.capacity {
		return ErrTooEarly
	}
	c.copyIn(c.tx[antenna], ts, samples)
	return nil
}

// Receive reads len(out) samples at absolute timestamp ts on antenna.
func (c *Channel) Receive(ts uint64, out []Sample, antenna int) error {
	if err := c.check(c.rx, antenna, len(out)); err != nil {
		return err
	}
	cur := c.CurrentSample()
	if ts > cur {
		return ErrTooEarly
	}
	if cur-ts >= c.capacity {
		return ErrTooLate
	}
	c.copyOut(c.rx[antenna], ts, out)
	return nil
}

func (c *Channel) check(rings [][]Sample, antenna, count int) error {
	if c.mem == nil {
		return ErrClosed
	}
	if atomic.LoadUint32(&c.hdr.connected) == 0 {
		return ErrNotConnected
	}
	if antenna < 0 || antenna >= len(rings) {
		return ErrBadAntenna
	}
	if uint64(count) > c.capacity {
		return ErrTooManySamples
	}
	return nil
}

func (c *Channel) copyIn(ring []Sample, ts uint64, src []Sample) {
	start := ts % c.capacity
	n := copy(ring[start:], src)
	if n < len(src) {
		copy(ring, src[n:])
	}
}

func (c *Channel) copyOut(ring []Sample, ts uint64, dst []Sample) {
	start := ts % c.capacity
	n := copy(dst, ring[start:])
	if n < len(dst) {
		copy(dst[n:], ring)
	}
}

// Advance moves the channel clock forward by count samples and wakes every
// waiter. Only the producer owns the clock; before a consumer attached the
// call does nothing.
func (c *Channel) Advance(count uint64) {
	log.AssertFatal(c.role == Producer, "shmchan %s: only the producer advances the clock", c.name)
	if !c.IsConnected() {
		return
	}
	atomic.AddUint64(&c.hdr.timestamp, count)
	c.bump()
}

func (c *Channel) bump() {
	atomic.AddUint32(&c.hdr.seq, 1)
	if err := futexWakeAll(&c.hdr.seq); err != nil {
		log.ErrorLog.Printf("shmchan %s: %v", c.name, err)
	}
}

// WaitUntil blocks until the channel clock reaches ts or ctx is done.
func (c *Channel) WaitUntil(ctx context.Context, ts uint64) error {
	return c.wait(ctx, func() bool { return c.CurrentSample() >= ts })
}

// WaitConnected blocks until the consumer has attached or ctx is done.
func (c *Channel) WaitConnected(ctx context.Context) error {
	return c.wait(ctx, c.IsConnected)
}

func (c *Channel) wait(ctx context.Context, ready func() bool) error {
	if c.mem == nil {
		return ErrClosed
	}
	for {
		if ready() {
			return nil
		}
		seq := atomic.LoadUint32(&c.hdr.seq)
		if ready() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := futexWait(&c.hdr.seq, seq, waitSlice); err != nil && !errors.Is(err, ErrFutexTimeout) {
			return err
		}
	}
}

// Close unmaps the channel. The producer also removes the segment.
func (c *Channel) Close() error {
	if c.mem == nil {
		return nil
	}
	err := c.unmap()
	if c.role == Producer {
		if rmErr := os.Remove(c.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	log.InfoLog.Printf("shmchan %s: closed (%s)", c.name, c.role)
	return err
}

func (c *Channel) unmap() error {
	c.tx, c.rx, c.hdr = nil, nil, nil
	mem := c.mem
	c.mem = nil
	err := munmap(mem)
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Info is a point in time view of a channel header.
type Info struct {
	Name       string
	Path       string
	TxAntennas int
	RxAntennas int
	Capacity   uint64
	Timestamp  uint64
	Connected  bool
}

// Inspect reads the header of the channel named name without attaching to
// it.
func Inspect(name string) (Info, error) {
	path := SegmentPath(name)
	file, mem, err := openSegment(path, HeaderSize)
	if err != nil {
		return Info{}, err
	}
	defer func() {
		munmap(mem)
		file.Close()
	}()

	h := (*header)(unsafe.Pointer(&mem[0]))
	if atomic.LoadUint32(&h.magic) != Magic {
		return Info{}, errSegmentNotReady
	}
	return Info{
		Name:       name,
		Path:       path,
		TxAntennas: int(h.txAntennas),
		RxAntennas: int(h.rxAntennas),
		Capacity:   h.capacity,
		Timestamp:  atomic.LoadUint64(&h.timestamp),
		Connected:  atomic.LoadUint32(&h.connected) != 0,
	}, nil
}
