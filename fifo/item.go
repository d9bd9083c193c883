package fifo

import (
	"time"
	"unsafe"
)

// DataAlign is the alignment of an item's payload, wide enough for 256-bit
// vector loads.
const DataAlign = 32

// ProcessFunc is the work carried by an Item. It runs on the consumer side
// and may read or fill the item's payload.
type ProcessFunc func(it *Item)

// Item is a unit of deferred work moved between threads through a Fifo.
//
// An item belongs to exactly one queue at a time. Once processed it is either
// pushed onto ResponseFifo, handing it back to whoever pops that queue, or
// released.
type Item struct {
	next  *Item
	owner *Fifo

	// Key groups related items, e.g. the slot or the symbol they belong to.
	Key int
	// ResponseFifo receives the item after processing. It is borrowed.
	ResponseFifo *Fifo
	Process      ProcessFunc
	// Arg is an optional opaque argument for Process.
	Arg any

	data       []byte
	ownsMemory bool

	CreationTime        time.Time
	StartProcessingTime time.Time
	EndProcessingTime   time.Time
	ReturnTime          time.Time
}

// NewItem allocates an item with a zeroed, DataAlign aligned payload of size
// bytes.
func NewItem(size int, key int, resp *Fifo, fn ProcessFunc) *Item {
	return &Item{
		Key:          key,
		ResponseFifo: resp,
		Process:      fn,
		data:         alignedBuffer(size),
		ownsMemory:   true,
		CreationTime: time.Now(),
	}
}

// WrapItem builds an item around a caller-provided payload. Releasing the
// item leaves buf untouched.
func WrapItem(buf []byte, key int, resp *Fifo, fn ProcessFunc) *Item {
	return &Item{
		Key:          key,
		ResponseFifo: resp,
		Process:      fn,
		data:         buf,
		CreationTime: time.Now(),
	}
}

// Data returns the item's payload.
func (it *Item) Data() []byte {
	return it.data
}

// OwnsMemory reports whether the payload was allocated by NewItem.
func (it *Item) OwnsMemory() bool {
	return it.ownsMemory
}

// Release drops the payload of an item that owns it. The item must not be
// used afterwards.
func (it *Item) Release() {
	it.next = nil
	it.owner = nil
	if it.ownsMemory {
		it.data = nil
	}
}

// Run executes the item's function, stamping the processing times.
func (it *Item) Run() {
	it.StartProcessingTime = time.Now()
	if it.Process != nil {
		it.Process(it)
	}
	it.EndProcessingTime = time.Now()
}

// ExecTime is the time spent in Process, zero if the item never ran.
func (it *Item) ExecTime() time.Duration {
	if it.StartProcessingTime.IsZero() || it.EndProcessingTime.IsZero() {
		return 0
	}
	return it.EndProcessingTime.Sub(it.StartProcessingTime)
}

func alignedBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size+DataAlign-1)
	off := (DataAlign - int(uintptr(unsafe.Pointer(&buf[0]))%DataAlign)) % DataAlign
	return buf[off : off+size : off+size]
}
