package shmchan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"
)

const (
	// Magic is written last by the producer once the segment is usable.
	Magic uint32 = 0x12345678

	// DefaultCapacity is the per-antenna ring size in samples: 20 frames of
	// 14 symbols at 30.72 Msps.
	DefaultCapacity uint64 = 30720 * 14 * 20

	// HeaderSize is the size of the segment header. Sample rings start
	// right after it.
	HeaderSize = 64

	sampleSize = 4
)

// Sample is one complex baseband sample packed as 16-bit I and Q.
type Sample = uint32

// header is the shared layout at offset 0 of every segment. Fields touched
// by both processes are accessed atomically only.
type header struct {
	magic      uint32
	txAntennas int32
	rxAntennas int32
	connected  uint32
	timestamp  uint64
	capacity   uint64
	// seq is bumped on every clock advance and on connect. Waiters sleep on
	// it with a futex.
	seq uint32
	_   [28]byte
}

func init() {
	if unsafe.Sizeof(header{}) != HeaderSize {
		panic(fmt.Sprintf("shmchan: header size %d, want %d", unsafe.Sizeof(header{}), HeaderSize))
	}
	if unsafe.Offsetof(header{}.timestamp)%8 != 0 || unsafe.Offsetof(header{}.capacity)%8 != 0 {
		panic("shmchan: 64-bit header fields are misaligned")
	}
}

// SegmentSize returns the number of bytes needed for a channel.
func SegmentSize(txAntennas, rxAntennas int, capacity uint64) int {
	return HeaderSize + (txAntennas+rxAntennas)*int(capacity)*sampleSize
}

// ringOffset is the byte offset of ring i. Rings 0..tx-1 carry the
// producer's transmit direction, the following rx rings the opposite one.
func ringOffset(i int, capacity uint64) int {
	return HeaderSize + i*int(capacity)*sampleSize
}

// segmentDir prefers the tmpfs behind POSIX shared memory.
func segmentDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SegmentPath maps a channel name to the file that backs it.
func SegmentPath(name string) string {
	name = strings.TrimLeft(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	return filepath.Join(segmentDir(), name)
}
