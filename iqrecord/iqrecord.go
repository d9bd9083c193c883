// Package iqrecord stores time-domain sample frames in zstd compressed
// capture files.
//
// A file starts with a 16 byte header (magic "RTIQ", version, sample rate)
// followed by frames of {timestamp u64, antenna u32, count u32, samples}.
// Everything after the magic is little endian and zstd compressed.
package iqrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1

	headerSize      = 16
	frameHeaderSize = 16
	// maxFrameSamples rejects corrupt counts before allocating.
	maxFrameSamples = 1 << 26
)

var magic = [4]byte{'R', 'T', 'I', 'Q'}

var ErrBadMagic = errors.New("iqrecord: not a capture file")

// Header describes a capture.
type Header struct {
	Version    uint16
	SampleRate float64
}

// Frame is one block of samples of one antenna.
type Frame struct {
	Timestamp uint64
	Antenna   uint32
	Samples   []uint32
}

// Writer appends frames to a capture.
type Writer struct {
	enc    *zstd.Encoder
	closer io.Closer
	buf    []byte
	frames uint64
}

// NewWriter starts a capture on w. Close flushes the stream but does not
// close w.
func NewWriter(w io.Writer, sampleRate float64) (*Writer, error) {
	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:], Version)
	binary.LittleEndian.PutUint64(hdr[8:], math.Float64bits(sampleRate))
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}

	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Create starts a capture in a new file at path.
func Create(path string, sampleRate float64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteFrame appends samples taken at timestamp on antenna.
func (w *Writer) WriteFrame(timestamp uint64, antenna int, samples []uint32) error {
	buf := w.buf[:0]
	buf = binary.LittleEndian.AppendUint64(buf, timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(antenna))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint32(buf, s)
	}
	w.buf = buf
	if _, err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() uint64 {
	return w.frames
}

// Close flushes the compressed stream and closes the file opened by Create.
func (w *Writer) Close() error {
	err := w.enc.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates over the frames of a capture.
type Reader struct {
	hdr    Header
	dec    *zstd.Decoder
	r      *bufio.Reader
	closer io.Closer
}

// NewReader reads the capture header from r.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint16(hdr[4:])
	if version != Version {
		return nil, fmt.Errorf("iqrecord: unsupported version %d", version)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{
		hdr: Header{
			Version:    version,
			SampleRate: math.Float64frombits(binary.LittleEndian.Uint64(hdr[8:])),
		},
		dec: dec,
		r:   bufio.NewReader(dec),
	}, nil
}

// Open reads the capture file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (Frame, error) {
	var fh [frameHeaderSize]byte
	if _, err := io.ReadFull(r.r, fh[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("iqrecord: truncated frame header: %w", err)
		}
		return Frame{}, err
	}
	f := Frame{
		Timestamp: binary.LittleEndian.Uint64(fh[0:]),
		Antenna:   binary.LittleEndian.Uint32(fh[8:]),
	}
	count := binary.LittleEndian.Uint32(fh[12:])
	if count > maxFrameSamples {
		return Frame{}, fmt.Errorf("iqrecord: frame of %d samples is too large", count)
	}

	raw := make([]byte, 4*int(count))
	if _, err := io.ReadFull(r.r, raw); err != nil {
		return Frame{}, fmt.Errorf("iqrecord: truncated frame: %w", err)
	}
	f.Samples = make([]uint32, count)
	for i := range f.Samples {
		f.Samples[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return f, nil
}

// Close releases the decoder and closes the file opened by Open.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
