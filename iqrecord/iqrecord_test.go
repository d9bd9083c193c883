package iqrecord

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.iq")
	w, err := Create(path, 30.72e6)
	require.NoError(t, err)

	frames := []Frame{
		{Timestamp: 0, Antenna: 0, Samples: []uint32{1, 2, 3}},
		{Timestamp: 30720, Antenna: 1, Samples: make([]uint32, 30720)},
		{Timestamp: 61440, Antenna: 0, Samples: []uint32{}},
	}
	for i := range frames[1].Samples {
		frames[1].Samples[i] = uint32(i * 7)
	}
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f.Timestamp, int(f.Antenna), f.Samples))
	}
	assert.Equal(t, uint64(3), w.Frames())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, Header{Version: Version, SampleRate: 30.72e6}, r.Header())

	for _, want := range frames {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.Equal(t, want.Antenna, got.Antenna)
		assert.Equal(t, len(want.Samples), len(got.Samples))
		if len(want.Samples) > 0 {
			assert.Equal(t, want.Samples, got.Samples)
		}
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompression(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1e6)
	require.NoError(t, err)
	// A constant signal compresses well.
	samples := make([]uint32, 100000)
	for i := range samples {
		samples[i] = 0x7fff0000
	}
	require.NoError(t, w.WriteFrame(0, 0, samples))
	require.NoError(t, w.Close())
	assert.Less(t, buf.Len(), len(samples)*4/10)
}

func TestBadInput(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("NOPE000000000000")))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = NewReader(bytes.NewReader([]byte("RT")))
	assert.Error(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1e6)
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(5, 0, []uint32{1, 2, 3, 4}))
	require.NoError(t, w.Close())

	// Corrupt the version field.
	data := buf.Bytes()
	data[4] = 9
	_, err = NewReader(bytes.NewReader(data))
	assert.Error(t, err)
}
