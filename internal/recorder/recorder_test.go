package recorder

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16Frame(rate uint32, channels int, samples ...int16) frame.AudioFrame {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return frame.AudioFrame{
		SampleRate: rate,
		Format:     frame.SampleFormatS16,
		Data:       data,
		FrameCount: uint(len(samples) / channels),
	}
}

func float32Frame(rate uint32, channels int, samples ...float32) frame.AudioFrame {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return frame.AudioFrame{
		SampleRate: rate,
		Format:     frame.SampleFormatFloat32,
		Data:       data,
		FrameCount: uint(len(samples) / channels),
	}
}

func readBack(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	decoder := wav.NewDecoder(f)
	require.True(t, decoder.IsValidFile())
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	return decoder, buf.Data
}

func TestWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWAVWriter(path, 44100, 2)
	require.NoError(t, err)

	require.NoError(t, w.Write(s16Frame(44100, 2, 100, -100, 32767, -32768)))
	require.NoError(t, w.Write(float32Frame(44100, 2, 0, 1, -1, 0.5)))
	require.NoError(t, w.Close())

	written, skipped := w.Counts()
	assert.Equal(t, uint64(4), written)
	assert.Equal(t, uint64(0), skipped)

	decoder, data := readBack(t, path)
	assert.Equal(t, uint32(44100), decoder.SampleRate)
	assert.Equal(t, uint16(2), decoder.NumChans)
	assert.Equal(t, uint16(16), decoder.BitDepth)
	assert.Equal(t, []int{100, -100, 32767, -32768, 0, 32767, -32768, 16384}, data)
}

func TestFormatMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWAVWriter(path, 48000, 1)
	require.NoError(t, err)
	defer w.Close()

	assert.ErrorIs(t, w.Write(s16Frame(44100, 1, 1, 2)), ErrFormatMismatch)
	assert.ErrorIs(t, w.Write(s16Frame(48000, 2, 1, 2)), ErrFormatMismatch)
	assert.NoError(t, w.Write(frame.AudioFrame{SampleRate: 8000}))

	written, skipped := w.Counts()
	assert.Equal(t, uint64(0), written)
	assert.Equal(t, uint64(2), skipped)
}

func TestConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWAVWriter(path, 8000, 1)
	require.NoError(t, err)

	source := make(chan frame.AudioFrame, 3)
	source <- s16Frame(8000, 1, 1, 2)
	source <- s16Frame(16000, 1, 9)
	source <- s16Frame(8000, 1, 3)
	close(source)

	w.Consume(context.Background(), source)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, data := readBack(t, path)
	assert.Equal(t, []int{1, 2, 3}, data)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	w, err := NewWAVWriter(filepath.Join(t.TempDir(), "out.wav"), 8000, 1)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Consume(ctx, make(chan frame.AudioFrame))
}

func TestToPCM16(t *testing.T) {
	out, err := toPCM16(frame.SampleFormatU8, []byte{0, 128, 255})
	require.NoError(t, err)
	assert.Equal(t, []int{-32768, 0, 127 << 8}, out)

	s32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(s32[0:], uint32(math.MaxInt32))
	minInt32 := int32(math.MinInt32)
	binary.LittleEndian.PutUint32(s32[4:], uint32(minInt32))
	out, err = toPCM16(frame.SampleFormatS32, s32)
	require.NoError(t, err)
	assert.Equal(t, []int{32767, -32768}, out)

	_, err = toPCM16(frame.SampleFormatUnknown, []byte{1, 2})
	assert.ErrorIs(t, err, errUnknownFormat)
}

func TestFloat32ToPCM16(t *testing.T) {
	assert.Equal(t, int16(0), float32ToPCM16(float32(math.NaN())))
	assert.Equal(t, int16(32767), float32ToPCM16(2))
	assert.Equal(t, int16(-32768), float32ToPCM16(-2))
	assert.Equal(t, int16(-16384), float32ToPCM16(-0.5))
}

func TestInvalidFormat(t *testing.T) {
	_, err := NewWAVWriter(filepath.Join(t.TempDir(), "out.wav"), 0, 2)
	assert.Error(t, err)
}
