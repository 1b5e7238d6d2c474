package wavfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNow = uint64(5 * time.Second)

type recordingSink struct {
	mu     sync.Mutex
	frames []frame.AudioFrame
}

func (s *recordingSink) PushFrame(f *frame.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f.Clone())
}

func (s *recordingSink) Frames() []frame.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.AudioFrame(nil), s.frames...)
}

func writeTestFile(t *testing.T, sampleRate, numChannels int, samples []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, encoder.Write(buf))
	require.NoError(t, encoder.Close())
	require.NoError(t, f.Close())
	return path
}

func testBackend() Backend {
	return Backend{
		FrameDuration: time.Millisecond,
		Clock:         func() uint64 { return testNow },
	}
}

func TestReplayFile(t *testing.T) {
	// 8000 Hz mono, 1ms per frame -> 8 frames per chunk, 5 chunks
	samples := make([]int, 40)
	for i := range samples {
		samples[i] = i*100 - 2000
	}
	path := writeTestFile(t, 8000, 1, samples)

	sink := &recordingSink{}
	d, err := testBackend().open(sink, path, uac.Config{})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.StartStream())
	d.Wait()

	frames := sink.Frames()
	require.Len(t, frames, 5)

	var data []byte
	for _, f := range frames {
		assert.Equal(t, uint32(8000), f.SampleRate)
		assert.Equal(t, frame.SampleFormatS16, f.Format)
		assert.Equal(t, uint(8), f.FrameCount)
		assert.Equal(t, 1, f.Channels())
		assert.Equal(t, testNow-uint64(time.Millisecond), f.Timestamp)
		data = append(data, f.Data...)
	}

	require.Len(t, data, len(samples)*2)
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		assert.Equal(t, int16(want), got, "sample %d", i)
	}

	stats := d.Stats()
	assert.Equal(t, uint64(40), stats.Frames)
	assert.Equal(t, uint64(80), stats.Bytes)
}

func TestLastChunkIsPartial(t *testing.T) {
	// 8000 Hz stereo, 12 frames -> one full chunk of 8 and one of 4
	samples := make([]int, 24)
	path := writeTestFile(t, 8000, 2, samples)

	sink := &recordingSink{}
	d, err := testBackend().open(sink, path, uac.Config{})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.StartStream())
	d.Wait()

	frames := sink.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint(8), frames[0].FrameCount)
	assert.Equal(t, uint(4), frames[1].FrameCount)
	assert.Equal(t, 2, frames[1].Channels())
}

func TestStopAndRestart(t *testing.T) {
	path := writeTestFile(t, 8000, 1, make([]int, 80))

	sink := &recordingSink{}
	b := testBackend()
	b.Loop = true
	d, err := b.open(sink, path, uac.Config{})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.StartStream())
	require.NoError(t, d.StartStream())
	require.Eventually(t, func() bool { return len(sink.Frames()) >= 12 }, time.Second, time.Millisecond)

	require.NoError(t, d.StopStream())
	stopped := len(sink.Frames())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, len(sink.Frames()))

	require.NoError(t, d.StartStream())
	require.Eventually(t, func() bool { return len(sink.Frames()) > stopped }, time.Second, time.Millisecond)
}

func TestOpenErrors(t *testing.T) {
	b := testBackend()

	_, err := b.open(nil, "", uac.Config{})
	require.ErrorIs(t, err, uac.ErrStream)
	assert.Equal(t, uac.StageSourceInfo, uac.StageOf(err))

	_, err = b.open(nil, filepath.Join(t.TempDir(), "missing.wav"), uac.Config{})
	require.ErrorIs(t, err, uac.ErrStream)

	notWav := filepath.Join(t.TempDir(), "not.wav")
	require.NoError(t, os.WriteFile(notWav, []byte("definitely not a riff file"), 0o644))
	_, err = b.open(nil, notWav, uac.Config{})
	require.ErrorIs(t, err, uac.ErrInvalidFormat)
	assert.Equal(t, uac.StageNegotiate, uac.StageOf(err))
}

func TestClosedDevice(t *testing.T) {
	path := writeTestFile(t, 8000, 1, make([]int, 8))
	d, err := testBackend().open(nil, path, uac.Config{})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.StartStream(), uac.ErrClosed)
	assert.ErrorIs(t, d.StopStream(), uac.ErrClosed)

	_, err = d.QueryFrame()
	assert.ErrorIs(t, err, uac.ErrNotImplemented)
	assert.ErrorIs(t, d.Ioctl(uac.IoctlSetMute, true), uac.ErrNotImplemented)
}

func TestSources(t *testing.T) {
	path := writeTestFile(t, 16000, 2, make([]int, 64))
	d, err := testBackend().open(nil, path, uac.Config{})
	require.NoError(t, err)
	defer d.Close()

	sources := d.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, path, sources[0].Name)
	assert.Equal(t, "test.wav", sources[0].Description)
	assert.Equal(t, uint32(16000), sources[0].SampleRate)
	assert.Equal(t, 2, sources[0].Channels)
	assert.Empty(t, d.Sinks())
}

func TestToS16(t *testing.T) {
	out := toS16([]int{0, 255, 128}, 8)
	assert.Equal(t, int16(-128<<8), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(127<<8), int16(binary.LittleEndian.Uint16(out[2:])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[4:])))

	out = toS16([]int{1<<23 - 1, -(1 << 23)}, 24)
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(out[2:])))
}
