package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesPerSample(t *testing.T) {
	testCases := map[SampleFormat]int{
		SampleFormatUnknown: 0,
		SampleFormatU8:      1,
		SampleFormatS16:     2,
		SampleFormatS32:     4,
		SampleFormatFloat32: 4,
	}

	for format, expected := range testCases {
		t.Run(format.String(), func(t *testing.T) {
			assert.Equal(t, expected, format.BytesPerSample())
		})
	}
}

func TestCloneOwnsData(t *testing.T) {
	original := AudioFrame{
		SampleRate: 48000,
		Format:     SampleFormatS16,
		Data:       []byte{1, 2, 3, 4},
		FrameCount: 1,
	}

	clone := original.Clone()
	original.Data[0] = 42

	assert.Equal(t, byte(1), clone.Data[0])
	assert.Equal(t, original.SampleRate, clone.SampleRate)
	assert.Equal(t, original.FrameCount, clone.FrameCount)
}

func TestChannels(t *testing.T) {
	f := AudioFrame{Format: SampleFormatS16, Data: make([]byte, 4096), FrameCount: 1024}
	assert.Equal(t, 2, f.Channels())

	f = AudioFrame{Format: SampleFormatFloat32, Data: make([]byte, 4096), FrameCount: 1024}
	assert.Equal(t, 1, f.Channels())

	f = AudioFrame{Format: SampleFormatUnknown, Data: make([]byte, 16), FrameCount: 4}
	assert.Equal(t, 0, f.Channels())
}

func TestFramesToDuration(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, FramesToDuration(960, 48000))
	assert.Equal(t, time.Second, FramesToDuration(44100, 44100))
	assert.Equal(t, time.Duration(0), FramesToDuration(1024, 0))
}

func TestCaptureTimestamp(t *testing.T) {
	now := uint64(10 * time.Second)
	ts := CaptureTimestamp(now, 1024, 44100)
	require.Equal(t, now-uint64(FramesToDuration(1024, 44100)), ts)

	// A chunk longer than the clock has run clamps to zero instead of wrapping.
	assert.Equal(t, uint64(0), CaptureTimestamp(uint64(time.Millisecond), 48000, 48000))
}

func TestMonotonicNanosDoesNotGoBackwards(t *testing.T) {
	a := MonotonicNanos()
	b := MonotonicNanos()
	assert.GreaterOrEqual(t, b, a)
}
