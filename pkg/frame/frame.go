package frame

import (
	"slices"
	"time"
)

// The sample formats a capture backend may hand to downstream consumers.
//
// Backends translate their native formats into one of these,
// substituting SampleFormatFloat32 where the native format has no equivalent.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatFloat32
)

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatFloat32:
		return "float32"
	}
	return "unknown"
}

// Number of bytes used by a single sample of a single channel.
// Zero for SampleFormatUnknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatFloat32:
		return 4
	}
	return 0
}

// One chunk of captured, interleaved PCM audio.
//
// Data is borrowed from the backend for the duration of the delivery call only.
// Anything that keeps a frame past that point must Clone it first.
type AudioFrame struct {
	SampleRate uint32
	Format     SampleFormat
	Data       []byte

	// Number of frames (one sample per channel) held in Data.
	FrameCount uint

	// Monotonic capture time of the first sample, in nanoseconds.
	Timestamp uint64
}

// Return a copy of the frame that owns its own Data.
func (f AudioFrame) Clone() AudioFrame {
	f.Data = slices.Clone(f.Data)
	return f
}

// Number of interleaved channels, derived from the size of Data.
// Returns 0 if the frame is empty or its format is unknown.
func (f AudioFrame) Channels() int {
	bytesPerSample := f.Format.BytesPerSample()
	if f.FrameCount == 0 || bytesPerSample == 0 {
		return 0
	}
	return len(f.Data) / (int(f.FrameCount) * bytesPerSample)
}

// Playback duration of the frame at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	return FramesToDuration(f.FrameCount, f.SampleRate)
}

// Duration of frameCount frames at the given sample rate.
// A zero rate yields a zero duration.
func FramesToDuration(frameCount uint, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(uint64(frameCount) * uint64(time.Second) / uint64(sampleRate))
}
