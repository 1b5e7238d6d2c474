package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const bitDepth = 16

var (
	ErrFormatMismatch = errors.New("frame does not match the file format")
	errUnknownFormat  = errors.New("unknown sample format")
)

// Writes captured frames to a 16-bit PCM .WAV file.
// Note the resulting file is only valid once Close has returned.
type WAVWriter struct {
	logger     *slog.Logger
	uuid       uuid.UUID
	encoder    *wav.Encoder
	fileHandle *os.File
	bufFormat  *goaudio.Format

	mu      sync.Mutex
	frames  uint64
	skipped uint64

	closeOnce sync.Once
	closeErr  error
}

// Create a new WAVWriter that writes frames of the given sample rate and channel count to audioFilePath.
func NewWAVWriter(audioFilePath string, sampleRate int, numChannels int) (*WAVWriter, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"wav writer uuid", uuid,
	)

	if sampleRate <= 0 || numChannels <= 0 {
		logger.Error("invalid output format", "sampleRate", sampleRate, "channels", numChannels)
		return nil, fmt.Errorf("invalid output format: %d Hz, %d channels", sampleRate, numChannels)
	}

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, bitDepth, numChannels, 1)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", encoder.SampleRate,
		"channels", encoder.NumChans,
	)

	return &WAVWriter{
		logger:     logger,
		uuid:       uuid,
		encoder:    encoder,
		fileHandle: f,
		bufFormat: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
	}, nil
}

// Append one frame to the file, converting its samples to 16-bit.
// Frames with a different sample rate or channel count are rejected with ErrFormatMismatch.
func (w *WAVWriter) Write(f frame.AudioFrame) error {
	if f.FrameCount == 0 {
		return nil
	}
	if int(f.SampleRate) != w.bufFormat.SampleRate || f.Channels() != w.bufFormat.NumChannels {
		w.mu.Lock()
		w.skipped++
		w.mu.Unlock()
		return fmt.Errorf("%w: %d Hz, %d channels", ErrFormatMismatch, f.SampleRate, f.Channels())
	}

	data, err := toPCM16(f.Format, f.Data)
	if err != nil {
		return err
	}

	buf := &goaudio.IntBuffer{
		Format:         w.bufFormat,
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Write(buf); err != nil {
		return err
	}
	w.frames += uint64(f.FrameCount)
	return nil
}

// Write frames from source until it is closed or ctx is done.
func (w *WAVWriter) Consume(ctx context.Context, source <-chan frame.AudioFrame) {
	for {
		select {
		case f, ok := <-source:
			if !ok {
				w.logger.Debug("frame stream closed")
				return
			}
			if err := w.Write(f); err != nil {
				w.logger.Error("error while writing frame to file", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Frames written, and frames skipped for not matching the file format.
func (w *WAVWriter) Counts() (written uint64, skipped uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.skipped
}

// Finish the file header and close the file.
func (w *WAVWriter) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		w.closeErr = errors.Join(
			w.encoder.Close(),
			w.fileHandle.Sync(),
			w.fileHandle.Close(),
		)
		w.logger.Debug("closed audio file", "frames", w.frames, "skipped", w.skipped)
	})
	return w.closeErr
}

// Convert interleaved little-endian samples to 16-bit values.
func toPCM16(format frame.SampleFormat, data []byte) ([]int, error) {
	size := format.BytesPerSample()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", errUnknownFormat, format)
	}

	out := make([]int, len(data)/size)
	for i := range out {
		sample := data[i*size : (i+1)*size]
		switch format {
		case frame.SampleFormatU8:
			out[i] = (int(sample[0]) - 128) << 8
		case frame.SampleFormatS16:
			out[i] = int(int16(binary.LittleEndian.Uint16(sample)))
		case frame.SampleFormatS32:
			out[i] = int(int32(binary.LittleEndian.Uint32(sample)) >> 16)
		case frame.SampleFormatFloat32:
			out[i] = int(float32ToPCM16(math.Float32frombits(binary.LittleEndian.Uint32(sample))))
		}
	}
	return out, nil
}

func float32ToPCM16(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 32767
	}
	if v <= -1 {
		return -32768
	}

	scaled := int32(math.Round(float64(v * 32767)))
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}
