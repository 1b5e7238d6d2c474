package wavfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const DefaultFrameDuration = 20 * time.Millisecond

var (
	errNoFile          = errors.New("no audio file given")
	errInvalidFile     = errors.New("error while decoding audio file")
	errNonPositiveSize = errors.New("non-positive samples per frame")
)

// Replay a .WAV file as if it were a capture device.
//
// The device name passed to Open is the path of the file. Samples are converted to
// signed 16-bit and pushed one frame every FrameDuration, so a consumer sees the same
// pacing it would from a sound card.
type Backend struct {
	// Duration of audio per frame, and the interval between frames. Zero selects DefaultFrameDuration.
	FrameDuration time.Duration

	// Start again from the beginning of the file instead of ending the stream.
	Loop bool

	// Monotonic clock in nanoseconds used to timestamp frames. Nil selects frame.MonotonicNanos.
	Clock func() uint64
}

func (b Backend) Open(c *uac.Context, device string, cfg uac.Config) (uac.Device, error) {
	d, err := b.open(c, device, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type Device struct {
	logger *slog.Logger
	uuid   uuid.UUID
	sink   uac.FrameSink
	now    func() uint64
	loop   bool

	path           string
	sampleRate     uint32
	numChannels    int
	samples        []byte
	frameDuration  time.Duration
	framesPerChunk int

	mu         sync.Mutex
	streaming  bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	frames atomic.Uint64
	bytes  atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

func (b Backend) open(sink uac.FrameSink, audioFilePath string, cfg uac.Config) (*Device, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"wavfile device uuid", uuid,
	)

	if audioFilePath == "" {
		logger.Error("no audio file given")
		return nil, uac.NewStageError(uac.StageSourceInfo, fmt.Errorf("%w: %w", uac.ErrStream, errNoFile))
	}

	frameDuration := b.FrameDuration
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	now := b.Clock
	if now == nil {
		now = frame.MonotonicNanos
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, uac.NewStageError(uac.StageSourceInfo, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, uac.NewStageError(uac.StageNegotiate, fmt.Errorf("%w: %w", uac.ErrInvalidFormat, errInvalidFile))
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, uac.NewStageError(uac.StageNegotiate, fmt.Errorf("%w: %w", uac.ErrInvalidFormat, err))
	}

	numChannels := int(decoder.NumChans)
	framesPerChunk := int(float64(decoder.SampleRate) * float64(frameDuration) / float64(time.Second))
	if framesPerChunk <= 0 || numChannels <= 0 {
		logger.Error(
			"non-positive samples per frame during opening of audio file",
			"audioFile", audioFilePath,
			"sampleRate", decoder.SampleRate,
			"channels", numChannels,
			"framesPerChunk", framesPerChunk,
		)
		return nil, uac.NewStageError(uac.StageNegotiate, fmt.Errorf("%w: %w", uac.ErrInvalidFormat, errNonPositiveSize))
	}

	samples := toS16(buf.Data, int(decoder.BitDepth))

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", numChannels,
		"bitDepth", decoder.BitDepth,
		"framesPerChunk", framesPerChunk,
	)

	return &Device{
		logger:         logger,
		uuid:           uuid,
		sink:           sink,
		now:            now,
		loop:           b.Loop,
		path:           audioFilePath,
		sampleRate:     decoder.SampleRate,
		numChannels:    numChannels,
		samples:        samples,
		frameDuration:  frameDuration,
		framesPerChunk: framesPerChunk,
	}, nil
}

// Convert decoded samples of the given bit depth to interleaved little-endian s16.
func toS16(data []int, bitDepth int) []byte {
	out := make([]byte, len(data)*2)
	for i, sample := range data {
		var v int
		switch {
		case bitDepth == 8:
			// 8-bit WAV is unsigned.
			v = (sample - 128) << 8
		case bitDepth > 16:
			v = sample >> (bitDepth - 16)
		default:
			v = sample
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func (d *Device) bytesPerFrame() int {
	return d.numChannels * frame.SampleFormatS16.BytesPerSample()
}

// Start replaying the file from the beginning. Calling StartStream while already streaming does nothing.
func (d *Device) StartStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil
	}

	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	d.cancelFunc = cancelFunc
	d.streaming = true
	d.wg.Add(1)
	go d.play(ctx)

	d.logger.Info("playing audio file", "audioFile", d.path)
	return nil
}

func (d *Device) play(ctx context.Context) {
	defer d.wg.Done()

	chunkBytes := d.framesPerChunk * d.bytesPerFrame()
	ticker := time.NewTicker(d.frameDuration)
	defer ticker.Stop()

	for {
		for start := 0; start < len(d.samples); start += chunkBytes {
			end := min(start+chunkBytes, len(d.samples))

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}

			data := d.samples[start:end]
			frameCount := uint(len(data) / d.bytesPerFrame())
			f := frame.AudioFrame{
				SampleRate: d.sampleRate,
				Format:     frame.SampleFormatS16,
				Data:       data,
				FrameCount: frameCount,
				Timestamp:  frame.CaptureTimestamp(d.now(), frameCount, d.sampleRate),
			}
			d.frames.Add(uint64(frameCount))
			d.bytes.Add(uint64(len(data)))
			if d.sink != nil {
				d.sink.PushFrame(&f)
			}
		}

		if !d.loop || len(d.samples) == 0 {
			break
		}
	}

	d.logger.Debug("finished playing")
	d.mu.Lock()
	d.streaming = false
	d.mu.Unlock()
}

func (d *Device) StopStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}
	d.stop()
	return nil
}

func (d *Device) stop() {
	d.mu.Lock()
	if d.cancelFunc != nil {
		d.cancelFunc()
		d.cancelFunc = nil
	}
	d.mu.Unlock()

	// play takes mu when it finishes by itself.
	d.wg.Wait()

	d.mu.Lock()
	d.streaming = false
	d.mu.Unlock()
}

// Wait until the whole file has been delivered or the stream is stopped.
func (d *Device) Wait() {
	d.wg.Wait()
}

func (d *Device) Close() error {
	d.logger.Debug("shutdown called")
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.stop()
	})
	return nil
}

func (d *Device) QueryFrame() (*frame.AudioFrame, error) {
	return nil, uac.ErrNotImplemented
}

func (d *Device) Ioctl(cmd uac.IoctlCommand, arg any) error {
	return uac.ErrNotImplemented
}

// The file itself is the only source.
func (d *Device) Sources() []uac.DeviceInfo {
	return []uac.DeviceInfo{{
		Name:        d.path,
		Description: filepath.Base(d.path),
		Driver:      "wavfile",
		SampleRate:  d.sampleRate,
		Channels:    d.numChannels,
		Format:      frame.SampleFormatS16,
	}}
}

func (d *Device) Sinks() []uac.DeviceInfo {
	return nil
}

func (d *Device) Stats() uac.Stats {
	return uac.Stats{
		Frames: d.frames.Load(),
		Bytes:  d.bytes.Load(),
	}
}
