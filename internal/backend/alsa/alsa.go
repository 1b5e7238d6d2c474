package alsa

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	"github.com/google/uuid"
	"github.com/yobert/alsa"
)

const (
	defaultDevice     = "default"
	defaultSampleRate = 48000
	defaultChannels   = 2

	// Frames read from the device per delivered frame.
	DefaultPeriodFrames = 1024
)

var errNoRecordDevice = errors.New("no recording device found")

// Capture straight from an ALSA PCM device, without a sound server in between.
type Backend struct {
	// Frames per read. Zero selects DefaultPeriodFrames.
	PeriodFrames int
}

func (b Backend) Open(c *uac.Context, device string, cfg uac.Config) (uac.Device, error) {
	d, err := b.open(c, device, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// An ALSA capture device.
//
// Unlike a sound server connection there is no worker to hand callbacks to:
// StartStream runs a goroutine that blocks in Read and pushes every period to the sink.
type Device struct {
	logger *slog.Logger
	uuid   uuid.UUID
	cfg    uac.Config
	sink   uac.FrameSink

	cards   []*alsa.Card
	pcm     *alsa.Device
	sources []uac.DeviceInfo
	sinks   []uac.DeviceInfo

	mu            sync.Mutex
	open          bool
	streaming     bool
	done          chan struct{}
	exited        chan struct{}
	wg            sync.WaitGroup
	periodFrames  int
	rate          int
	channels      int
	format        frame.SampleFormat
	bytesPerFrame int

	frames atomic.Uint64
	bytes  atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (b Backend) open(sink uac.FrameSink, device string, cfg uac.Config) (*Device, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"alsa device uuid", uuid,
	)

	periodFrames := b.PeriodFrames
	if periodFrames <= 0 {
		periodFrames = DefaultPeriodFrames
	}

	cards, err := alsa.OpenCards()
	if err != nil {
		logger.Error("failed to open sound cards", "err", err)
		return nil, fmt.Errorf("%w: %w", uac.ErrConnection, err)
	}

	var devices []*alsa.Device
	var cardTitles []string
	for _, card := range cards {
		cardDevices, err := card.Devices()
		if err != nil {
			logger.Warn("failed to list card devices", "card", card.Title, "err", err)
			continue
		}
		for _, device := range cardDevices {
			devices = append(devices, device)
			cardTitles = append(cardTitles, card.Title)
		}
	}

	pcm, err := selectDevice(devices, device)
	if err != nil {
		alsa.CloseCards(cards)
		logger.Error("failed to select device", "device", device, "err", err)
		return nil, uac.NewStageError(uac.StageSourceInfo, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}

	d := &Device{
		logger:       logger,
		uuid:         uuid,
		cfg:          cfg,
		sink:         sink,
		cards:        cards,
		pcm:          pcm,
		periodFrames: periodFrames,
	}
	d.sources, d.sinks = listDevices(devices, cardTitles)

	d.mu.Lock()
	err = d.configureLocked()
	d.mu.Unlock()
	if err != nil {
		alsa.CloseCards(cards)
		return nil, err
	}

	logger.Info("opened alsa device",
		"device", pcm.Title,
		"rate", d.rate,
		"channels", d.channels,
		"format", d.format,
	)
	return d, nil
}

// The record capable PCM device titled name, or the first one if name is empty or "default".
func selectDevice(devices []*alsa.Device, name string) (*alsa.Device, error) {
	for _, device := range devices {
		if device.Type != alsa.PCM || !device.Record {
			continue
		}
		if name == "" || name == defaultDevice || device.Title == name {
			return device, nil
		}
	}
	if name == "" || name == defaultDevice {
		return nil, errNoRecordDevice
	}
	return nil, fmt.Errorf("%w named %q", errNoRecordDevice, name)
}

// Split PCM devices into sources and sinks. cardTitles[i] is the title of the card devices[i] belongs to.
func listDevices(devices []*alsa.Device, cardTitles []string) (sources, sinks []uac.DeviceInfo) {
	for i, device := range devices {
		if device.Type != alsa.PCM {
			continue
		}
		info := uac.DeviceInfo{
			Index:  uint32(i),
			Name:   device.Title,
			Driver: "alsa",
		}
		if i < len(cardTitles) {
			info.Description = cardTitles[i]
		}
		if device.Record {
			sources = append(sources, info)
		}
		if device.Play {
			sinks = append(sinks, info)
		}
	}
	return sources, sinks
}

// Sample formats to offer the device, most preferred first.
func candidateFormats(requested frame.SampleFormat) []alsa.FormatType {
	if requested == frame.SampleFormatS32 {
		return []alsa.FormatType{alsa.S32_LE, alsa.S16_LE}
	}
	return []alsa.FormatType{alsa.S16_LE, alsa.S32_LE}
}

func frameFormat(format alsa.FormatType) frame.SampleFormat {
	switch format {
	case alsa.S16_LE:
		return frame.SampleFormatS16
	case alsa.S32_LE:
		return frame.SampleFormatS32
	}
	return frame.SampleFormatUnknown
}

// Open the PCM and negotiate hardware parameters. d.mu held.
func (d *Device) configureLocked() error {
	if d.open {
		return nil
	}

	rate := int(d.cfg.SampleRate)
	if rate <= 0 {
		rate = defaultSampleRate
	}
	channels := d.cfg.Channels
	if channels <= 0 {
		channels = defaultChannels
	}

	fail := func(stage string, err error) error {
		d.pcm.Close()
		d.logger.Error("failed to configure alsa device", "stage", stage, "err", err)
		return uac.NewStageError(stage, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}

	if err := d.pcm.Open(); err != nil {
		d.logger.Error("failed to open alsa device", "err", err)
		return uac.NewStageError(uac.StageCreateStream, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}

	negotiatedChannels, err := d.pcm.NegotiateChannels(channels, defaultChannels, 1)
	if err != nil {
		return fail(uac.StageNegotiate, err)
	}
	negotiatedRate, err := d.pcm.NegotiateRate(rate, defaultSampleRate, 44100)
	if err != nil {
		return fail(uac.StageNegotiate, err)
	}
	negotiatedFormat, err := d.pcm.NegotiateFormat(candidateFormats(d.cfg.Format)...)
	if err != nil {
		return fail(uac.StageNegotiate, err)
	}
	if _, err := d.pcm.NegotiatePeriodSize(d.periodFrames); err != nil {
		return fail(uac.StageNegotiate, err)
	}
	if _, err := d.pcm.NegotiateBufferSize(d.periodFrames * 4); err != nil {
		return fail(uac.StageNegotiate, err)
	}
	if err := d.pcm.Prepare(); err != nil {
		return fail(uac.StageConnectStream, err)
	}

	format := frameFormat(negotiatedFormat)
	if format == frame.SampleFormatUnknown {
		return fail(uac.StageNegotiate, fmt.Errorf("%w: %v", uac.ErrInvalidFormat, negotiatedFormat))
	}

	d.rate = negotiatedRate
	d.channels = negotiatedChannels
	d.format = format
	d.bytesPerFrame = negotiatedChannels * format.BytesPerSample()
	d.open = true
	return nil
}

// What the read loop needs from the PCM.
type pcmReader interface {
	Read(buf []byte) error
}

// Start reading. Calling StartStream while the read loop runs does nothing; if the loop
// ended on a read error the PCM is reopened and reading starts again.
func (d *Device) StartStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		select {
		case <-d.exited:
			d.logger.Warn("read loop ended, reopening alsa device")
			d.resetLocked()
		default:
			return nil
		}
	}
	if err := d.configureLocked(); err != nil {
		return err
	}
	d.startLoopLocked(d.pcm)

	d.logger.Info("recording", "rate", d.rate, "channels", d.channels, "format", d.format)
	return nil
}

// d.mu held.
func (d *Device) startLoopLocked(r pcmReader) {
	d.done = make(chan struct{})
	d.exited = make(chan struct{})
	d.streaming = true
	d.wg.Add(1)
	go d.readLoop(r, d.done, d.exited, d.rate, d.format, d.bytesPerFrame)
}

// Runs until done is closed or a read fails, then closes exited.
func (d *Device) readLoop(r pcmReader, done <-chan struct{}, exited chan<- struct{}, rate int, format frame.SampleFormat, bytesPerFrame int) {
	defer d.wg.Done()
	defer close(exited)

	buf := make([]byte, d.periodFrames*bytesPerFrame)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := r.Read(buf); err != nil {
			select {
			case <-done:
			default:
				d.logger.Error("failed to read from alsa device", "err", err)
			}
			return
		}

		f := frame.AudioFrame{
			SampleRate: uint32(rate),
			Format:     format,
			Data:       buf,
			FrameCount: uint(d.periodFrames),
			Timestamp:  frame.CaptureTimestamp(frame.MonotonicNanos(), uint(d.periodFrames), uint32(rate)),
		}
		d.frames.Add(uint64(d.periodFrames))
		d.bytes.Add(uint64(len(buf)))
		if d.sink != nil {
			d.sink.PushFrame(&f)
		}
	}
}

// Stop reading and close the PCM. StartStream reopens it.
func (d *Device) StopStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}
	return d.stop()
}

func (d *Device) stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	return nil
}

// Stop the read loop and close the PCM. d.mu held.
func (d *Device) resetLocked() {
	if d.streaming {
		close(d.done)
		d.streaming = false
	}
	// A pending Read returns within one period.
	d.wg.Wait()
	if d.open {
		d.pcm.Close()
		d.open = false
	}
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.stop()
		alsa.CloseCards(d.cards)
		d.logger.Debug("closed alsa device")
	})
	return d.closeErr
}

func (d *Device) QueryFrame() (*frame.AudioFrame, error) {
	return nil, uac.ErrNotImplemented
}

func (d *Device) Ioctl(cmd uac.IoctlCommand, arg any) error {
	return uac.ErrNotImplemented
}

func (d *Device) Sources() []uac.DeviceInfo {
	return append([]uac.DeviceInfo(nil), d.sources...)
}

func (d *Device) Sinks() []uac.DeviceInfo {
	return append([]uac.DeviceInfo(nil), d.sinks...)
}

func (d *Device) Stats() uac.Stats {
	return uac.Stats{
		Frames: d.frames.Load(),
		Bytes:  d.bytes.Load(),
	}
}
