package pulseaudio

import (
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
)

const (
	// Target size of one recorded fragment.
	fragmentDuration = 25 * time.Millisecond

	recordFlags = paclient.StreamInterpolateTiming |
		paclient.StreamAdjustLatency |
		paclient.StreamAutoTimingUpdate
)

// Negotiate a format with the source and start recording from it.
// Calling StartStream while already streaming does nothing.
func (d *Device) StartStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}

	d.ml.Lock()
	if d.streaming {
		d.ml.Unlock()
		return nil
	}
	device := d.device
	d.ml.Unlock()

	found := false
	err := d.runOperation(uac.StageSourceInfo, func(c paclient.Context) *paclient.Operation {
		return c.GetSourceInfoByName(device, func(c paclient.Context, info *paclient.DeviceInfo, eol bool) {
			defer d.ml.Signal()
			if c != d.pctx || eol || info == nil {
				return
			}
			found = true
			d.negotiateFormat(info)
		})
	})
	if err != nil {
		return err
	}

	d.ml.Lock()
	defer d.ml.Unlock()

	if !found {
		err := d.withErrno(fmt.Errorf("%w: source %q not found", uac.ErrStream, device))
		d.logger.Error("failed to query source", "device", device, "err", err)
		return uac.NewStageError(uac.StageSourceInfo, err)
	}
	if d.pctx == nil {
		return uac.ErrClosed
	}

	spec := paclient.SampleSpec{
		Format:   d.format.serverFormat,
		Rate:     d.format.rate,
		Channels: d.format.channels,
	}
	if !spec.Valid() {
		d.logger.Error("negotiated an invalid sample spec", "spec", spec)
		return uac.NewStageError(uac.StageNegotiate, fmt.Errorf("%w: %s", uac.ErrInvalidFormat, spec))
	}
	d.format.bytesPerFrame = spec.FrameSize()
	d.channelMap = ChannelMapForLayout(d.format.layout)

	// A stream the server failed or terminated is still attached until it is replaced.
	if d.stream != nil {
		d.dropStreamLocked(d.stream)
	}

	stream, err := d.pctx.NewStream(device, spec, d.channelMap, paclient.PropList{})
	if err != nil {
		d.logger.Error("failed to create record stream", "device", device, "err", err)
		return uac.NewStageError(uac.StageCreateStream, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}

	d.stream = stream
	stream.SetStateCallback(d.streamStateCallback)
	stream.SetReadCallback(d.readCallback)
	stream.SetWriteCallback(d.writeCallback)
	stream.SetOverflowCallback(d.overflowCallback)
	stream.SetUnderflowCallback(d.underflowCallback)
	stream.SetLatencyUpdateCallback(d.latencyUpdateCallback)

	attr := paclient.DefaultBufferAttr()
	attr.FragSize = spec.UsecToBytes(uint64(fragmentDuration / time.Microsecond))

	if err := stream.ConnectRecord(device, &attr, recordFlags); err != nil {
		d.logger.Error("failed to connect record stream", "device", device, "err", err)
		d.dropStreamLocked(stream)
		return uac.NewStageError(uac.StageConnectStream, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}

	if err := d.waitStreamReadyLocked(stream, d.deadline()); err != nil {
		d.logger.Error("record stream did not become ready", "device", device, "err", err)
		d.dropStreamLocked(stream)
		return uac.NewStageError(uac.StageStreamReady, err)
	}

	d.streaming = true
	d.firstTimestamp = 0

	d.logger.Info("recording",
		"device", device,
		"format", d.format.format,
		"rate", d.format.rate,
		"channels", d.format.channels,
		"layout", d.format.layout,
		"fragsize", attr.FragSize,
	)
	return nil
}

// Store the format to record in for the source described by info, applying fallbacks. Lock held.
func (d *Device) negotiateFormat(info *paclient.DeviceInfo) {
	format, serverFormat, formatFellBack := MapFormat(info.SampleSpec.Format)
	if formatFellBack {
		d.formatFallbacks.Add(1)
		d.logger.Warn("unsupported source format, recording float32 instead",
			"device", info.Name,
			"format", info.SampleSpec.Format,
		)
	}

	channels, layout, channelsFellBack := MapChannels(int(info.SampleSpec.Channels))
	if channelsFellBack {
		d.channelFallbacks.Add(1)
		d.logger.Warn("unsupported source channel count, recording stereo instead",
			"device", info.Name,
			"channels", info.SampleSpec.Channels,
		)
	}

	d.format = negotiatedFormat{
		format:       format,
		serverFormat: serverFormat,
		rate:         info.SampleSpec.Rate,
		channels:     channels,
		layout:       layout,
	}
}

// Block until stream is ready. Lock held.
func (d *Device) waitStreamReadyLocked(stream paclient.Stream, deadline time.Time) error {
	for {
		// Stopped or closed from another goroutine while waiting.
		if d.stream != stream {
			return fmt.Errorf("%w: stream stopped", uac.ErrStream)
		}

		switch state := stream.State(); state {
		case paclient.StreamReady:
			return nil
		case paclient.StreamFailed, paclient.StreamTerminated:
			return d.withErrno(fmt.Errorf("%w: stream %s", uac.ErrStream, state))
		}

		if err := d.waitLocked(deadline); err != nil {
			return err
		}
	}
}

// Detach stream from the device and disconnect it. Lock held.
func (d *Device) dropStreamLocked(stream paclient.Stream) error {
	stream.SetStateCallback(nil)
	stream.SetReadCallback(nil)
	stream.SetWriteCallback(nil)
	stream.SetOverflowCallback(nil)
	stream.SetUnderflowCallback(nil)
	stream.SetLatencyUpdateCallback(nil)

	var err error
	if stream.State().IsGood() {
		err = stream.Disconnect()
	}
	if d.stream == stream {
		d.stream = nil
		d.streaming = false
	}

	// Wake a StartStream that may be waiting on this stream.
	d.ml.Signal()
	return err
}

// Disconnect the record stream, keeping the connection so StartStream can be called again.
// No callback for the stopped stream is running or pending once StopStream returns.
func (d *Device) StopStream() error {
	if d.closed.Load() {
		return uac.ErrClosed
	}

	d.ml.Lock()
	stream := d.stream
	if stream == nil {
		d.ml.Unlock()
		return nil
	}
	err := d.dropStreamLocked(stream)
	d.ml.Unlock()

	// Flush fails only if the worker is already gone, in which case nothing is pending.
	d.ml.Flush()

	if err != nil {
		d.logger.Error("failed to disconnect record stream", "err", err)
		return uac.NewStageError(uac.StageStopStream, fmt.Errorf("%w: %w", uac.ErrStream, err))
	}
	d.logger.Info("stopped recording", "frames", d.frames.Load(), "holes", d.holes.Load())
	return nil
}

// ----------------------------------------------------------------------------
// Stream callbacks, run on the worker with the lock held.

func (d *Device) streamStateCallback(s paclient.Stream) {
	if s != d.stream {
		return
	}

	state := s.State()
	d.logger.Debug("stream state changed", "state", state)
	if d.streaming && !state.IsGood() {
		d.streaming = false
		d.logger.Error("record stream lost", "state", state, "err", d.withErrno(uac.ErrStream))
	}
	d.ml.Signal()
}

// Hand the readable fragment to the sink, then drop it from the stream.
func (d *Device) readCallback(s paclient.Stream, nbytes int) {
	defer d.ml.Signal()
	if s != d.stream {
		return
	}

	data, n, err := s.Peek()
	if err != nil {
		d.logger.Warn("failed to read from stream", "err", err)
		return
	}
	if n == 0 {
		// Nothing readable, and nothing to drop.
		return
	}
	defer func() {
		if err := s.Drop(); err != nil {
			d.logger.Warn("failed to drop fragment", "err", err)
		}
	}()

	if data == nil {
		total := d.holes.Add(1)
		if utils.ShouldLog(&d.lastHoleLog, time.Second) {
			d.logger.Warn("hole in recorded data, skipping", "bytes", n, "holes", total)
		}
		return
	}

	bytesPerFrame := d.format.bytesPerFrame
	if bytesPerFrame <= 0 {
		return
	}
	frameCount := n / bytesPerFrame
	if frameCount == 0 {
		return
	}

	f := frame.AudioFrame{
		SampleRate: d.format.rate,
		Format:     d.format.format,
		Data:       data[:frameCount*bytesPerFrame],
		FrameCount: uint(frameCount),
		Timestamp:  frame.CaptureTimestamp(d.now(), uint(frameCount), d.format.rate),
	}
	if d.firstTimestamp == 0 {
		d.firstTimestamp = f.Timestamp
	}

	d.frames.Add(uint64(frameCount))
	d.bytes.Add(uint64(len(f.Data)))
	if d.sink != nil {
		d.sink.PushFrame(&f)
	}
}

// Recording only.
func (d *Device) writeCallback(paclient.Stream, int) {}

func (d *Device) overflowCallback(s paclient.Stream) {
	if s != d.stream {
		return
	}
	total := d.overflows.Add(1)
	if utils.ShouldLog(&d.lastOverflowLog, time.Second) {
		d.logger.Warn("record stream overflow", "overflows", total)
	}
}

func (d *Device) underflowCallback(s paclient.Stream) {
	if s != d.stream {
		return
	}
	total := d.underflows.Add(1)
	if utils.ShouldLog(&d.lastUnderflowLog, time.Second) {
		d.logger.Warn("record stream underflow", "underflows", total)
	}
}

func (d *Device) latencyUpdateCallback(s paclient.Stream) {
	if s != d.stream {
		return
	}
	d.logger.Debug("record stream latency updated")
}
