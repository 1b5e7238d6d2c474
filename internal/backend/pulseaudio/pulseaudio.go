package pulseaudio

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/rtkit"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
	"github.com/google/uuid"
)

const (
	applicationName = "libuac"
	mediaRole       = "production"

	// Device name selecting the server's default source.
	defaultDevice = "default"
)

// The sound server capture backend.
type Backend struct {
	// Creates the server connection. Nil selects the native protocol client.
	NewContext paclient.ContextFactory

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

// The format a stream is recorded in, as agreed with the server.
type negotiatedFormat struct {
	format       frame.SampleFormat
	serverFormat paclient.SampleFormat
	rate         uint32
	channels     uint8
	layout       SpeakerLayout

	// Derived from the validated sample spec, always > 0 once a stream is open.
	bytesPerFrame int
}

// A capture device on a sound server.
//
// Everything below ml is guarded by the mainloop lock. Worker callbacks are the only
// writers of the negotiated format, and check that the connection or stream they are
// called for is still the live one before touching anything.
type Device struct {
	logger *slog.Logger
	uuid   uuid.UUID
	cfg    uac.Config
	sink   uac.FrameSink
	now    func() uint64

	ml *paclient.Mainloop

	pctx            paclient.Context
	stream          paclient.Stream
	device          string
	deviceRequested bool
	format          negotiatedFormat
	channelMap      paclient.ChannelMap
	serverInfo      paclient.ServerInfo
	sinks           []paclient.DeviceInfo
	sources         []paclient.DeviceInfo
	streaming       bool

	// Timestamp of the first frame of the current stream. Reserved, nothing consumes it yet.
	firstTimestamp uint64

	frames           atomic.Uint64
	bytes            atomic.Uint64
	holes            atomic.Uint64
	formatFallbacks  atomic.Uint64
	channelFallbacks atomic.Uint64
	overflows        atomic.Uint64
	underflows       atomic.Uint64

	lastHoleLog      atomic.Int64
	lastOverflowLog  atomic.Int64
	lastUnderflowLog atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Bring up the worker, connect to the server and discover its devices.
func (b Backend) open(sink uac.FrameSink, device string, cfg uac.Config) (*Device, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"pulseaudio device uuid", uuid,
	)

	newContext := b.NewContext
	if newContext == nil {
		newContext = paclient.NewNativeContext
	}
	now := b.Clock
	if now == nil {
		now = frame.MonotonicNanos
	}

	d := &Device{
		logger:          logger,
		uuid:            uuid,
		cfg:             cfg,
		sink:            sink,
		now:             now,
		ml:              paclient.NewMainloop(),
		device:          device,
		deviceRequested: device != "" && device != defaultDevice,
	}

	if cfg.Realtime {
		d.ml.OnThreadStart = func() {
			if err := rtkit.MakeCurrentThreadRealtime(rtkit.DefaultPriority); err != nil {
				logger.Warn("failed to make worker thread realtime", "err", err)
				return
			}
			logger.Debug("worker thread is realtime")
		}
	}

	props := paclient.PropList{
		paclient.PropApplicationName:     applicationName,
		paclient.PropApplicationIconName: applicationName,
		paclient.PropMediaRole:           mediaRole,
	}

	pctx, err := newContext(d.ml, props)
	if err != nil {
		logger.Error("failed to create server connection", "err", err)
		return nil, uac.NewStageError(uac.StageConnect, fmt.Errorf("%w: %w", uac.ErrConnection, err))
	}

	d.ml.Lock()
	d.pctx = pctx
	pctx.SetStateCallback(d.contextStateCallback)
	err = pctx.Connect(cfg.Server)
	d.ml.Unlock()
	if err != nil {
		logger.Error("failed to connect to server", "server", cfg.Server, "err", err)
		d.release()
		return nil, uac.NewStageError(uac.StageConnect, fmt.Errorf("%w: %w", uac.ErrConnection, err))
	}

	if err := d.ml.Start(); err != nil {
		logger.Error("failed to start mainloop", "err", err)
		d.release()
		return nil, uac.NewStageError(uac.StageConnect, fmt.Errorf("%w: %w", uac.ErrConnection, err))
	}

	deadline := d.deadline()
	d.ml.Lock()
	err = d.waitContextReadyLocked(deadline)
	d.ml.Unlock()
	if err != nil {
		logger.Error("failed to connect to server", "server", cfg.Server, "err", err)
		d.release()
		return nil, uac.NewStageError(uac.StageConnect, err)
	}

	if err := d.discover(); err != nil {
		d.release()
		return nil, err
	}

	d.ml.Lock()
	logger.Info("connected to server",
		"server", d.serverInfo.ServerName,
		"version", d.serverInfo.ServerVersion,
		"device", d.device,
		"sources", len(d.sources),
		"sinks", len(d.sinks),
	)
	d.ml.Unlock()

	return d, nil
}

// Query server info, then the sinks, then the sources.
func (d *Device) discover() error {
	err := d.runOperation(uac.StageServerInfo, func(c paclient.Context) *paclient.Operation {
		return c.GetServerInfo(d.serverInfoCallback)
	})
	if err != nil {
		return err
	}

	err = d.runOperation(uac.StageSinkList, func(c paclient.Context) *paclient.Operation {
		d.sinks = nil
		return c.GetSinkInfoList(d.sinkInfoCallback)
	})
	if err != nil {
		return err
	}

	return d.runOperation(uac.StageSourceList, func(c paclient.Context) *paclient.Operation {
		d.sources = nil
		return c.GetSourceInfoList(d.sourceListCallback)
	})
}

// Tear down whatever open managed to set up.
func (d *Device) release() {
	d.ml.Lock()
	if d.pctx != nil {
		d.pctx.SetStateCallback(nil)
		d.pctx.Disconnect()
		d.pctx = nil
	}
	d.ml.Unlock()

	d.ml.Stop()
}

// ----------------------------------------------------------------------------
// Connection callbacks, run on the worker with the lock held.

func (d *Device) contextStateCallback(c paclient.Context) {
	if c != d.pctx {
		return
	}
	d.logger.Debug("connection state changed", "state", c.State())
	d.ml.Signal()
}

func (d *Device) serverInfoCallback(c paclient.Context, info *paclient.ServerInfo) {
	defer d.ml.Signal()
	if c != d.pctx || info == nil {
		return
	}

	d.serverInfo = *info
	d.serverInfo.ChannelMap = slices.Clone(info.ChannelMap)
	d.channelMap = slices.Clone(info.ChannelMap)
	if !d.deviceRequested {
		d.device = info.DefaultSourceName
	}
}

func copyDeviceInfo(info *paclient.DeviceInfo) paclient.DeviceInfo {
	out := *info
	out.ChannelMap = slices.Clone(info.ChannelMap)
	return out
}

func (d *Device) sinkInfoCallback(c paclient.Context, info *paclient.DeviceInfo, eol bool) {
	defer d.ml.Signal()
	if c != d.pctx || eol || info == nil {
		return
	}
	d.sinks = append(d.sinks, copyDeviceInfo(info))
}

func (d *Device) sourceListCallback(c paclient.Context, info *paclient.DeviceInfo, eol bool) {
	defer d.ml.Signal()
	if c != d.pctx || eol || info == nil {
		return
	}
	d.sources = append(d.sources, copyDeviceInfo(info))
}

// ----------------------------------------------------------------------------

// Close stops the stream, disconnects from the server and stops the worker.
// Calls after the first return the first call's result.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.StopStream()
		d.closed.Store(true)

		d.ml.Lock()
		d.sinks = nil
		d.sources = nil
		d.ml.Unlock()

		d.release()
		d.logger.Debug("closed pulseaudio device")
	})
	return d.closeErr
}

// Poll mode is not supported, frames are pushed to the uac.Context.
func (d *Device) QueryFrame() (*frame.AudioFrame, error) {
	return nil, uac.ErrNotImplemented
}

func (d *Device) Ioctl(cmd uac.IoctlCommand, arg any) error {
	d.logger.Debug("unsupported ioctl", "cmd", cmd)
	return uac.ErrNotImplemented
}

func (d *Device) ServerInfo() paclient.ServerInfo {
	d.ml.Lock()
	defer d.ml.Unlock()

	info := d.serverInfo
	info.ChannelMap = slices.Clone(d.serverInfo.ChannelMap)
	return info
}

// Name of the source the device records from.
func (d *Device) DeviceName() string {
	d.ml.Lock()
	defer d.ml.Unlock()
	return d.device
}

func toDeviceInfo(info paclient.DeviceInfo) uac.DeviceInfo {
	format, _ := FrameFormat(info.SampleSpec.Format)
	return uac.DeviceInfo{
		Index:       info.Index,
		Name:        info.Name,
		Description: info.Description,
		Driver:      info.Driver,
		SampleRate:  info.SampleSpec.Rate,
		Channels:    int(info.SampleSpec.Channels),
		Format:      format,
	}
}

func (d *Device) Sources() []uac.DeviceInfo {
	d.ml.Lock()
	defer d.ml.Unlock()

	sources := make([]uac.DeviceInfo, len(d.sources))
	for i, info := range d.sources {
		sources[i] = toDeviceInfo(info)
	}
	return sources
}

func (d *Device) Sinks() []uac.DeviceInfo {
	d.ml.Lock()
	defer d.ml.Unlock()

	sinks := make([]uac.DeviceInfo, len(d.sinks))
	for i, info := range d.sinks {
		sinks[i] = toDeviceInfo(info)
	}
	return sinks
}

func (d *Device) Stats() uac.Stats {
	return uac.Stats{
		Frames:           d.frames.Load(),
		Bytes:            d.bytes.Load(),
		Holes:            d.holes.Load(),
		FormatFallbacks:  d.formatFallbacks.Load(),
		ChannelFallbacks: d.channelFallbacks.Load(),
		Overflows:        d.overflows.Load(),
		Underflows:       d.underflows.Load(),
	}
}
