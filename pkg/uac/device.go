package uac

import (
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
)

// The entry point of a capture backend.
//
// Open brings the backend up far enough to capture from device
// (e.g. connects to a sound server and discovers devices) and returns the opened Device.
// Frames captured once the stream is started are pushed into c.
type Ops interface {
	Open(c *Context, device string, cfg Config) (Device, error)
}

// A device opened by a backend.
type Device interface {
	// Release every resource held by the device. Safe to call more than once.
	Close() error

	StartStream() error

	// Stop capturing while keeping the device open, so that StartStream may be called again.
	StopStream() error

	// Polling alternative to push delivery.
	// Backends that only push frames return ErrNotImplemented.
	QueryFrame() (*frame.AudioFrame, error)

	// Backend specific control. Backends return ErrNotImplemented for commands they do not handle.
	Ioctl(cmd IoctlCommand, arg any) error
}

// Receives frames from a backend.
//
// PushFrame is called from the backend's capture thread, and the frame's Data is only
// valid until PushFrame returns. Implementations must not block.
type FrameSink interface {
	PushFrame(f *frame.AudioFrame)
}

type IoctlCommand int

// Reserved commands. No backend in this module implements them yet.
const (
	IoctlSetVolume IoctlCommand = iota + 1
	IoctlSetMute
	IoctlSwitchDevice
)

func (cmd IoctlCommand) String() string {
	switch cmd {
	case IoctlSetVolume:
		return "set-volume"
	case IoctlSetMute:
		return "set-mute"
	case IoctlSwitchDevice:
		return "switch-device"
	}
	return fmt.Sprintf("ioctl(%d)", int(cmd))
}

// A device known to a backend, as reported by the backend's discovery.
type DeviceInfo struct {
	// Backend specific index. Not stable across restarts of the sound server.
	Index uint32

	// Canonical name of the device, the value to pass to Ops.Open.
	Name string

	// A human-readable description, if one exists.
	Description string

	Driver string

	SampleRate uint32
	Channels   int
	Format     frame.SampleFormat
}

func (info DeviceInfo) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Index:       %d\n", info.Index)
	fmt.Fprintf(&sb, "Name:        %s\n", info.Name)
	fmt.Fprintf(&sb, "Description: %s\n", info.Description)
	fmt.Fprintf(&sb, "Driver:      %s\n", info.Driver)
	fmt.Fprintf(&sb, "SampleRate:  %d\n", info.SampleRate)
	fmt.Fprintf(&sb, "NumChannels: %d\n", info.Channels)
	fmt.Fprintf(&sb, "Format:      %s\n", info.Format)
	return sb.String()
}

// Implemented by devices that can enumerate the capture and playback devices of their backend.
type DeviceLister interface {
	Sources() []DeviceInfo
	Sinks() []DeviceInfo
}

// Capture counters.
type Stats struct {
	Frames uint64
	Bytes  uint64

	// Gaps reported by the server, skipped without emitting a frame.
	Holes uint64

	// Times a device reported a sample format or channel count outside the supported set.
	FormatFallbacks  uint64
	ChannelFallbacks uint64

	Overflows  uint64
	Underflows uint64

	// Frames discarded by the Context queue because the consumer fell behind.
	QueueDrops uint64
}

// Implemented by devices that keep capture counters.
type StatsReporter interface {
	Stats() Stats
}
