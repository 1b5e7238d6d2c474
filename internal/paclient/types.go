package paclient

import (
	"fmt"
	"maps"
)

// Sample formats as numbered on the wire.
type SampleFormat byte

const (
	SampleU8 SampleFormat = iota
	SampleALaw
	SampleULaw
	SampleS16LE
	SampleS16BE
	SampleFloat32LE
	SampleFloat32BE
	SampleS32LE
	SampleS32BE
	SampleS24LE
	SampleS24BE
	SampleS24In32LE
	SampleS24In32BE

	sampleFormatMax
	SampleInvalid SampleFormat = 0xff
)

var sampleFormatNames = [sampleFormatMax]string{
	"u8", "aLaw", "uLaw", "s16le", "s16be", "float32le", "float32be",
	"s32le", "s32be", "s24le", "s24be", "s24-32le", "s24-32be",
}

var sampleSizes = [sampleFormatMax]int{1, 1, 1, 2, 2, 4, 4, 4, 4, 3, 3, 4, 4}

func (f SampleFormat) String() string {
	if f < sampleFormatMax {
		return sampleFormatNames[f]
	}
	return "invalid"
}

func (f SampleFormat) Valid() bool {
	return f < sampleFormatMax
}

// Bytes per sample of a single channel, 0 for an invalid format.
func (f SampleFormat) Size() int {
	if f < sampleFormatMax {
		return sampleSizes[f]
	}
	return 0
}

const (
	MaxRate     = 48000 * 8
	MaxChannels = 32
)

type SampleSpec struct {
	Format   SampleFormat
	Rate     uint32
	Channels uint8
}

// Report whether the server could accept the spec.
func (s SampleSpec) Valid() bool {
	return s.Format.Valid() &&
		s.Rate > 0 && s.Rate <= MaxRate &&
		s.Channels > 0 && s.Channels <= MaxChannels
}

func (s SampleSpec) SampleSize() int {
	return s.Format.Size()
}

// Bytes per frame, i.e. one sample for every channel.
func (s SampleSpec) FrameSize() int {
	return s.Format.Size() * int(s.Channels)
}

// Number of bytes holding usec microseconds of audio, rounded down to a whole frame.
func (s SampleSpec) UsecToBytes(usec uint64) uint32 {
	return uint32(usec * uint64(s.Rate) / 1_000_000 * uint64(s.FrameSize()))
}

func (s SampleSpec) String() string {
	return fmt.Sprintf("%s %dch %dHz", s.Format, s.Channels, s.Rate)
}

type ChannelPosition byte

const (
	ChannelMono ChannelPosition = iota
	ChannelFrontLeft
	ChannelFrontRight
	ChannelFrontCenter
	ChannelRearCenter
	ChannelRearLeft
	ChannelRearRight
	ChannelLFE
	ChannelFrontLeftOfCenter
	ChannelFrontRightOfCenter
	ChannelSideLeft
	ChannelSideRight
)

func (p ChannelPosition) String() string {
	switch p {
	case ChannelMono:
		return "mono"
	case ChannelFrontLeft:
		return "front-left"
	case ChannelFrontRight:
		return "front-right"
	case ChannelFrontCenter:
		return "front-center"
	case ChannelRearCenter:
		return "rear-center"
	case ChannelRearLeft:
		return "rear-left"
	case ChannelRearRight:
		return "rear-right"
	case ChannelLFE:
		return "lfe"
	case ChannelFrontLeftOfCenter:
		return "front-left-of-center"
	case ChannelFrontRightOfCenter:
		return "front-right-of-center"
	case ChannelSideLeft:
		return "side-left"
	case ChannelSideRight:
		return "side-right"
	}
	return fmt.Sprintf("position(%d)", byte(p))
}

// Channel positions, one per channel, in interleaving order.
type ChannelMap []ChannelPosition

func (m ChannelMap) Valid() bool {
	return len(m) > 0 && len(m) <= MaxChannels
}

// Report whether the map can describe audio in spec.
func (m ChannelMap) Compatible(spec SampleSpec) bool {
	return m.Valid() && len(m) == int(spec.Channels)
}

// Well known property keys.
const (
	PropApplicationName     = "application.name"
	PropApplicationIconName = "application.icon_name"
	PropMediaRole           = "media.role"
	PropMediaName           = "media.name"
)

type PropList map[string]string

func (p PropList) Clone() PropList {
	return maps.Clone(p)
}

// Value used for any BufferAttr field the server should choose itself.
const BufferAttrDefault = ^uint32(0)

// Requested record buffer sizes, in bytes.
type BufferAttr struct {
	MaxLength uint32
	TLength   uint32
	PreBuf    uint32
	MinReq    uint32
	FragSize  uint32
}

// Attributes with every field left to the server.
func DefaultBufferAttr() BufferAttr {
	return BufferAttr{
		MaxLength: BufferAttrDefault,
		TLength:   BufferAttrDefault,
		PreBuf:    BufferAttrDefault,
		MinReq:    BufferAttrDefault,
		FragSize:  BufferAttrDefault,
	}
}

type StreamFlags uint32

const (
	StreamNoFlags           StreamFlags = 0
	StreamStartCorked       StreamFlags = 0x0001
	StreamInterpolateTiming StreamFlags = 0x0002
	StreamNotMonotonic      StreamFlags = 0x0004
	StreamAutoTimingUpdate  StreamFlags = 0x0008
	StreamAdjustLatency     StreamFlags = 0x2000
)

func (f StreamFlags) Has(flag StreamFlags) bool {
	return f&flag == flag
}

// Global server information.
type ServerInfo struct {
	UserName          string
	HostName          string
	ServerName        string
	ServerVersion     string
	SampleSpec        SampleSpec
	DefaultSinkName   string
	DefaultSourceName string
	Cookie            uint32
	ChannelMap        ChannelMap
}

// A sink or source known to the server.
type DeviceInfo struct {
	Index       uint32
	Name        string
	Description string
	Driver      string
	SampleSpec  SampleSpec
	ChannelMap  ChannelMap
}

func (d *DeviceInfo) clone() *DeviceInfo {
	c := *d
	c.ChannelMap = append(ChannelMap(nil), d.ChannelMap...)
	return &c
}
