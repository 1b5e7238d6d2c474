package pulseaudio

import (
	"slices"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
)

// Named channel-count to channel-position mappings.
type SpeakerLayout int

const (
	LayoutUnknown SpeakerLayout = iota
	LayoutMono
	LayoutStereo
	Layout2Point1
	Layout4Point0
	Layout4Point1
	Layout5Point1
	Layout7Point1

	layoutCount
)

func (l SpeakerLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout2Point1:
		return "2.1"
	case Layout4Point0:
		return "4.0"
	case Layout4Point1:
		return "4.1"
	case Layout5Point1:
		return "5.1"
	case Layout7Point1:
		return "7.1"
	}
	return "unknown"
}

// Channel positions by layout, in interleaving order.
var layoutChannelMaps = [layoutCount]paclient.ChannelMap{
	LayoutMono: {paclient.ChannelMono},
	LayoutStereo: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
	},
	Layout2Point1: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
		paclient.ChannelLFE,
	},
	Layout4Point0: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
		paclient.ChannelFrontCenter, paclient.ChannelRearCenter,
	},
	Layout4Point1: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
		paclient.ChannelFrontCenter, paclient.ChannelLFE,
		paclient.ChannelRearCenter,
	},
	Layout5Point1: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
		paclient.ChannelFrontCenter, paclient.ChannelLFE,
		paclient.ChannelRearLeft, paclient.ChannelRearRight,
	},
	Layout7Point1: {
		paclient.ChannelFrontLeft, paclient.ChannelFrontRight,
		paclient.ChannelFrontCenter, paclient.ChannelLFE,
		paclient.ChannelRearLeft, paclient.ChannelRearRight,
		paclient.ChannelSideLeft, paclient.ChannelSideRight,
	},
}

// The channel map for a layout. The returned map is a copy, nil for LayoutUnknown.
func ChannelMapForLayout(layout SpeakerLayout) paclient.ChannelMap {
	if layout <= LayoutUnknown || layout >= layoutCount {
		return nil
	}
	return slices.Clone(layoutChannelMaps[layout])
}

func LayoutForChannels(channels int) SpeakerLayout {
	switch channels {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return Layout2Point1
	case 4:
		return Layout4Point0
	case 5:
		return Layout4Point1
	case 6:
		return Layout5Point1
	case 8:
		return Layout7Point1
	}
	return LayoutUnknown
}

// Translate a server sample format. ok is false for formats with no equivalent.
func FrameFormat(format paclient.SampleFormat) (f frame.SampleFormat, ok bool) {
	switch format {
	case paclient.SampleU8:
		return frame.SampleFormatU8, true
	case paclient.SampleS16LE:
		return frame.SampleFormatS16, true
	case paclient.SampleS32LE:
		return frame.SampleFormatS32, true
	case paclient.SampleFloat32LE:
		return frame.SampleFormatFloat32, true
	}
	return frame.SampleFormatUnknown, false
}

// Pick the format to record in for a device reporting format.
// Unsupported formats fall back to 32-bit float, reported through fellBack.
func MapFormat(format paclient.SampleFormat) (f frame.SampleFormat, server paclient.SampleFormat, fellBack bool) {
	if f, ok := FrameFormat(format); ok {
		return f, format, false
	}
	return frame.SampleFormatFloat32, paclient.SampleFloat32LE, true
}

// Pick the channel count and layout to record with for a device reporting channels.
// Counts without a layout fall back to stereo, reported through fellBack.
func MapChannels(channels int) (n uint8, layout SpeakerLayout, fellBack bool) {
	layout = LayoutForChannels(channels)
	if layout == LayoutUnknown {
		return 2, LayoutStereo, true
	}
	return uint8(channels), layout, false
}
