package pulseaudio

import (
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/stretchr/testify/assert"
)

func TestMapFormat(t *testing.T) {
	testCases := []struct {
		in       paclient.SampleFormat
		format   frame.SampleFormat
		server   paclient.SampleFormat
		fellBack bool
	}{
		{paclient.SampleU8, frame.SampleFormatU8, paclient.SampleU8, false},
		{paclient.SampleS16LE, frame.SampleFormatS16, paclient.SampleS16LE, false},
		{paclient.SampleS32LE, frame.SampleFormatS32, paclient.SampleS32LE, false},
		{paclient.SampleFloat32LE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, false},
		{paclient.SampleALaw, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleULaw, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS16BE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleFloat32BE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS32BE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS24LE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS24BE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS24In32LE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleS24In32BE, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
		{paclient.SampleInvalid, frame.SampleFormatFloat32, paclient.SampleFloat32LE, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in.String(), func(t *testing.T) {
			format, server, fellBack := MapFormat(tc.in)
			assert.Equal(t, tc.format, format)
			assert.Equal(t, tc.server, server)
			assert.Equal(t, tc.fellBack, fellBack)
		})
	}
}

func TestMapChannels(t *testing.T) {
	supported := map[int]SpeakerLayout{
		1: LayoutMono,
		2: LayoutStereo,
		3: Layout2Point1,
		4: Layout4Point0,
		5: Layout4Point1,
		6: Layout5Point1,
		8: Layout7Point1,
	}
	for channels, layout := range supported {
		n, got, fellBack := MapChannels(channels)
		assert.Equal(t, uint8(channels), n)
		assert.Equal(t, layout, got)
		assert.False(t, fellBack)
	}

	for _, channels := range []int{0, 7, 9, 16, 32, 255} {
		n, layout, fellBack := MapChannels(channels)
		assert.Equal(t, uint8(2), n, channels)
		assert.Equal(t, LayoutStereo, layout, channels)
		assert.True(t, fellBack, channels)
	}
}

func TestChannelMapForLayout(t *testing.T) {
	for layout := LayoutMono; layout < layoutCount; layout++ {
		cmap := ChannelMapForLayout(layout)

		// Same input, same map.
		assert.Equal(t, cmap, ChannelMapForLayout(layout), layout.String())

		// Every layout's map matches the channel count it is chosen for.
		n, mapped, _ := MapChannels(len(cmap))
		assert.Equal(t, layout, mapped, layout.String())
		assert.Len(t, cmap, int(n))
	}

	assert.Equal(t, paclient.ChannelMap{paclient.ChannelFrontLeft, paclient.ChannelFrontRight}, ChannelMapForLayout(LayoutStereo))
	assert.Equal(t, paclient.ChannelMap{paclient.ChannelMono}, ChannelMapForLayout(LayoutMono))
	assert.Nil(t, ChannelMapForLayout(LayoutUnknown))
	assert.Nil(t, ChannelMapForLayout(layoutCount))
}

func TestChannelMapForLayoutReturnsCopy(t *testing.T) {
	cmap := ChannelMapForLayout(LayoutStereo)
	cmap[0] = paclient.ChannelLFE

	assert.Equal(t, paclient.ChannelFrontLeft, ChannelMapForLayout(LayoutStereo)[0])
}
