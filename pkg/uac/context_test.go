package uac

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A device that records the calls made on it.
type recordingDevice struct {
	mu      sync.Mutex
	started int
	stopped int
	closed  int
	stats   Stats
}

func (d *recordingDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *recordingDevice) StartStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	return nil
}

func (d *recordingDevice) StopStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

func (d *recordingDevice) QueryFrame() (*frame.AudioFrame, error) {
	return nil, ErrNotImplemented
}

func (d *recordingDevice) Ioctl(IoctlCommand, any) error {
	return ErrNotImplemented
}

func (d *recordingDevice) Stats() Stats {
	return d.stats
}

func (d *recordingDevice) Sources() []DeviceInfo {
	return []DeviceInfo{{Index: 1, Name: "mic"}}
}

func (d *recordingDevice) Sinks() []DeviceInfo {
	return nil
}

type opsFunc func(c *Context, device string, cfg Config) (Device, error)

func (f opsFunc) Open(c *Context, device string, cfg Config) (Device, error) {
	return f(c, device, cfg)
}

func openRecordingDevice(t *testing.T, cfg Config) (*Context, *recordingDevice) {
	t.Helper()

	d := &recordingDevice{}
	c := NewContext(cfg)
	err := c.Open(opsFunc(func(*Context, string, Config) (Device, error) { return d, nil }), "mic")
	require.NoError(t, err)
	return c, d
}

func s16Frame(frames uint, fill byte) *frame.AudioFrame {
	data := make([]byte, frames*4)
	for i := range data {
		data[i] = fill
	}
	return &frame.AudioFrame{
		SampleRate: 48000,
		Format:     frame.SampleFormatS16,
		Data:       data,
		FrameCount: frames,
	}
}

func TestContextDelegatesToDevice(t *testing.T) {
	c, d := openRecordingDevice(t, Config{})

	require.NoError(t, c.StartStream())
	require.NoError(t, c.StopStream())

	_, err := c.QueryFrame()
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, c.Ioctl(IoctlSetMute, true), ErrNotImplemented)

	sources, err := c.Sources()
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	opened, err := c.Device()
	require.NoError(t, err)
	assert.Same(t, d, opened)

	require.NoError(t, c.Close())
	_, err = c.Device()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, d.started)
	assert.Equal(t, 1, d.stopped)
	assert.Equal(t, 1, d.closed)
}

func TestContextOpenErrors(t *testing.T) {
	c := NewContext(Config{})
	assert.ErrorIs(t, c.StartStream(), ErrNotOpen)

	failing := opsFunc(func(*Context, string, Config) (Device, error) {
		return nil, &StageError{Stage: StageConnect, Err: ErrConnection}
	})
	err := c.Open(failing, "mic")
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StageConnect, StageOf(err))

	d := &recordingDevice{}
	require.NoError(t, c.Open(opsFunc(func(*Context, string, Config) (Device, error) { return d, nil }), "mic"))
	assert.ErrorIs(t, c.Open(opsFunc(func(*Context, string, Config) (Device, error) { return &recordingDevice{}, nil }), "mic"), ErrAlreadyOpen)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Open(failing, "mic"), ErrClosed)
}

func TestContextCloseIsIdempotent(t *testing.T) {
	c, d := openRecordingDevice(t, Config{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, d.closed)

	assert.ErrorIs(t, c.StartStream(), ErrClosed)

	// Pushing after close is ignored, and the queue is closed.
	c.PushFrame(s16Frame(4, 1))
	_, ok := <-c.Frames()
	assert.False(t, ok)
}

func TestPushFrameCopiesData(t *testing.T) {
	c, _ := openRecordingDevice(t, Config{})
	defer c.Close()

	f := s16Frame(4, 7)
	c.PushFrame(f)
	f.Data[0] = 0

	got := <-c.Frames()
	assert.Equal(t, byte(7), got.Data[0])
	assert.Equal(t, uint(4), got.FrameCount)
}

func TestPushFrameDropsOldest(t *testing.T) {
	c, d := openRecordingDevice(t, Config{QueueSize: 2})
	defer c.Close()
	d.stats = Stats{Frames: 3}

	c.PushFrame(s16Frame(1, 1))
	c.PushFrame(s16Frame(1, 2))
	c.PushFrame(s16Frame(1, 3))

	assert.Equal(t, uint64(1), c.Dropped())
	assert.Equal(t, byte(2), (<-c.Frames()).Data[0])
	assert.Equal(t, byte(3), (<-c.Frames()).Data[0])

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(1), stats.QueueDrops)
}

func TestPushFrameIgnoresEmptyFrames(t *testing.T) {
	c, _ := openRecordingDevice(t, Config{QueueSize: 1})
	defer c.Close()

	c.PushFrame(nil)
	c.PushFrame(&frame.AudioFrame{Format: frame.SampleFormatS16})
	assert.Len(t, c.Frames(), 0)
}

func TestConfigWaitTimeout(t *testing.T) {
	timeout, ok := Config{}.WaitTimeout()
	assert.True(t, ok)
	assert.Equal(t, DefaultTimeout, timeout)

	timeout, ok = Config{Timeout: 250}.WaitTimeout()
	assert.True(t, ok)
	assert.EqualValues(t, 250, timeout)

	_, ok = Config{Timeout: -1}.WaitTimeout()
	assert.False(t, ok)
}

func TestStageError(t *testing.T) {
	err := NewStageError(StageStreamReady, ErrStream)
	assert.True(t, errors.Is(err, ErrStream))
	assert.Equal(t, "stream-ready: stream error", err.Error())
	assert.Nil(t, NewStageError(StageConnect, nil))
	assert.Equal(t, "", StageOf(ErrStream))
}

func TestStageNames(t *testing.T) {
	stages := []string{
		StageConnect,
		StageServerInfo,
		StageSinkList,
		StageSourceList,
		StageSourceInfo,
		StageNegotiate,
		StageCreateStream,
		StageConnectStream,
		StageStreamReady,
		StageStopStream,
	}
	assert.Equal(t, []string{
		"connect",
		"server-info",
		"sink-list",
		"source-list",
		"source-info",
		"negotiate",
		"create-stream",
		"connect-stream",
		"stream-ready",
		"stop-stream",
	}, stages)

	err := NewStageError(StageNegotiate, fmt.Errorf("%w: s24", ErrInvalidFormat))
	assert.Equal(t, StageNegotiate, StageOf(fmt.Errorf("open: %w", err)))
}
