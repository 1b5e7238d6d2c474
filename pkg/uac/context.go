package uac

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
	"github.com/google/uuid"
)

// A capture context: owns one opened backend Device and the queue its frames are delivered into.
//
// Context implements FrameSink. Frames pushed by the backend are copied into a bounded queue,
// read through Frames(). When the consumer falls behind the oldest queued frame is dropped,
// so the backend's capture thread never blocks.
type Context struct {
	logger *slog.Logger
	uuid   uuid.UUID
	cfg    Config

	mu     sync.Mutex
	device Device
	closed bool

	queue       chan frame.AudioFrame
	dropped     atomic.Uint64
	lastDropLog atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

func NewContext(cfg Config) *Context {
	uuid := uuid.New()
	logger := slog.Default().With(
		"uac context uuid", uuid,
	)

	return &Context{
		logger: logger,
		uuid:   uuid,
		cfg:    cfg,
		queue:  make(chan frame.AudioFrame, cfg.queueSize()),
	}
}

func (c *Context) Config() Config {
	return c.cfg
}

func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Open device through the given backend.
// A Context holds at most one device. Close it and create a new Context to switch.
func (c *Context) Open(ops Ops, device string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.device != nil {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.mu.Unlock()

	// ops.Open blocks on the backend; it must not run under c.mu since the
	// backend may push frames into c from its own thread.
	d, err := ops.Open(c, device, c.cfg)
	if err != nil {
		c.logger.Error("failed to open device", "device", device, "err", err)
		return fmt.Errorf("failed to open device %q: %w", device, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.device != nil {
		d.Close()
		if c.closed {
			return ErrClosed
		}
		return ErrAlreadyOpen
	}
	c.device = d

	c.logger.Debug("opened device", "device", device)
	return nil
}

func (c *Context) currentDevice() (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.device == nil {
		return nil, ErrNotOpen
	}
	return c.device, nil
}

// The opened device, for backend specific extensions such as DeviceLister.
func (c *Context) Device() (Device, error) {
	return c.currentDevice()
}

func (c *Context) StartStream() error {
	d, err := c.currentDevice()
	if err != nil {
		return err
	}
	return d.StartStream()
}

func (c *Context) StopStream() error {
	d, err := c.currentDevice()
	if err != nil {
		return err
	}
	return d.StopStream()
}

func (c *Context) QueryFrame() (*frame.AudioFrame, error) {
	d, err := c.currentDevice()
	if err != nil {
		return nil, err
	}
	return d.QueryFrame()
}

func (c *Context) Ioctl(cmd IoctlCommand, arg any) error {
	d, err := c.currentDevice()
	if err != nil {
		return err
	}
	return d.Ioctl(cmd, arg)
}

// Capture sources known to the opened device, if its backend can enumerate them.
func (c *Context) Sources() ([]DeviceInfo, error) {
	d, err := c.currentDevice()
	if err != nil {
		return nil, err
	}
	lister, ok := d.(DeviceLister)
	if !ok {
		return nil, ErrNotImplemented
	}
	return lister.Sources(), nil
}

// Playback sinks known to the opened device, if its backend can enumerate them.
func (c *Context) Sinks() ([]DeviceInfo, error) {
	d, err := c.currentDevice()
	if err != nil {
		return nil, err
	}
	lister, ok := d.(DeviceLister)
	if !ok {
		return nil, ErrNotImplemented
	}
	return lister.Sinks(), nil
}

// Capture counters of the opened device, plus the frames dropped by this Context's queue.
func (c *Context) Stats() Stats {
	var stats Stats

	c.mu.Lock()
	d := c.device
	c.mu.Unlock()

	if reporter, ok := d.(StatsReporter); ok {
		stats = reporter.Stats()
	}
	stats.QueueDrops = c.dropped.Load()
	return stats
}

func (c *Context) Dropped() uint64 {
	return c.dropped.Load()
}

// Frames captured by the opened device. The channel is closed by Close.
func (c *Context) Frames() <-chan frame.AudioFrame {
	return c.queue
}

// Copy f into the frame queue, dropping the oldest queued frame if the queue is full.
func (c *Context) PushFrame(f *frame.AudioFrame) {
	if f == nil || f.FrameCount == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	owned := f.Clone()
	for {
		select {
		case c.queue <- owned:
			return
		default:
		}

		// Queue full: drop oldest to keep the capture thread non-blocking.
		select {
		case <-c.queue:
			total := c.dropped.Add(1)
			if utils.ShouldLog(&c.lastDropLog, time.Second) {
				c.logger.Warn("frame queue full, dropping oldest frame",
					"dropped", total,
					"queue", len(c.queue),
				)
			}
		default:
		}
	}
}

// Close the opened device, if any, and the frame queue.
// Every call after the first returns the first call's result.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		d := c.device
		c.closed = true
		c.mu.Unlock()

		if d != nil {
			c.closeErr = d.Close()
			if c.closeErr != nil {
				c.logger.Error("failed to close device", "err", c.closeErr)
			}
		}

		c.mu.Lock()
		close(c.queue)
		c.mu.Unlock()

		c.logger.Debug("closed uac context", "dropped", c.dropped.Load())
	})
	return c.closeErr
}
