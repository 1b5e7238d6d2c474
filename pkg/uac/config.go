package uac

import (
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/frame"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultQueueSize = 64
)

// Configuration handed to a backend when a device is opened.
//
// Format, SampleRate and Channels are requests only. Backends that negotiate with a
// sound server report whatever the device natively produces, and every frame carries
// the format it was actually captured in.
type Config struct {
	Format     frame.SampleFormat
	SampleRate uint32
	Channels   int

	// Server to connect to. Empty selects the backend's default.
	Server string

	// Bound on every blocking wait inside the backend.
	// Zero selects DefaultTimeout, a negative value waits without bound.
	Timeout time.Duration

	// Ask for realtime scheduling of the backend's worker thread, where supported.
	Realtime bool

	// Capacity of the Context frame queue. Zero selects DefaultQueueSize.
	QueueSize int
}

// The effective wait bound. ok is false when waits are unbounded.
func (c Config) WaitTimeout() (timeout time.Duration, ok bool) {
	switch {
	case c.Timeout < 0:
		return 0, false
	case c.Timeout == 0:
		return DefaultTimeout, true
	}
	return c.Timeout, true
}

func (c Config) queueSize() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}
