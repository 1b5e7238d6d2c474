package paclient

import "errors"

var (
	ErrNotReady      = errors.New("connection not ready")
	ErrBadState      = errors.New("bad state")
	ErrNoEntity      = errors.New("no such entity")
	ErrInvalidSpec   = errors.New("invalid sample spec")
	ErrDisconnected  = errors.New("disconnected")
	ErrAlreadyActive = errors.New("already connected")
)

type (
	ContextCallback    func(c Context)
	ServerInfoCallback func(c Context, info *ServerInfo)

	// Called once per device, then once more with eol set and a nil info.
	DeviceInfoCallback func(c Context, info *DeviceInfo, eol bool)

	StreamCallback func(s Stream)

	// Called with the number of bytes that became readable.
	StreamRequestCallback func(s Stream, nbytes int)
)

// Builds a Context bound to a mainloop.
type ContextFactory func(ml *Mainloop, props PropList) (Context, error)

// A connection to a sound server.
//
// Every method must be called with the mainloop lock held, and every callback
// runs on the mainloop worker with the lock held.
// The info passed to a callback is only valid during the call.
//
// State changes do not wake mainloop waiters by themselves: a caller that waits on the
// state must register a state callback that calls Mainloop.Signal. Operations signal on
// every transition.
type Context interface {
	State() ContextState

	// The error behind the last failure, if any.
	Errno() error

	SetStateCallback(cb ContextCallback)

	// Begin connecting to server, or the default server if empty.
	// Progress is reported through the state callback.
	Connect(server string) error
	Disconnect()

	// Queries. A nil Operation means the query could not be submitted, and Errno says why.
	GetServerInfo(cb ServerInfoCallback) *Operation
	GetSinkInfoList(cb DeviceInfoCallback) *Operation
	GetSourceInfoList(cb DeviceInfoCallback) *Operation
	GetSourceInfoByName(name string, cb DeviceInfoCallback) *Operation

	NewStream(name string, spec SampleSpec, cmap ChannelMap, props PropList) (Stream, error)
}

// A record stream.
//
// Like Context, every method must be called with the mainloop lock held.
type Stream interface {
	State() StreamState
	Context() Context

	SetStateCallback(cb StreamCallback)
	SetReadCallback(cb StreamRequestCallback)
	SetWriteCallback(cb StreamRequestCallback)
	SetOverflowCallback(cb StreamCallback)
	SetUnderflowCallback(cb StreamCallback)
	SetLatencyUpdateCallback(cb StreamCallback)

	// Begin connecting the stream for recording from device. A nil attr leaves buffering to the server.
	ConnectRecord(device string, attr *BufferAttr, flags StreamFlags) error

	// Return the next readable fragment without consuming it.
	// A nil data with a positive nbytes is a hole: nbytes of audio were lost.
	// Zero nbytes means nothing is readable.
	Peek() (data []byte, nbytes int, err error)

	// Consume the fragment returned by the last Peek.
	Drop() error

	Disconnect() error
}
