package paclient

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// Names of the queries a FakeServer can be scripted to cancel or hang.
const (
	QueryServerInfo = "server-info"
	QuerySinkList   = "sink-list"
	QuerySourceList = "source-list"
	QuerySourceInfo = "source-info"
)

var errFakeConnectionRefused = errors.New("connection refused")

// A scripted, in-process sound server.
//
// Contexts created by a FakeServer run every callback on the real Mainloop worker,
// so code under test sees the same locking and wake-ups as against a real server.
// Script fields must be set before the first Context is created.
//
// This server is intended to be used in testing only!
type FakeServer struct {
	Info    ServerInfo
	Sinks   []DeviceInfo
	Sources []DeviceInfo

	// Context states delivered one callback at a time after Connect,
	// which itself moves the context to connecting.
	// Defaults to authorizing, setting-name, ready.
	ConnectStates []ContextState

	// Stream states delivered one callback at a time after ConnectRecord.
	// Defaults to creating, ready.
	StreamStates []StreamState

	// Returned by NewStream when set.
	NewStreamError error

	// Queries, by name, that the server cancels or never answers.
	Cancel map[string]bool
	Hang   map[string]bool

	mu       sync.Mutex
	mainloop *Mainloop
	props    PropList
	contexts []*FakeContext
	streams  []*FakeStream
}

// Create a Context connected to this server. Satisfies ContextFactory.
func (srv *FakeServer) NewContext(ml *Mainloop, props PropList) (Context, error) {
	c := &FakeContext{
		server: srv,
		ml:     ml,
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.mainloop = ml
	srv.props = props.Clone()
	srv.contexts = append(srv.contexts, c)
	return c, nil
}

// The mainloop of the most recent Context.
func (srv *FakeServer) Mainloop() *Mainloop {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.mainloop
}

// The properties of the most recent Context.
func (srv *FakeServer) Props() PropList {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.props.Clone()
}

// The most recently created stream, or nil.
func (srv *FakeServer) Stream() *FakeStream {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.streams) == 0 {
		return nil
	}
	return srv.streams[len(srv.streams)-1]
}

func (srv *FakeServer) StreamCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.streams)
}

func (srv *FakeServer) connectStates() []ContextState {
	if len(srv.ConnectStates) > 0 {
		return srv.ConnectStates
	}
	return []ContextState{ContextAuthorizing, ContextSettingName, ContextReady}
}

func (srv *FakeServer) streamStates() []StreamState {
	if len(srv.StreamStates) > 0 {
		return srv.StreamStates
	}
	return []StreamState{StreamCreating, StreamReady}
}

// ----------------------------------------------------------------------------

// A Context served by a FakeServer.
type FakeContext struct {
	server *FakeServer
	ml     *Mainloop

	state   ContextState
	errno   error
	stateCb ContextCallback
}

func (c *FakeContext) State() ContextState {
	return c.state
}

func (c *FakeContext) Errno() error {
	return c.errno
}

func (c *FakeContext) SetStateCallback(cb ContextCallback) {
	c.stateCb = cb
}

func (c *FakeContext) setState(state ContextState) {
	c.state = state
	if state == ContextFailed && c.errno == nil {
		c.errno = errFakeConnectionRefused
	}
	if c.stateCb != nil {
		c.stateCb(c)
	}
}

func (c *FakeContext) Connect(server string) error {
	if c.state != ContextUnconnected {
		return ErrAlreadyActive
	}
	c.setState(ContextConnecting)

	for _, state := range c.server.connectStates() {
		c.ml.Defer(func() {
			// Disconnected meanwhile.
			if c.state == ContextTerminated {
				return
			}
			c.setState(state)
		})
	}
	return nil
}

func (c *FakeContext) Disconnect() {
	if c.state != ContextUnconnected && c.state != ContextFailed {
		c.setState(ContextTerminated)
	}
}

// Submit a query that completes on the worker by calling answer, unless scripted otherwise.
func (c *FakeContext) query(name string, answer func(op *Operation)) *Operation {
	if c.state != ContextReady {
		c.errno = ErrNotReady
		return nil
	}

	op := newOperation(c.ml)
	if c.server.Hang[name] {
		return op
	}

	c.ml.Defer(func() {
		if op.State() != OperationRunning {
			return
		}
		if c.server.Cancel[name] {
			op.fail()
			return
		}
		answer(op)
		op.finish()
	})
	return op
}

func (c *FakeContext) GetServerInfo(cb ServerInfoCallback) *Operation {
	return c.query(QueryServerInfo, func(op *Operation) {
		info := c.server.Info
		info.ChannelMap = slices.Clone(info.ChannelMap)
		if cb != nil {
			cb(c, &info)
		}
	})
}

func (c *FakeContext) listDevices(name string, devices []DeviceInfo, cb DeviceInfoCallback) *Operation {
	return c.query(name, func(op *Operation) {
		if cb == nil {
			return
		}
		for i := range devices {
			cb(c, devices[i].clone(), false)
		}
		cb(c, nil, true)
	})
}

func (c *FakeContext) GetSinkInfoList(cb DeviceInfoCallback) *Operation {
	return c.listDevices(QuerySinkList, c.server.Sinks, cb)
}

func (c *FakeContext) GetSourceInfoList(cb DeviceInfoCallback) *Operation {
	return c.listDevices(QuerySourceList, c.server.Sources, cb)
}

func (c *FakeContext) GetSourceInfoByName(name string, cb DeviceInfoCallback) *Operation {
	return c.query(QuerySourceInfo, func(op *Operation) {
		i := slices.IndexFunc(c.server.Sources, func(d DeviceInfo) bool { return d.Name == name })
		if i < 0 {
			c.errno = ErrNoEntity
		}
		if cb == nil {
			return
		}
		if i >= 0 {
			cb(c, c.server.Sources[i].clone(), false)
		}
		cb(c, nil, true)
	})
}

func (c *FakeContext) NewStream(name string, spec SampleSpec, cmap ChannelMap, props PropList) (Stream, error) {
	if c.state != ContextReady {
		return nil, ErrNotReady
	}
	if c.server.NewStreamError != nil {
		c.errno = c.server.NewStreamError
		return nil, c.server.NewStreamError
	}
	if !spec.Valid() || !cmap.Compatible(spec) {
		c.errno = ErrInvalidSpec
		return nil, ErrInvalidSpec
	}

	s := &FakeStream{
		ctx:   c,
		Name:  name,
		Spec:  spec,
		Map:   slices.Clone(cmap),
		Props: props.Clone(),
	}

	c.server.mu.Lock()
	c.server.streams = append(c.server.streams, s)
	c.server.mu.Unlock()
	return s, nil
}

// ----------------------------------------------------------------------------

type fakeChunk struct {
	data   []byte
	nbytes int
}

// A record stream served by a FakeServer.
//
// The exported fields describe how the stream was created and connected,
// and are safe to read once ConnectRecord has returned.
type FakeStream struct {
	ctx *FakeContext

	Name   string
	Spec   SampleSpec
	Map    ChannelMap
	Props  PropList
	Device string
	Attr   BufferAttr
	Flags  StreamFlags

	state   StreamState
	pending []fakeChunk

	drops atomic.Int64

	stateCb     StreamCallback
	readCb      StreamRequestCallback
	writeCb     StreamRequestCallback
	overflowCb  StreamCallback
	underflowCb StreamCallback
	latencyCb   StreamCallback
}

func (s *FakeStream) State() StreamState {
	return s.state
}

func (s *FakeStream) Context() Context {
	return s.ctx
}

func (s *FakeStream) SetStateCallback(cb StreamCallback) { s.stateCb = cb }
func (s *FakeStream) SetReadCallback(cb StreamRequestCallback) { s.readCb = cb }
func (s *FakeStream) SetWriteCallback(cb StreamRequestCallback) { s.writeCb = cb }
func (s *FakeStream) SetOverflowCallback(cb StreamCallback) { s.overflowCb = cb }
func (s *FakeStream) SetUnderflowCallback(cb StreamCallback) { s.underflowCb = cb }
func (s *FakeStream) SetLatencyUpdateCallback(cb StreamCallback) { s.latencyCb = cb }

func (s *FakeStream) setState(state StreamState) {
	s.state = state
	if s.stateCb != nil {
		s.stateCb(s)
	}
}

func (s *FakeStream) ConnectRecord(device string, attr *BufferAttr, flags StreamFlags) error {
	if s.state != StreamUnconnected {
		return ErrBadState
	}

	s.Device = device
	s.Attr = DefaultBufferAttr()
	if attr != nil {
		s.Attr = *attr
	}
	s.Flags = flags

	for _, state := range s.ctx.server.streamStates() {
		s.ctx.ml.Defer(func() {
			if s.state == StreamTerminated {
				return
			}
			s.setState(state)
		})
	}
	return nil
}

func (s *FakeStream) Peek() ([]byte, int, error) {
	if s.state != StreamReady {
		return nil, 0, ErrBadState
	}
	if len(s.pending) == 0 {
		return nil, 0, nil
	}
	return s.pending[0].data, s.pending[0].nbytes, nil
}

func (s *FakeStream) Drop() error {
	s.drops.Add(1)
	if len(s.pending) == 0 {
		return ErrBadState
	}
	s.pending = s.pending[1:]
	return nil
}

func (s *FakeStream) Disconnect() error {
	if s.state != StreamCreating && s.state != StreamReady {
		return ErrBadState
	}
	s.pending = nil
	s.setState(StreamTerminated)
	return nil
}

// Number of Drop calls so far.
func (s *FakeStream) Drops() int {
	return int(s.drops.Load())
}

// Whether any callback is still registered on the stream.
func (s *FakeStream) HasCallbacks() bool {
	var registered bool
	s.runOnWorker(func() {
		registered = s.stateCb != nil || s.readCb != nil || s.writeCb != nil ||
			s.overflowCb != nil || s.underflowCb != nil || s.latencyCb != nil
	})
	return registered
}

// Run fn on the worker and wait for it. Must not be called with the lock held.
func (s *FakeStream) runOnWorker(fn func()) {
	done := make(chan struct{})
	if !s.ctx.ml.Defer(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	<-done
}

func (s *FakeStream) deliver(chunk fakeChunk) {
	s.runOnWorker(func() {
		if s.state != StreamReady {
			return
		}
		if chunk.nbytes > 0 {
			s.pending = append(s.pending, chunk)
		}
		if s.readCb != nil {
			s.readCb(s, chunk.nbytes)
		}
	})
}

// Make data readable and wait for the read callback to return.
func (s *FakeStream) Push(data []byte) {
	s.deliver(fakeChunk{data: slices.Clone(data), nbytes: len(data)})
}

// Report a hole of nbytes lost bytes and wait for the read callback to return.
func (s *FakeStream) PushHole(nbytes int) {
	s.deliver(fakeChunk{nbytes: nbytes})
}

// Fire the read callback with nothing readable.
func (s *FakeStream) PushEmpty() {
	s.deliver(fakeChunk{})
}

func (s *FakeStream) Overflow() {
	s.runOnWorker(func() {
		if s.overflowCb != nil {
			s.overflowCb(s)
		}
	})
}

func (s *FakeStream) Underflow() {
	s.runOnWorker(func() {
		if s.underflowCb != nil {
			s.underflowCb(s)
		}
	})
}

func (s *FakeStream) LatencyUpdate() {
	s.runOnWorker(func() {
		if s.latencyCb != nil {
			s.latencyCb(s)
		}
	})
}

// Move the stream to the failed state, as when the server kills it.
func (s *FakeStream) Fail() {
	s.runOnWorker(func() {
		if s.state == StreamReady || s.state == StreamCreating {
			s.setState(StreamFailed)
		}
	})
}
