package paclient

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	jpulse "github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const (
	undefinedIndex = ^uint32(0)

	// Overwrite the given keys, keep every other property.
	proplistUpdateReplace = 2
)

// A Context speaking the native protocol through github.com/jfreymuth/pulse.
//
// The client library is synchronous, so every request runs on its own goroutine and
// its completion is handed back to the mainloop worker with Defer. Callbacks therefore
// see the same threading as with any other Context.
type nativeContext struct {
	logger *slog.Logger
	ml     *Mainloop
	props  PropList

	state   ContextState
	errno   error
	stateCb ContextCallback
	client  *jpulse.Client
}

// Create a Context for the native protocol. Satisfies ContextFactory.
func NewNativeContext(ml *Mainloop, props PropList) (Context, error) {
	if ml == nil {
		return nil, fmt.Errorf("nil mainloop")
	}

	uuid := uuid.New()
	return &nativeContext{
		logger: slog.Default().With("pulse context uuid", uuid),
		ml:     ml,
		props:  props.Clone(),
	}, nil
}

func (c *nativeContext) State() ContextState {
	return c.state
}

func (c *nativeContext) Errno() error {
	return c.errno
}

func (c *nativeContext) SetStateCallback(cb ContextCallback) {
	c.stateCb = cb
}

func (c *nativeContext) setState(state ContextState) {
	if c.state == state {
		return
	}
	c.logger.Debug("context state changed", "from", c.state, "to", state)
	c.state = state
	if c.stateCb != nil {
		c.stateCb(c)
	}
}

func (c *nativeContext) Connect(server string) error {
	if c.state != ContextUnconnected {
		return ErrAlreadyActive
	}

	opts := []jpulse.ClientOption{}
	if name, ok := c.props[PropApplicationName]; ok {
		opts = append(opts, jpulse.ClientApplicationName(name))
	}
	if icon, ok := c.props[PropApplicationIconName]; ok {
		opts = append(opts, jpulse.ClientApplicationIconName(icon))
	}
	if server != "" {
		opts = append(opts, jpulse.ClientServerString(server))
	}

	c.setState(ContextConnecting)

	go func() {
		client, err := jpulse.NewClient(opts...)
		if err != nil {
			c.ml.Defer(func() {
				if c.state != ContextConnecting {
					return
				}
				c.logger.Error("failed to connect to server", "server", server, "err", err)
				c.errno = fmt.Errorf("failed to connect: %w", err)
				c.setState(ContextFailed)
			})
			return
		}

		queued := c.ml.Defer(func() {
			if c.state != ContextConnecting {
				// Disconnected while the handshake was in flight.
				client.Close()
				return
			}
			c.client = client
			c.setState(ContextSettingName)
			go c.updateProplist(client)
		})
		if !queued {
			client.Close()
		}
	}()

	return nil
}

// Push the properties the client library has no option for (e.g. media.role) to the server.
func (c *nativeContext) updateProplist(client *jpulse.Client) {
	err := client.RawRequest(&proto.UpdateClientProplist{
		Mode:       proplistUpdateReplace,
		Properties: propListToProto(c.props),
	}, nil)

	c.ml.Defer(func() {
		if c.client != client || c.state != ContextSettingName {
			return
		}
		if err != nil {
			// Not fatal, the server already knows the application name.
			c.logger.Warn("failed to update client properties", "err", err)
		}
		c.setState(ContextReady)
	})
}

func (c *nativeContext) Disconnect() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.state != ContextUnconnected && c.state != ContextFailed {
		c.setState(ContextTerminated)
	}
}

func (c *nativeContext) readyClient() (*jpulse.Client, bool) {
	if c.state != ContextReady || c.client == nil {
		c.errno = ErrNotReady
		return nil, false
	}
	return c.client, true
}

// Complete op on the worker. Returns false if op should not report a result.
func (c *nativeContext) completable(op *Operation, err error) bool {
	if op.State() != OperationRunning {
		return false
	}
	if err != nil {
		c.errno = err
		c.logger.Warn("server request failed", "err", err)
		op.fail()
		return false
	}
	return true
}

func (c *nativeContext) GetServerInfo(cb ServerInfoCallback) *Operation {
	client, ok := c.readyClient()
	if !ok {
		return nil
	}

	op := newOperation(c.ml)
	go func() {
		var reply proto.GetServerInfoReply
		err := client.RawRequest(&proto.GetServerInfo{}, &reply)
		c.ml.Defer(func() {
			if !c.completable(op, err) {
				return
			}
			if cb != nil {
				cb(c, serverInfoFromProto(&reply))
			}
			op.finish()
		})
	}()
	return op
}

func (c *nativeContext) GetSinkInfoList(cb DeviceInfoCallback) *Operation {
	client, ok := c.readyClient()
	if !ok {
		return nil
	}

	op := newOperation(c.ml)
	go func() {
		var reply proto.GetSinkInfoListReply
		err := client.RawRequest(&proto.GetSinkInfoList{}, &reply)
		c.ml.Defer(func() {
			if !c.completable(op, err) {
				return
			}
			for _, sink := range reply {
				c.emitDevice(op, cb, sinkFromProto(sink))
			}
			c.emitDevice(op, cb, nil)
			op.finish()
		})
	}()
	return op
}

func (c *nativeContext) GetSourceInfoList(cb DeviceInfoCallback) *Operation {
	client, ok := c.readyClient()
	if !ok {
		return nil
	}

	op := newOperation(c.ml)
	go func() {
		var reply proto.GetSourceInfoListReply
		err := client.RawRequest(&proto.GetSourceInfoList{}, &reply)
		c.ml.Defer(func() {
			if !c.completable(op, err) {
				return
			}
			for _, source := range reply {
				c.emitDevice(op, cb, sourceFromProto(source))
			}
			c.emitDevice(op, cb, nil)
			op.finish()
		})
	}()
	return op
}

// A lookup the server rejects (typically an unknown name) ends with only the
// end-of-list call, with Errno holding the server's error.
func (c *nativeContext) GetSourceInfoByName(name string, cb DeviceInfoCallback) *Operation {
	client, ok := c.readyClient()
	if !ok {
		return nil
	}

	op := newOperation(c.ml)
	go func() {
		var reply proto.GetSourceInfoReply
		err := client.RawRequest(&proto.GetSourceInfo{SourceIndex: undefinedIndex, SourceName: name}, &reply)
		c.ml.Defer(func() {
			if op.State() != OperationRunning {
				return
			}
			if err != nil {
				c.errno = fmt.Errorf("source %q: %w", name, err)
			} else {
				c.emitDevice(op, cb, sourceFromProto(&reply))
			}
			c.emitDevice(op, cb, nil)
			op.finish()
		})
	}()
	return op
}

func (c *nativeContext) emitDevice(op *Operation, cb DeviceInfoCallback, info *DeviceInfo) {
	if cb == nil || op.State() != OperationRunning {
		return
	}
	cb(c, info, info == nil)
}

func (c *nativeContext) NewStream(name string, spec SampleSpec, cmap ChannelMap, props PropList) (Stream, error) {
	if _, ok := c.readyClient(); !ok {
		return nil, ErrNotReady
	}
	if !spec.Valid() || !cmap.Compatible(spec) {
		c.errno = ErrInvalidSpec
		return nil, ErrInvalidSpec
	}

	props = props.Clone()
	if props == nil {
		props = PropList{}
	}
	if _, ok := props[PropMediaName]; !ok {
		props[PropMediaName] = name
	}

	return &nativeStream{
		ctx:   c,
		name:  name,
		spec:  spec,
		cmap:  slices.Clone(cmap),
		props: props,
	}, nil
}

// ----------------------------------------------------------------------------

type nativeStream struct {
	ctx   *nativeContext
	name  string
	spec  SampleSpec
	cmap  ChannelMap
	props PropList

	state  StreamState
	record *jpulse.RecordStream
	chunks [][]byte

	stateCb     StreamCallback
	readCb      StreamRequestCallback
	writeCb     StreamRequestCallback
	overflowCb  StreamCallback
	underflowCb StreamCallback
	latencyCb   StreamCallback
}

func (s *nativeStream) State() StreamState {
	return s.state
}

func (s *nativeStream) Context() Context {
	return s.ctx
}

func (s *nativeStream) SetStateCallback(cb StreamCallback) { s.stateCb = cb }
func (s *nativeStream) SetReadCallback(cb StreamRequestCallback) { s.readCb = cb }
func (s *nativeStream) SetWriteCallback(cb StreamRequestCallback) { s.writeCb = cb }
func (s *nativeStream) SetOverflowCallback(cb StreamCallback) { s.overflowCb = cb }
func (s *nativeStream) SetUnderflowCallback(cb StreamCallback) { s.underflowCb = cb }
func (s *nativeStream) SetLatencyUpdateCallback(cb StreamCallback) { s.latencyCb = cb }

func (s *nativeStream) setState(state StreamState) {
	if s.state == state {
		return
	}
	s.ctx.logger.Debug("stream state changed", "stream", s.name, "from", s.state, "to", state)
	s.state = state
	if s.stateCb != nil {
		s.stateCb(s)
	}
}

type recordWriter func(buf []byte) (int, error)

func (w recordWriter) Write(buf []byte) (int, error) {
	return w(buf)
}

func (s *nativeStream) ConnectRecord(device string, attr *BufferAttr, flags StreamFlags) error {
	if s.state != StreamUnconnected {
		return ErrBadState
	}
	client, ok := s.ctx.readyClient()
	if !ok {
		return ErrNotReady
	}

	bufferAttr := DefaultBufferAttr()
	if attr != nil {
		bufferAttr = *attr
	}

	spec := proto.SampleSpec{
		Format:   byte(s.spec.Format),
		Channels: s.spec.Channels,
		Rate:     s.spec.Rate,
	}
	cmap := make(proto.ChannelMap, len(s.cmap))
	for i, position := range s.cmap {
		cmap[i] = byte(position)
	}
	props := propListToProto(s.props)

	configure := jpulse.RecordRawOption(func(r *proto.CreateRecordStream) {
		r.SampleSpec = spec
		r.ChannelMap = cmap
		r.SourceIndex = undefinedIndex
		r.SourceName = device
		r.BufferMaxLength = bufferAttr.MaxLength
		r.BufferFragSize = bufferAttr.FragSize
		r.AdjustLatency = flags.Has(StreamAdjustLatency)
		r.Properties = props
	})

	// Data arrives on the client library's goroutine in a buffer it reuses.
	write := recordWriter(func(buf []byte) (int, error) {
		chunk := slices.Clone(buf)
		s.ctx.ml.Defer(func() {
			if s.state != StreamReady {
				return
			}
			s.chunks = append(s.chunks, chunk)
			if s.readCb != nil {
				s.readCb(s, len(chunk))
			}
		})
		return len(buf), nil
	})

	s.setState(StreamCreating)

	go func() {
		record, err := client.NewRecord(jpulse.NewWriter(write, byte(s.spec.Format)), configure)
		if err != nil {
			s.ctx.ml.Defer(func() {
				s.ctx.errno = fmt.Errorf("failed to create record stream: %w", err)
				if s.state == StreamCreating {
					s.setState(StreamFailed)
				}
			})
			return
		}

		queued := s.ctx.ml.Defer(func() {
			if s.state != StreamCreating {
				go record.Close()
				return
			}
			s.record = record
			s.setState(StreamReady)
			record.Start()
		})
		if !queued {
			record.Close()
		}
	}()

	return nil
}

func (s *nativeStream) Peek() ([]byte, int, error) {
	if s.state != StreamReady {
		return nil, 0, ErrBadState
	}
	if len(s.chunks) == 0 {
		return nil, 0, nil
	}
	return s.chunks[0], len(s.chunks[0]), nil
}

func (s *nativeStream) Drop() error {
	if s.state != StreamReady || len(s.chunks) == 0 {
		return ErrBadState
	}
	s.chunks[0] = nil
	s.chunks = s.chunks[1:]
	return nil
}

func (s *nativeStream) Disconnect() error {
	if s.state != StreamCreating && s.state != StreamReady {
		return ErrBadState
	}

	if s.record != nil {
		// Closing waits for the server, which must not happen under the mainloop lock.
		go s.record.Close()
		s.record = nil
	}
	s.chunks = nil
	s.setState(StreamTerminated)
	return nil
}

// ----------------------------------------------------------------------------

func propListToProto(props PropList) proto.PropList {
	out := make(proto.PropList, len(props))
	for key, value := range props {
		out[key] = proto.PropListString(value)
	}
	return out
}

func sampleSpecFromProto(spec proto.SampleSpec) SampleSpec {
	return SampleSpec{
		Format:   SampleFormat(spec.Format),
		Rate:     spec.Rate,
		Channels: spec.Channels,
	}
}

func channelMapFromProto(cmap proto.ChannelMap) ChannelMap {
	out := make(ChannelMap, len(cmap))
	for i, position := range cmap {
		out[i] = ChannelPosition(position)
	}
	return out
}

func serverInfoFromProto(reply *proto.GetServerInfoReply) *ServerInfo {
	return &ServerInfo{
		UserName:          reply.Username,
		HostName:          reply.Hostname,
		ServerName:        reply.PackageName,
		ServerVersion:     reply.PackageVersion,
		SampleSpec:        sampleSpecFromProto(reply.DefaultSampleSpec),
		DefaultSinkName:   reply.DefaultSinkName,
		DefaultSourceName: reply.DefaultSourceName,
		Cookie:            reply.Cookie,
		ChannelMap:        channelMapFromProto(reply.DefaultChannelMap),
	}
}

func sinkFromProto(reply *proto.GetSinkInfoReply) *DeviceInfo {
	return &DeviceInfo{
		Index:       reply.SinkIndex,
		Name:        reply.SinkName,
		Description: reply.Device,
		Driver:      reply.Driver,
		SampleSpec:  sampleSpecFromProto(reply.SampleSpec),
		ChannelMap:  channelMapFromProto(reply.ChannelMap),
	}
}

func sourceFromProto(reply *proto.GetSourceInfoReply) *DeviceInfo {
	return &DeviceInfo{
		Index:       reply.SourceIndex,
		Name:        reply.SourceName,
		Description: reply.Device,
		Driver:      reply.Driver,
		SampleSpec:  sampleSpecFromProto(reply.SampleSpec),
		ChannelMap:  channelMapFromProto(reply.ChannelMap),
	}
}
