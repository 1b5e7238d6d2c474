package paclient

type ContextState int

const (
	ContextUnconnected ContextState = iota
	ContextConnecting
	ContextAuthorizing
	ContextSettingName
	ContextReady
	ContextFailed
	ContextTerminated
)

func (s ContextState) String() string {
	switch s {
	case ContextUnconnected:
		return "unconnected"
	case ContextConnecting:
		return "connecting"
	case ContextAuthorizing:
		return "authorizing"
	case ContextSettingName:
		return "setting-name"
	case ContextReady:
		return "ready"
	case ContextFailed:
		return "failed"
	case ContextTerminated:
		return "terminated"
	}
	return "unknown"
}

// Report whether the connection is either usable or still on its way to being usable.
func (s ContextState) IsGood() bool {
	switch s {
	case ContextConnecting, ContextAuthorizing, ContextSettingName, ContextReady:
		return true
	}
	return false
}

type StreamState int

const (
	StreamUnconnected StreamState = iota
	StreamCreating
	StreamReady
	StreamFailed
	StreamTerminated
)

func (s StreamState) String() string {
	switch s {
	case StreamUnconnected:
		return "unconnected"
	case StreamCreating:
		return "creating"
	case StreamReady:
		return "ready"
	case StreamFailed:
		return "failed"
	case StreamTerminated:
		return "terminated"
	}
	return "unknown"
}

func (s StreamState) IsGood() bool {
	return s == StreamCreating || s == StreamReady
}

type OperationState int

const (
	OperationRunning OperationState = iota
	OperationDone
	OperationCancelled
)

func (s OperationState) String() string {
	switch s {
	case OperationRunning:
		return "running"
	case OperationDone:
		return "done"
	case OperationCancelled:
		return "cancelled"
	}
	return "unknown"
}
