package uac

import (
	"errors"
	"fmt"
)

var (
	// The sound server was unreachable, or the connection failed or terminated during the handshake.
	ErrConnection = errors.New("connection error")

	// An asynchronous server query was cancelled before completing.
	ErrOperationCancelled = errors.New("operation cancelled")

	// The record stream could not be created, connected, or brought to the ready state.
	ErrStream = errors.New("stream error")

	// The negotiated sample spec is not one the server can accept.
	ErrInvalidFormat = errors.New("invalid sample format")

	// A blocking wait exceeded Config.Timeout.
	ErrTimedOut = errors.New("timed out")

	ErrNotImplemented = errors.New("not implemented")
	ErrNotOpen        = errors.New("device not open")
	ErrAlreadyOpen    = errors.New("device already open")
	ErrClosed         = errors.New("device closed")
)

// Stages reported through StageError, shared by every backend.
const (
	StageConnect       = "connect"
	StageServerInfo    = "server-info"
	StageSinkList      = "sink-list"
	StageSourceList    = "source-list"
	StageSourceInfo    = "source-info"
	StageNegotiate     = "negotiate"
	StageCreateStream  = "create-stream"
	StageConnectStream = "connect-stream"
	StageStreamReady   = "stream-ready"
	StageStopStream    = "stop-stream"
)

// Error returned by a backend when one stage of bringing up a capture device fails.
//
// Stage names where things went wrong (one of the Stage constants),
// and Err unwraps to one of the package's sentinel errors.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap err with the stage it happened in. A nil err returns nil.
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Return the stage name carried by err, or "" if err does not carry one.
func StageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
