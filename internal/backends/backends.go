package backends

import (
	"errors"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/backend/alsa"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/backend/pulseaudio"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/backend/wavfile"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
)

type BackendTypeEnum string

var (
	BackendTypeNotImplemented BackendTypeEnum = "not implemented"
	BackendTypePulseAudio     BackendTypeEnum = "pulseaudio"
	BackendTypeALSA           BackendTypeEnum = "alsa"
	BackendTypeWAVFile        BackendTypeEnum = "wavfile"
)

var (
	errBackendTypeNotImplemented = errors.New("specified backend type is not implemented")
)

// Backend specific knobs. Fields a backend does not use are ignored.
type Options struct {
	// Frames per read for the alsa backend.
	PeriodFrames int

	// Frame pacing for the wavfile backend.
	FrameDuration time.Duration
	Loop          bool
}

// Every backend that NewOps can create.
func Available() []BackendTypeEnum {
	return []BackendTypeEnum{
		BackendTypePulseAudio,
		BackendTypeALSA,
		BackendTypeWAVFile,
	}
}

// Create the ops table of the named backend.
// If the name does not match a backend, a nil Ops and an error are returned.
func NewOps(backendID BackendTypeEnum, opts Options) (uac.Ops, error) {
	switch backendID {
	case BackendTypePulseAudio:
		return pulseaudio.Backend{}, nil
	case BackendTypeALSA:
		return alsa.Backend{PeriodFrames: opts.PeriodFrames}, nil
	case BackendTypeWAVFile:
		return wavfile.Backend{FrameDuration: opts.FrameDuration, Loop: opts.Loop}, nil
	case BackendTypeNotImplemented:
		return nil, errBackendTypeNotImplemented
	default:
		return nil, errBackendTypeNotImplemented
	}
}
