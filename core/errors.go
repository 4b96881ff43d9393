package orchestration

import (
	"errors"
	"io/fs"

	"github.com/koscakluka/ema-voice/core/audio"
)

// ErrorKind groups coordinator failures by how the UI should react.
type ErrorKind string

const (
	// ErrorInitialization means the microphone or detector could not start.
	ErrorInitialization ErrorKind = "initialization"
	// ErrorPermission means microphone access was refused.
	ErrorPermission ErrorKind = "permission"
	// ErrorTransport covers network failures, bad responses and timeouts.
	ErrorTransport ErrorKind = "transport"
	// ErrorEncoding covers audio that could not be packaged or played.
	ErrorEncoding ErrorKind = "encoding"
)

// Error is a failure recorded by the coordinator. Errors never cross the
// public API as return values; they are exposed through Snapshot and events.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return string(e.Kind) + " error: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal errors stop the coordinator from starting again until Reset.
func (e *Error) Fatal() bool {
	return e != nil && (e.Kind == ErrorInitialization || e.Kind == ErrorPermission)
}

func classifyStartError(err error) *Error {
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, fs.ErrPermission) {
		return &Error{Kind: ErrorPermission, Err: err}
	}
	return &Error{Kind: ErrorInitialization, Err: err}
}
