package boundary

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal delegation failure.
type Kind string

// Failure kinds.
const (
	KindSpawnFailure  Kind = "spawn_failure"
	KindWorkerCrashed Kind = "worker_crashed"
	KindWorkerError   Kind = "worker_error"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
)

// Sentinels for errors.Is; they match any Error of the same kind.
var (
	ErrSpawnFailure  = &Error{Kind: KindSpawnFailure}
	ErrWorkerCrashed = &Error{Kind: KindWorkerCrashed}
	ErrWorkerError   = &Error{Kind: KindWorkerError}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrCancelled     = &Error{Kind: KindCancelled}
)

// Error is a terminal failure of a delegated execution.
type Error struct {
	Kind     Kind
	ExitCode int
	Message  string
	Stack    string
	Err      error
}

func (e *Error) Error() string {
	var s string
	switch e.Kind {
	case KindSpawnFailure:
		s = "spawn worker"
	case KindWorkerCrashed:
		s = fmt.Sprintf("worker exited with code: %d", e.ExitCode)
	case KindWorkerError:
		s = "worker error"
	case KindTimeout:
		s = "worker exceeded timeout"
	case KindCancelled:
		s = "delegation cancelled"
	default:
		s = string(e.Kind)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err's Error, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SpawnError wraps a failure to create a worker context.
func SpawnError(err error) *Error {
	return &Error{Kind: KindSpawnFailure, Err: err}
}

// CrashError reports a context that ended without answering.
func CrashError(code int, err error) *Error {
	return &Error{Kind: KindWorkerCrashed, ExitCode: code, Err: err}
}
