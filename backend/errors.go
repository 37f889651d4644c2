package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

var (
	// ErrNotRunning is returned by WriteLine when no child process is alive.
	ErrNotRunning = errors.New("backend is not running")

	// ErrAlreadyRunning is returned by Start when a child is already alive.
	ErrAlreadyRunning = errors.New("backend is already running")

	// ErrWriteTimeout is returned by WriteLine when the write was not
	// flushed within the configured wait. The bytes stay queued and are
	// written in order once the pipe drains.
	ErrWriteTimeout = errors.New("write to backend not flushed in time")
)

// ErrorKind classifies a process-level failure.
type ErrorKind int

const (
	// UnknownError is any failure that matches no other kind.
	UnknownError ErrorKind = iota
	// FailedToStart means the executable could not be spawned.
	FailedToStart
	// Crashed means the process died abnormally.
	Crashed
	// TimedOut means an I/O deadline elapsed.
	TimedOut
	// WriteError means writing to the process stdin failed.
	WriteError
	// ReadError means reading the process stdout failed.
	ReadError
)

// String returns the wire-facing name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case FailedToStart:
		return "failed-to-start"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed-out"
	case WriteError:
		return "write-error"
	case ReadError:
		return "read-error"
	default:
		return "unknown-error"
	}
}

// ProcessError is a classified failure of the backend process.
type ProcessError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Detail returns a human-readable description of the cause.
func (e *ProcessError) Detail() string {
	if e.Err == nil {
		return "unknown"
	}
	return e.Err.Error()
}

// newProcessError wraps err with kind. Deadline errors are always reported
// as TimedOut regardless of where they surfaced.
func newProcessError(kind ErrorKind, err error) *ProcessError {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		kind = TimedOut
	}
	return &ProcessError{Kind: kind, Err: err}
}

// Classify maps an arbitrary error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return UnknownError
	}
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return FailedToStart
	case errors.Is(err, os.ErrClosed):
		return WriteError
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Crashed
	}
	return UnknownError
}
