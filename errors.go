package remotesync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error kinds. Every failure returned by a Session matches exactly one of
// these with errors.Is.
var (
	// ErrConnection reports an unreachable or refusing host, or a dropped
	// connection.
	ErrConnection = errors.New("connection error")

	// ErrAuthentication reports rejected credentials or a failed subsystem
	// initialisation.
	ErrAuthentication = errors.New("authentication error")

	// ErrInvalidSource reports a Source other than Local or Remote.
	ErrInvalidSource = errors.New("invalid file source")

	// ErrNotFound reports an operation on a path that does not exist where
	// absence is an error (delete, fingerprint).
	ErrNotFound = errors.New("not found")

	// ErrTransfer reports a backend failure while reading, writing or listing.
	ErrTransfer = errors.New("transfer error")

	// ErrDelete reports a backend failure while removing a file.
	ErrDelete = errors.New("delete error")

	// ErrInvalidConfig reports a Config that cannot build a Session.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Causes wrapped inside the kinds above.
var (
	// ErrSessionClosed is returned by any operation on a closed Session.
	ErrSessionClosed = errors.New("session closed")

	// ErrOutsideRoot is returned when a relative path resolves above its root.
	ErrOutsideRoot = errors.New("path escapes root")

	// ErrMaxDepth is returned when directory recursion exceeds Config.MaxDepth.
	ErrMaxDepth = errors.New("maximum directory depth exceeded")
)

// OpError records a failed operation, the path or address it targeted,
// the error kind and the underlying cause.
type OpError struct {
	Op     string
	Target string
	Kind   error
	Err    error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg += " " + e.Target
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, target string, kind, err error) error {
	return &OpError{Op: op, Target: target, Kind: kind, Err: err}
}

// isNotExist reports whether err means the path is absent on the backend.
func isNotExist(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err))
}

// notExist wraps a backend-specific "no such file" error so that
// isNotExist recognises it.
func notExist(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %v", fs.ErrNotExist, err)}
}
