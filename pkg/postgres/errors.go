package postgres

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of resolution and lifecycle operations.
type ErrorKind string

const (
	// KindResolution means no usable PostgreSQL package could be found or parsed.
	KindResolution ErrorKind = "resolution"

	// KindUnsupportedPlatform means the platform/source combination has no table entry.
	KindUnsupportedPlatform ErrorKind = "unsupported_platform"

	// KindOperationFailed means the external command exited non-zero.
	KindOperationFailed ErrorKind = "operation_failed"

	// KindInvalidSpec means caller input was rejected before anything ran.
	KindInvalidSpec ErrorKind = "invalid_spec"
)

// Error is a classified error with operation context.
// Command is always the redacted display form.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Operation  Operation `json:"operation,omitempty"`
	Target     string    `json:"target,omitempty"`
	ExitStatus int       `json:"exit_status,omitempty"`
	Command    string    `json:"command,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s", e.Operation)
		if e.Target != "" {
			msg += fmt.Sprintf(", target=%s", e.Target)
		}
		msg += ")"
	}
	if e.Kind == KindOperationFailed {
		msg += fmt.Sprintf(": exit status %d", e.ExitStatus)
		if e.Command != "" {
			msg += fmt.Sprintf(" running %q", e.Command)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrResolution) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrResolution          = &Error{Kind: KindResolution}
	ErrUnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
	ErrOperationFailed     = &Error{Kind: KindOperationFailed}
	ErrInvalidSpec         = &Error{Kind: KindInvalidSpec}
)

// NewResolutionError creates a resolution error.
func NewResolutionError(message string, err error) *Error {
	return &Error{Kind: KindResolution, Message: message, Err: err}
}

// NewUnsupportedPlatformError creates an unsupported-platform error.
func NewUnsupportedPlatformError(platform PlatformFamily, source PackageSource) *Error {
	msg := fmt.Sprintf("unsupported platform family %q", platform)
	if source != "" {
		msg = fmt.Sprintf("unsupported platform family %q with source %q", platform, source)
	}
	return &Error{Kind: KindUnsupportedPlatform, Message: msg}
}

// NewOperationFailedError creates an error for a command that exited non-zero.
func NewOperationFailedError(op Operation, target string, exitStatus int, command string) *Error {
	return &Error{
		Kind:       KindOperationFailed,
		Message:    "command failed",
		Operation:  op,
		Target:     target,
		ExitStatus: exitStatus,
		Command:    command,
	}
}

// NewInvalidSpecError creates an input validation error.
func NewInvalidSpecError(message string, err error) *Error {
	return &Error{Kind: KindInvalidSpec, Message: message, Err: err}
}

// WithOperation adds operation context.
func (e *Error) WithOperation(op Operation, target string) *Error {
	e.Operation = op
	e.Target = target
	return e
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsResolution reports whether err is a resolution error.
func IsResolution(err error) bool { return KindOf(err) == KindResolution }

// IsUnsupportedPlatform reports whether err is an unsupported-platform error.
func IsUnsupportedPlatform(err error) bool { return KindOf(err) == KindUnsupportedPlatform }

// IsOperationFailed reports whether err is an operation failure.
func IsOperationFailed(err error) bool { return KindOf(err) == KindOperationFailed }

// IsInvalidSpec reports whether err is an input validation error.
func IsInvalidSpec(err error) bool { return KindOf(err) == KindInvalidSpec }
