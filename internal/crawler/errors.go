package crawler

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed worker invocation.
type ErrorKind string

// Invocation error kinds understood by the retry policy.
const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// ParseErrorKind maps a wire value to a kind. Anything unrecognized is transient.
func ParseErrorKind(raw string) ErrorKind {
	if ErrorKind(raw) == ErrorKindPermanent {
		return ErrorKindPermanent
	}
	return ErrorKindTransient
}

// InvocationError is returned by invokers when the worker did not succeed.
// Transient errors are retried within budget; permanent ones fail the task at once.
type InvocationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *InvocationError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s invocation error: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s invocation error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s invocation error: %s", e.Kind, e.Message)
	}
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable invocation failure.
func NewTransientError(message string, err error) *InvocationError {
	return &InvocationError{Kind: ErrorKindTransient, Message: message, Err: err}
}

// NewPermanentError wraps err as a non-retryable invocation failure.
func NewPermanentError(message string, err error) *InvocationError {
	return &InvocationError{Kind: ErrorKindPermanent, Message: message, Err: err}
}

// KindOf classifies any invocation error. Errors that do not carry a kind,
// including deadlines and network failures, are transient.
func KindOf(err error) ErrorKind {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind
	}
	return ErrorKindTransient
}

// IsTimeout reports whether err came from a local invocation deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// ErrCorruptState is matched by every CorruptStateError.
var ErrCorruptState = errors.New("corrupt state")

// CorruptStateError reports a persisted file that failed structural validation.
// It is fatal at startup; nothing is repaired automatically.
type CorruptStateError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptStateError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt state in %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt state in %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCorruptState) match.
func (e *CorruptStateError) Is(target error) bool {
	return target == ErrCorruptState
}
