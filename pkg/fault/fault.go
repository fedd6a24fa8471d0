// Package fault defines the error taxonomy shared by every Agora component.
//
// Callers classify failures with errors.Is against the category sentinels:
//
//	if errors.Is(err, fault.ErrNotFound) { ... }
//	if errors.Is(err, fault.ErrRetryable) { ... }
//
// A *fault.Error carries the operation name and, when known, the session id the
// failure relates to. It unwraps to both its category and its underlying cause, so
// transport errors (for example redis or sqlite errors) stay inspectable.
package fault

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	// ErrNotFound means an agent, session or record id does not resolve in the store.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the agent or operation is not permitted for the session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRetryable marks store, transport and collaborator failures the caller may retry.
	ErrRetryable = errors.New("retryable failure")

	// ErrInvalidArgument marks malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict means a conditional write lost against a newer stored version.
	ErrConflict = errors.New("version conflict")
)

// Error wraps a category sentinel with operation context.
type Error struct {
	Op        string // operation name, e.g. "send_message"
	SessionID string // session the failure relates to, if any
	Kind      error  // one of the category sentinels
	Err       error  // underlying cause, may be nil
	Detail    string // human-readable detail
}

func (e *Error) Error() string {
	msg := e.Op
	if e.SessionID != "" {
		msg += fmt.Sprintf(" [session %s]", e.SessionID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the category and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New creates an error of the given category with a formatted detail.
func New(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// InvalidArgument is shorthand for New(op, ErrInvalidArgument, ...).
func InvalidArgument(op, format string, args ...any) *Error {
	return New(op, ErrInvalidArgument, format, args...)
}

// NotFound is shorthand for New(op, ErrNotFound, ...).
func NotFound(op, format string, args ...any) *Error {
	return New(op, ErrNotFound, format, args...)
}

// Unauthorized is shorthand for New(op, ErrUnauthorized, ...).
func Unauthorized(op, format string, args ...any) *Error {
	return New(op, ErrUnauthorized, format, args...)
}

// Invalid wraps a validation failure as an invalid argument.
// Returns nil if err is nil.
func Invalid(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
}

// Retryable wraps a transport or collaborator failure as retryable.
// Returns nil if err is nil.
func Retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: ErrRetryable, Err: err}
}

// Wrap attaches operation and session context to err while keeping its category.
// Errors without a known category are returned wrapped but uncategorised.
// Returns nil if err is nil.
func Wrap(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, SessionID: sessionID, Err: err}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrRetryable):
		return "RETRYABLE"
	default:
		return "INTERNAL"
	}
}

// IsRetryable reports whether the caller may retry the failed operation.
// Lost conditional writes count as retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) || errors.Is(err, ErrConflict)
}
