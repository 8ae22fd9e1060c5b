package roomtalk

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// ErrorCredentialMissing means no bearer token was available at open.
	// Fatal for the session; the caller must re-authenticate and re-open.
	ErrorCredentialMissing

	// ErrorConnectFailure means the transport could not be established.
	// The caller may retry; the session does not retry on its own.
	ErrorConnectFailure

	// ErrorHistoryFetch means the backlog fetch failed. Non-fatal: the
	// session proceeds with live traffic and an empty backlog.
	ErrorHistoryFetch

	// ErrorImageResolve means an image asset could not be fetched. The
	// event stays in the timeline caption-only.
	ErrorImageResolve

	// ErrorSendFailure means an outbound text or image did not reach the
	// server; the caller should keep the composed input.
	ErrorSendFailure

	// ErrorUploadInFlight means an image upload was attempted while a
	// previous one was still unacknowledged.
	ErrorUploadInFlight

	// ErrorDisconnected means the connection dropped unexpectedly.
	ErrorDisconnected

	// ErrorNotStreaming means an operation requires an established session.
	ErrorNotStreaming

	// ErrorClosed means the session was closed and accepts no operations.
	ErrorClosed

	// ErrorSerialization means a payload could not be encoded or decoded.
	ErrorSerialization

	// ErrorTimeout means an operation exceeded its deadline.
	ErrorTimeout
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorCredentialMissing:
		return "credential_missing"
	case ErrorConnectFailure:
		return "connect_failure"
	case ErrorHistoryFetch:
		return "history_fetch_failure"
	case ErrorImageResolve:
		return "image_resolve_failure"
	case ErrorSendFailure:
		return "send_failure"
	case ErrorUploadInFlight:
		return "upload_in_flight"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorNotStreaming:
		return "not_streaming"
	case ErrorClosed:
		return "closed"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown_code_%d", int(e))
	}
}

// SessionError is a structured error with code and context.
type SessionError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SessionError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is comparison by code.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a SessionError with the given code and message.
func NewError(code ErrorCode, message string) *SessionError {
	return &SessionError{Code: code, Message: message}
}

// WrapError wraps an existing error with a SessionError.
func WrapError(code ErrorCode, message string, err error) *SessionError {
	return &SessionError{Code: code, Message: message, Wrapped: err}
}

// CodeOf extracts the ErrorCode from err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorUnknown
}

// IsFatal reports whether err ends the session (as opposed to a per-item
// failure like a history fetch or a single image resolve).
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrorCredentialMissing, ErrorConnectFailure, ErrorDisconnected, ErrorClosed:
		return true
	default:
		return false
	}
}
