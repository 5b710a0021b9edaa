package nms

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol errors (from server responses)
	CodeUnknown ErrorCode = iota
	CodeUnauthorized
	CodeBadRequest
	CodeThreadNotFound
	CodeRateLimited
	CodeServer

	// Client-side errors
	CodeConnection
	CodeReconnectExhausted
	CodeNotConnected
	CodeTimeout
	CodeSerialization

	// Session errors
	CodeSessionExpired
	CodeRefreshFailed

	// Validation errors (never sent to the server)
	CodeEmptyMessage
	CodeNoThread
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case CodeUnknown:
		return "unknown"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeBadRequest:
		return "bad_request"
	case CodeThreadNotFound:
		return "thread_not_found"
	case CodeRateLimited:
		return "rate_limited"
	case CodeServer:
		return "internal_error"
	case CodeConnection:
		return "connection_error"
	case CodeReconnectExhausted:
		return "reconnect_exhausted"
	case CodeNotConnected:
		return "not_connected"
	case CodeTimeout:
		return "timeout"
	case CodeSerialization:
		return "serialization_error"
	case CodeSessionExpired:
		return "session_expired"
	case CodeRefreshFailed:
		return "refresh_failed"
	case CodeEmptyMessage:
		return "empty_message"
	case CodeNoThread:
		return "no_thread"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return CodeUnauthorized
	case "bad_request":
		return CodeBadRequest
	case "thread_not_found":
		return CodeThreadNotFound
	case "rate_limited":
		return CodeRateLimited
	case "internal_error":
		return CodeServer
	default:
		return CodeUnknown
	}
}

// ClientError is a structured error with code and context.
type ClientError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ClientError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is support; errors compare equal by code.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ClientError with the given code and message.
func NewError(code ErrorCode, message string) *ClientError {
	return &ClientError{Code: code, Message: message}
}

// WrapError wraps an existing error with a ClientError.
func WrapError(code ErrorCode, message string, err error) *ClientError {
	return &ClientError{Code: code, Message: message, Wrapped: err}
}

// FromProtocolError converts a wire Error to ClientError.
func FromProtocolError(e *Error) *ClientError {
	if e == nil {
		return nil
	}
	return &ClientError{Code: ParseErrorCode(e.Code), Message: e.Msg}
}

// IsAuthError reports whether err is an authorization/session failure.
func IsAuthError(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == CodeUnauthorized || ce.Code == CodeSessionExpired || ce.Code == CodeRefreshFailed
}

// IsConnectionError reports whether err is connectivity-related.
func IsConnectionError(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == CodeConnection || ce.Code == CodeReconnectExhausted ||
		ce.Code == CodeNotConnected || ce.Code == CodeTimeout
}

// IsValidationError reports whether err is a local validation failure that
// never reached the server.
func IsValidationError(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == CodeEmptyMessage || ce.Code == CodeNoThread
}
