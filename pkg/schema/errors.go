package schema

import "fmt"

// ErrorCode is the numeric error code carried in a Response. Codes are part of
// the wire protocol and must stay stable across the privilege boundary.
type ErrorCode uint32

const (
	ErrNone              ErrorCode = 0
	ErrInvalidParameter  ErrorCode = 1
	ErrResourceExhausted ErrorCode = 2
	ErrNotFound          ErrorCode = 3
	ErrNotImplemented    ErrorCode = 4
	ErrProtocol          ErrorCode = 5
	ErrValidation        ErrorCode = 6
	ErrInternal          ErrorCode = 7
	ErrStore             ErrorCode = 8
	ErrIO                ErrorCode = 9
	ErrTimeout           ErrorCode = 10
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "OK"
	case ErrInvalidParameter:
		return "INVALID_PARAMETER"
	case ErrResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrNotImplemented:
		return "NOT_IMPLEMENTED"
	case ErrProtocol:
		return "PROTOCOL_VIOLATION"
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrStore:
		return "STORE_ERROR"
	case ErrIO:
		return "IO_ERROR"
	case ErrTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// BoxError is the structured error type for all boxcore operations.
type BoxError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BoxError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BoxError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BoxError.
func NewError(code ErrorCode, message string) *BoxError {
	return &BoxError{Code: code, Message: message}
}

// NewErrorf creates a new BoxError with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *BoxError {
	return &BoxError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *BoxError) WithCause(err error) *BoxError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BoxError) WithDetails(details map[string]any) *BoxError {
	e.Details = details
	return e
}

// CodeOf extracts the wire error code from an error. Non-BoxError values map
// to ErrInternal; nil maps to ErrNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	if be, ok := err.(*BoxError); ok {
		return be.Code
	}
	return ErrInternal
}
