package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Task engine error codes. Each one tells the caller what to do next:
// fix the request (CONFIGURATION, INVALID_REQUEST, SUBMISSION), accept the
// provider's refusal (REMOTE_FAILURE) or come back later (TIMEOUT,
// POLL_UNREACHABLE, CANCELLED).
const (
	ErrConfiguration   ErrorCode = "CONFIGURATION"
	ErrSubmission      ErrorCode = "SUBMISSION"
	ErrTransientPoll   ErrorCode = "TRANSIENT_POLL"
	ErrRemoteFailure   ErrorCode = "REMOTE_FAILURE"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrPollUnreachable ErrorCode = "POLL_UNREACHABLE"
	ErrCancelled       ErrorCode = "CANCELLED"
)

// Generic error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	// Details carries the upstream diagnostic payload verbatim (remote
	// failure body, upstream response of a rejected submission).
	Details any   `json:"details,omitempty"`
	Cause   error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.TaskID != "" {
		msg += " (task " + e.TaskID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithTaskID records the remote task the error belongs to.
func (e *Error) WithTaskID(taskID string) *Error {
	e.TaskID = taskID
	return e
}

// WithDetails attaches the upstream diagnostic payload.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewConfigurationError reports that no usable credential or setting exists.
func NewConfigurationError(provider, message string) *Error {
	return NewError(ErrConfiguration, message).WithProvider(provider)
}

// NewInvalidRequestError reports a malformed inbound request.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message)
}
