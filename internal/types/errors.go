package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for analysis service errors.
type ErrorCode string

// Validation error codes
const (
	VALIDATION_FAILED     ErrorCode = "VALIDATION_FAILED"
	VALIDATION_EMPTY_BODY ErrorCode = "VALIDATION_EMPTY_BODY"
)

// Workflow state error codes
const (
	STATE_INVALID      ErrorCode = "STATE_INVALID"
	STATE_NOT_FOUND    ErrorCode = "STATE_NOT_FOUND"
	STATE_EXPIRED      ErrorCode = "STATE_EXPIRED"
	STATE_ALREADY_LIVE ErrorCode = "STATE_ALREADY_LIVE"
	WORKFLOW_CANCELLED ErrorCode = "WORKFLOW_CANCELLED"
)

// Model provider error codes
const (
	MODEL_PROVIDER_ERROR       ErrorCode = "MODEL_PROVIDER_ERROR"
	MODEL_PROVIDER_UNAVAILABLE ErrorCode = "MODEL_PROVIDER_UNAVAILABLE"
	MODEL_RESPONSE_INVALID     ErrorCode = "MODEL_RESPONSE_INVALID"
	MODEL_RETRIES_EXHAUSTED    ErrorCode = "MODEL_RETRIES_EXHAUSTED"
)

// Tool error codes
const (
	TOOL_NOT_FOUND        ErrorCode = "TOOL_NOT_FOUND"
	TOOL_ALREADY_EXISTS   ErrorCode = "TOOL_ALREADY_EXISTS"
	TOOL_INVALID_INPUT    ErrorCode = "TOOL_INVALID_INPUT"
	TOOL_EXECUTION_FAILED ErrorCode = "TOOL_EXECUTION_FAILED"
	TOOL_TIMEOUT          ErrorCode = "TOOL_TIMEOUT"
)

// Checkpoint error codes
const (
	CHECKPOINT_FAILED       ErrorCode = "CHECKPOINT_FAILED"
	CHECKPOINT_NOT_FOUND    ErrorCode = "CHECKPOINT_NOT_FOUND"
	CHECKPOINT_INCOMPATIBLE ErrorCode = "CHECKPOINT_INCOMPATIBLE"
	CHECKPOINT_CORRUPT      ErrorCode = "CHECKPOINT_CORRUPT"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Error represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a new non-retryable Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable Error with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., network timeouts).
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable Error that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) an *Error.
// Returns the empty code for plain errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
