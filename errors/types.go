package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Capture errors
	ErrCodeMissingSource     ErrorCode = "MISSING_SOURCE"
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrCodePatchFailed       ErrorCode = "PATCH_FAILED"
	ErrCodeIO                ErrorCode = "IO_ERROR"

	// Request/response errors
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeProtocol          ErrorCode = "PROTOCOL_ERROR"
	ErrCodeDaemonUnavailable ErrorCode = "DAEMON_UNAVAILABLE"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// TrailError represents a structured error with context
type TrailError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *TrailError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *TrailError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *TrailError) WithDetail(key string, value interface{}) *TrailError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *TrailError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new TrailError
func New(code ErrorCode, message string) *TrailError {
	return &TrailError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a TrailError
func Wrap(err error, code ErrorCode, message string) *TrailError {
	return &TrailError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific TrailError code
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error.
// The outermost TrailError in the chain wins.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	trailErr, ok := err.(*TrailError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return trailErr.Code
}
