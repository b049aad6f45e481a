package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *TrailError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *TrailError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// MissingSource is returned when a change is captured for a path that has
// no snapshot to diff against.
func MissingSource(path string) *TrailError {
	return New(ErrCodeMissingSource, fmt.Sprintf("no snapshot recorded for %s", path)).
		WithDetail("path", path)
}

// PersistenceFailed wraps a store failure for the given operation.
func PersistenceFailed(path, op string, err error) *TrailError {
	return Wrap(err, ErrCodePersistenceFailed, fmt.Sprintf("%s failed for %s", op, path)).
		WithDetail("path", path).
		WithDetail("op", op)
}

// PatchFailed wraps a failure to create or apply a binary patch.
func PatchFailed(path string, err error) *TrailError {
	return Wrap(err, ErrCodePatchFailed, fmt.Sprintf("patch failed for %s", path)).
		WithDetail("path", path)
}

// ReadFailed wraps a failure to read a watched file.
func ReadFailed(path string, err error) *TrailError {
	return Wrap(err, ErrCodeIO, fmt.Sprintf("failed to read %s", path)).
		WithDetail("path", path)
}

// Timeout creates a request timeout error
func Timeout(request string, after time.Duration) *TrailError {
	return New(ErrCodeTimeout, fmt.Sprintf("no response to %s within %s", request, after)).
		WithDetail("request", request).
		WithDetail("timeout", after.String())
}

// Protocol creates an error for a malformed or unrecognized command.
func Protocol(reason string) *TrailError {
	return New(ErrCodeProtocol, reason)
}

// DaemonUnavailable creates an error for operations that need a running daemon.
func DaemonUnavailable(op string) *TrailError {
	return New(ErrCodeDaemonUnavailable,
		fmt.Sprintf("%s requires the trail daemon; start it with 'trail daemon start'", op)).
		WithDetail("op", op)
}
