// Package common provides shared constants, types, and utilities
// used across the Pikman Update Manager application.
package common

import "errors"

// Sentinel errors for update operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Relay errors.
	ErrMessageTooLarge = errors.New("relay message exceeds receive buffer")
	ErrReservedMessage = errors.New("status text collides with a relay sentinel")
	ErrRelayClosed     = errors.New("relay server closed")

	// Operation errors.
	ErrAlreadyRunning  = errors.New("operation already running")
	ErrOperationFailed = errors.New("operation failed")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrHelperNotFound  = errors.New("privileged helper not found")
	ErrInvalidPercent  = errors.New("invalid progress value")

	// Exclusion errors.
	ErrExclusionsRead  = errors.New("failed to read exclusions")
	ErrExclusionsWrite = errors.New("failed to write exclusions")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// Permission errors.
	ErrPermissionDenied = errors.New("permission denied")
	ErrRootRequired     = errors.New("root privileges required")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
