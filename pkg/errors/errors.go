// Package errors provides structured error types for kmsgrab.
//
// Every failure of the capture pipeline carries a machine-readable [Code] so
// the CLI and the HTTP server can map it to an exit status or response code
// without parsing messages.
//
// # Error Codes
//
// The capture taxonomy follows the pipeline stages:
//   - DEVICE_OPEN_FAILED: the DRM device node could not be opened
//   - NO_ACTIVE_OUTPUT, NO_ENCODER_BOUND, NO_BUFFER_BOUND: display resolution
//   - BUFFER_QUERY_FAILED: framebuffer metadata could not be read
//   - HANDLE_EXPORT_FAILED: a GEM handle could not be exported to a PRIME fd
//   - UNSUPPORTED_FORMAT: the scanout pixel format is not XRGB8888
//   - IMPORT_FAILED, MAP_FAILED: buffer import or CPU mapping failed
//
// # Usage
//
//	err := errors.New(errors.ErrCodeNoActiveOutput, "no connected connector with modes")
//	if errors.Is(err, errors.ErrCodeNoActiveOutput) {
//	    // Handle missing display
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeMapFailed, errno, "mmap plane %d", i)
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the capture pipeline.
const (
	// Device errors
	ErrCodeDeviceOpenFailed Code = "DEVICE_OPEN_FAILED"

	// Display resolution errors
	ErrCodeNoActiveOutput    Code = "NO_ACTIVE_OUTPUT"
	ErrCodeNoEncoderBound    Code = "NO_ENCODER_BOUND"
	ErrCodeNoBufferBound     Code = "NO_BUFFER_BOUND"
	ErrCodeBufferQueryFailed Code = "BUFFER_QUERY_FAILED"

	// Buffer access errors
	ErrCodeHandleExportFailed Code = "HANDLE_EXPORT_FAILED"
	ErrCodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	ErrCodeImportFailed       Code = "IMPORT_FAILED"
	ErrCodeMapFailed          Code = "MAP_FAILED"

	// Output errors
	ErrCodeEncodeFailed Code = "ENCODE_FAILED"

	// Lookup errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Input validation errors
	ErrCodeInvalidInput Code = "INVALID_INPUT"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message (and cause) without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

// ExitCode maps an error to a process exit status.
// Cancellation uses the shell convention for SIGINT.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

// IsEnvironment reports whether err stems from the display environment
// (no output, no buffer, missing device) rather than from bad input or a bug.
func IsEnvironment(err error) bool {
	switch GetCode(err) {
	case ErrCodeDeviceOpenFailed, ErrCodeNoActiveOutput, ErrCodeNoEncoderBound,
		ErrCodeNoBufferBound, ErrCodeBufferQueryFailed, ErrCodeHandleExportFailed,
		ErrCodeImportFailed, ErrCodeMapFailed:
		return true
	}
	return false
}
