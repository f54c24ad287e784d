// Package errs provides unified error handling with structured error codes.
// Codes are process-internal; they map the failure taxonomy of the capture
// and generation subsystems onto one error type.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	Timeout

	// Generation layer
	BackendUnavailable    // backend not constructed, credential missing, or probe failed
	BackendCallFailed     // a single backend attempt errored
	GenerationUnavailable // terminal: all backends exhausted or absent

	// Capture / processing layer
	RecordingFailed
	TranscriptionFailed
	StorageFailed
)

var codeNames = map[Code]string{
	Unknown:               "UNKNOWN",
	Internal:              "INTERNAL",
	InvalidArgument:       "INVALID_ARGUMENT",
	Timeout:               "TIMEOUT",
	BackendUnavailable:    "BACKEND_UNAVAILABLE",
	BackendCallFailed:     "BACKEND_CALL_FAILED",
	GenerationUnavailable: "GENERATION_UNAVAILABLE",
	RecordingFailed:       "RECORDING_FAILED",
	TranscriptionFailed:   "TRANSCRIPTION_FAILED",
	StorageFailed:         "STORAGE_FAILED",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code carried by err or any error it wraps.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error (or its chain) carries a specific code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case Timeout, BackendCallFailed, TranscriptionFailed:
		return true
	default:
		return false
	}
}
