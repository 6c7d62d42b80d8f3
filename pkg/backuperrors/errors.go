// Package backuperrors provides structured error handling for Driftcap with
// rich context, stack traces, and error categorization. It enables consistent
// error handling patterns across the entire codebase.
//
// # Overview
//
// The backuperrors package extends Go's standard error handling with:
//   - Error categorization through ErrorType
//   - Structured context with key-value details
//   - Automatic stack trace capture
//   - Error wrapping with cause preservation
//   - Fatality and retryability detection
//
// # Basic Usage
//
//	// Create a new error
//	err := backuperrors.New(backuperrors.ErrorTypeConfig, "missing state directory")
//
//	// Add context
//	err = err.WithDetail("field", "state_dir")
//
//	// Wrap existing errors
//	if err := db.QueryRowContext(ctx, q).Scan(&v); err != nil {
//	    return backuperrors.Wrap(err, backuperrors.ErrorTypeQuery, "metadata query failed").
//	        WithDetail("table", key.Table)
//	}
//
// # Error Types
//
// Errors are categorized by type, which drives the run-level propagation
// policy: fatal types (config, gate timeout, enumeration, state) abort a run,
// everything else is recorded in the run summary and the run continues.
package backuperrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error, used for error handling
// strategies and run-level propagation decisions.
type ErrorType string

const (
	// ErrorTypeConfig represents configuration errors (fatal)
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeGateTimeout represents resource gate admission timeouts (fatal)
	ErrorTypeGateTimeout ErrorType = "gate_timeout"
	// ErrorTypeEnumeration represents empty or failed entity enumeration (fatal)
	ErrorTypeEnumeration ErrorType = "enumeration"
	// ErrorTypeState represents watermark state persistence errors (fatal)
	ErrorTypeState ErrorType = "state"
	// ErrorTypeDetection represents per-entity change detection errors
	ErrorTypeDetection ErrorType = "detection"
	// ErrorTypeBuild represents per-entity artifact build errors
	ErrorTypeBuild ErrorType = "build"
	// ErrorTypeUpload represents per-artifact upload failures
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeConnection represents source connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeFile represents local file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeTimeout represents operation timeouts
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context, providing rich debugging
// information and enabling propagation decisions based on error category.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack, capturing
// the function name, file path, and line number for debugging.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling compatibility with errors.Is
// and errors.As for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error, providing additional
// context for debugging and monitoring. It can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, automatically
// capturing the call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. If the error is already a structured Error,
// its stack trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsFatal reports whether the error belongs to a run-aborting category.
// Config, gate timeout, enumeration, and state errors abort the whole run;
// detection, build, and upload errors degrade gracefully and are only
// reflected in the run summary.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConfig, ErrorTypeGateTimeout, ErrorTypeEnumeration, ErrorTypeState:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if the error is retryable based on its type.
// Connection, timeout, and upload errors are considered retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeUpload:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type, useful for error handling
// strategies and conditional logic based on error categories.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
