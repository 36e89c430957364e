// Package reservoirerrors provides structured error handling for reservoir with
// error categorization, key-value context and stack capture.
//
// # Overview
//
// Errors carry an ErrorType so callers can branch on the category without
// string matching:
//   - config and validation errors are returned synchronously by constructors
//   - ownership errors report double release or use of a released handle
//   - gc and export errors are logged and counted by the components that
//     produce them and never reach request handling
//
// # Basic Usage
//
//	err := reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "max_pool_size must be positive").
//	    WithDetail("value", cfg.MaxPoolSize)
//
//	if reservoirerrors.IsType(err, reservoirerrors.ErrorTypeOwnership) {
//	    // buffer was already returned
//	}
//
// # Thread Safety
//
// Error instances are not safe for concurrent modification. Finish adding
// details before sharing an error across goroutines.
package reservoirerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant failures
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments passed at call time
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors detected at construction
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents unknown profiles, pools or keys
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents duplicate registrations
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeOwnership represents double release or use after release
	ErrorTypeOwnership ErrorType = "ownership"
	// ErrorTypeCapacity represents pool capacity exhaustion
	ErrorTypeCapacity ErrorType = "capacity"
	// ErrorTypeGC represents forced collection failures
	ErrorTypeGC ErrorType = "gc"
	// ErrorTypeExport represents export sink failures
	ErrorTypeExport ErrorType = "export"
	// ErrorTypeLifecycle represents enable/disable ordering errors
	ErrorTypeLifecycle ErrorType = "lifecycle"
)

// Error represents a structured error with context.
//
// Example:
//
//	err := &Error{
//	    Type:    ErrorTypeConfig,
//	    Message: "size category exceeds 1MB",
//	    Details: map[string]interface{}{"category": "huge", "capacity": 4 << 20},
//	}
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If err is already a
// structured Error its stack is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

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

// IsType reports whether any error in err's chain is a structured Error of
// the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// captureStack captures up to 32 frames, skipping the given number of frames.
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
