// Package errors provides the structured error taxonomy of the extraction engine.
// Every error carries a code so callers can classify failures without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Detection (1xx)
	CodeUnsupportedFormat Code = "E101"

	// Remote I/O (2xx)
	CodeTransientIO Code = "E201"

	// Parsing (3xx)
	CodeStructuralParse Code = "E301"

	// Combination (4xx)
	CodeDifferentFileTypes Code = "E401"

	// Dispatch (5xx)
	CodeAggregateFailure Code = "E501"

	// Caller errors (6xx)
	CodeInvalidRequest Code = "E601"

	// Registry (7xx)
	CodeDuplicateParser Code = "E701"
	CodeLoadFailed      Code = "E702"

	// Output (8xx)
	CodeExportFailed Code = "E801"

	CodeUnknown Code = "E999"
)

var codeNames = map[Code]string{
	CodeUnsupportedFormat:  "unsupported format",
	CodeTransientIO:        "transient i/o",
	CodeStructuralParse:    "structural parse error",
	CodeDifferentFileTypes: "different file types",
	CodeAggregateFailure:   "aggregate extraction failure",
	CodeInvalidRequest:     "invalid request",
	CodeDuplicateParser:    "duplicate parser",
	CodeLoadFailed:         "parser load failed",
	CodeExportFailed:       "export failed",
}

// String returns a human readable name for the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown"
}

// Error is the base error type of the engine.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// Unsupported reports that a parser does not recognise a file.
func Unsupported(parser, path string) *Error {
	return New(CodeUnsupportedFormat, "parser does not recognise file").
		WithContext("parser", parser).
		WithContext("path", path)
}

// TransientIO wraps a remote or local I/O failure.
func TransientIO(err error, host, path string) *Error {
	return Wrap(err, CodeTransientIO, "file access failed").
		WithContext("host", host).
		WithContext("path", path)
}

// Structural creates a parse error for a file whose header matched but whose body did not.
func Structural(parser string, line int, format string, args ...interface{}) *Error {
	e := Newf(CodeStructuralParse, format, args...).WithContext("parser", parser)
	if line > 0 {
		e.WithContext("line", line)
	}
	return e
}

// DifferentFileTypes reports files that cannot be merged.
func DifferentFileTypes(format string, args ...interface{}) *Error {
	return Newf(CodeDifferentFileTypes, format, args...)
}

// InvalidRequest reports a malformed extraction request.
func InvalidRequest(format string, args ...interface{}) *Error {
	return Newf(CodeInvalidRequest, format, args...)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var agg *AggregateError
	if errors.As(err, &agg) {
		return CodeAggregateFailure
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether an extraction error may succeed on another attempt.
// Structural errors are retried too: the retry layer does not tell them apart.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTransientIO, CodeStructuralParse, CodeUnknown:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
