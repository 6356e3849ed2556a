package errors

import (
	"fmt"
	"path"
	"strings"
)

// ParserError is one parser's final failure against one target.
type ParserError struct {
	Parser string
	Err    error
}

// TargetFailure lists every distinct error seen for a target that no parser claimed.
type TargetFailure struct {
	Index  int
	Host   string
	Path   string
	Errors []ParserError
}

// Add records err unless the same parser already reported the same message.
func (f *TargetFailure) Add(parser string, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	for _, pe := range f.Errors {
		if pe.Parser == parser && pe.Err.Error() == msg {
			return
		}
	}
	f.Errors = append(f.Errors, ParserError{Parser: parser, Err: err})
}

// Unsupported reports whether every recorded error is an unsupported-format marker.
func (f *TargetFailure) Unsupported() bool {
	for _, pe := range f.Errors {
		if !IsCode(pe.Err, CodeUnsupportedFormat) {
			return false
		}
	}
	return true
}

// AggregateError is returned when at least one target could not be extracted by any parser.
type AggregateError struct {
	Operation string
	Total     int
	Failures  []TargetFailure
}

// Error implements the error interface.
func (a *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] parsers were unable to extract %s for %d/%d path(s)",
		CodeAggregateFailure, a.Operation, len(a.Failures), a.Total))
	for _, f := range a.Failures {
		sb.WriteString(fmt.Sprintf("\n - %s@%s", f.Host, path.Base(f.Path)))
		if f.Unsupported() {
			sb.WriteString(": no parser recognised the file")
			continue
		}
		for _, pe := range f.Errors {
			if IsCode(pe.Err, CodeUnsupportedFormat) {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n     %s: %v", pe.Parser, pe.Err))
		}
	}
	return sb.String()
}

// Unwrap exposes every recorded parser error to errors.Is/As.
func (a *AggregateError) Unwrap() []error {
	var errs []error
	for _, f := range a.Failures {
		for _, pe := range f.Errors {
			errs = append(errs, pe.Err)
		}
	}
	return errs
}

// Is matches any AggregateError target, or an *Error with the aggregate code.
func (a *AggregateError) Is(target error) bool {
	switch t := target.(type) {
	case *AggregateError:
		return true
	case *Error:
		return t.Code == CodeAggregateFailure
	}
	return false
}
