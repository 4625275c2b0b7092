package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryRuntime  Category = "runtime"
	CategoryUpdate   Category = "update"
	CategoryProtocol Category = "protocol"
	CategoryHistory  Category = "history"
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
)

// Location represents a source code location. Module-level errors carry
// the module identifier as File and no line.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	switch {
	case l.Line == 0:
		return l.File
	case l.Column > 0:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	default:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
}

// HMRError is a structured error with a code, location and suggestion.
type HMRError struct {
	// Code is a unique error identifier (e.g., "H001").
	Code string

	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location points at the module or source line involved.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// Generation is the update generation involved, if any.
	Generation uint64

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *HMRError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *HMRError) Unwrap() error {
	return e.Wrapped
}

// WithModule points the error at a module.
func (e *HMRError) WithModule(id string) *HMRError {
	if id != "" {
		e.Location = &Location{File: id}
	}
	return e
}

// WithLocation adds a source location and reads the lines around it.
func (e *HMRError) WithLocation(file string, line, column int) *HMRError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithGeneration records the update generation involved.
func (e *HMRError) WithGeneration(gen uint64) *HMRError {
	e.Generation = gen
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *HMRError) WithSuggestion(s string) *HMRError {
	e.Suggestion = s
	return e
}

// WithDetail replaces the explanation.
func (e *HMRError) WithDetail(d string) *HMRError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *HMRError) Wrap(err error) *HMRError {
	e.Wrapped = err
	return e
}

func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates an HMRError from a registered error code.
func New(code string) *HMRError {
	template, ok := registry[code]
	if !ok {
		return &HMRError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &HMRError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
		DocURL:     template.DocURL,
	}
}

// Newf creates an HMRError with a formatted message and no code.
func Newf(category Category, format string, args ...any) *HMRError {
	return &HMRError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error under code. HMRErrors are returned
// unchanged.
func FromError(err error, code string) *HMRError {
	if err == nil {
		return nil
	}
	var he *HMRError
	if stderrors.As(err, &he) {
		return he
	}
	return New(code).Wrap(err)
}
