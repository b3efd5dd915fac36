// Package codes defines the error taxonomy shared by every build stage.
//
// Errors are returned to the caller unmodified so that the text reaching a
// human (a compiler diagnostic, a missing path) is the original one.
package codes

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a build failure
type Kind int

const (
	// ConfigurationError covers missing sources, duplicate output names and
	// unsupported target triples. Always reported before a subprocess runs.
	ConfigurationError Kind = iota + 1

	// ToolchainNotFound means the Go compiler or a required C compiler is absent
	ToolchainNotFound

	// CompilationFailed means the compiler exited non-zero
	CompilationFailed

	// CacheCorruption means the manifest could not be trusted. Recovered locally.
	CacheCorruption

	// IOError covers output directory and permission failures
	IOError
)

var kindNames = map[Kind]string{
	ConfigurationError: "configuration error",
	ToolchainNotFound:  "toolchain not found",
	CompilationFailed:  "compilation failed",
	CacheCorruption:    "cache corruption",
	IOError:            "io error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every build stage
type Error struct {
	Kind    Kind
	Message string

	// Details holds one line per offending item (e.g. each missing path)
	Details []string

	// ExitCode and Stderr are set for CompilationFailed
	ExitCode int
	Stderr   string

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	for _, d := range e.Details {
		b.WriteString("\n  ")
		b.WriteString(d)
	}

	if e.Kind == CompilationFailed && e.Stderr != "" {
		b.WriteString(":\n")
		b.WriteString(e.Stderr)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}

// Compilation creates a CompilationFailed error carrying the compiler's stderr verbatim
func Compilation(exitCode int, stderr string) *Error {
	return &Error{
		Kind:     CompilationFailed,
		Message:  fmt.Sprintf("go build failed (exit status %d: %s)", exitCode, GetErrorMessage(exitCode)),
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

// Is reports whether err is, or wraps, an *Error of the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// KindOf returns the kind of err, or 0 if it is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// ExitDescriptions maps `go build` exit statuses to their descriptions
var ExitDescriptions = map[int]string{
	-1: "Terminated by signal",
	0:  "Success",
	1:  "Build errors",
	2:  "Invalid command line or flags",
}

// IsSuccess returns true if the exit code indicates successful compilation
func IsSuccess(code int) bool {
	return code == 0
}

// GetErrorMessage returns the description for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ExitDescriptions[code]; ok {
		return msg
	}

	return "Unknown error"
}
