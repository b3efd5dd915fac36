// Package compiler runs `go build -buildmode=c-archive` as a subprocess.
package compiler

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Stream identifies which compiler output a line came from
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}

	return "stdout"
}

// Request describes one compiler invocation
type Request struct {
	// Compiler is the go binary, a name searched on Env["PATH"] or a path
	Compiler string

	// Dir is the working directory of the compiler process
	Dir string

	// Output is where the archive is written; the header lands next to it
	Output string

	// Sources are the file or package arguments, in order
	Sources []string

	LDFlags  string
	TrimPath bool

	// Flags are extra `go build` flags placed before the sources
	Flags []string

	// Env is the complete compiler environment
	Env map[string]string

	// Timeout bounds the run; zero means no limit
	Timeout time.Duration

	// OnLine receives every output line as it is produced
	OnLine func(stream Stream, line string)
}

// Result describes a successful compiler run
type Result struct {
	Archive string
	Header  string

	// Stdout and Stderr are the compiler's output, verbatim
	Stdout string
	Stderr string

	Duration time.Duration
}

// Invoker runs the Go toolchain
type Invoker interface {
	// Version returns the full `go version` output for compiler
	Version(ctx context.Context, compiler string, env map[string]string) (string, error)

	// Compile runs one build. A non-zero exit is a CompilationFailed error
	// carrying the compiler's stderr verbatim.
	Compile(ctx context.Context, req *Request) (*Result, error)
}

// ShellCommand is a compiler command line, for display
type ShellCommand struct {
	Path string
	Args []string
}

func (c *ShellCommand) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}

// GetBuildCommand returns the command line a request runs
func GetBuildCommand(req *Request) *ShellCommand {
	return &ShellCommand{
		Path: req.Compiler,
		Args: BuildArgs(req),
	}
}

// HeaderPath returns the header path the compiler writes for an archive
func HeaderPath(archive string) string {
	return strings.TrimSuffix(archive, filepath.Ext(archive)) + ".h"
}
