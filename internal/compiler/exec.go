package compiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// group has been killed
const waitDelay = 5 * time.Second

// Exec is the Invoker that runs the real toolchain
type Exec struct {
	Logger *slog.Logger
}

// NewExec creates an Exec that logs through logger
func NewExec(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Exec{Logger: logger}
}

// Version runs `<compiler> version`
func (e *Exec) Version(ctx context.Context, compiler string, env map[string]string) (string, error) {
	path, err := LookPath(compiler, env["PATH"])
	if err != nil {
		return "", codes.Wrap(codes.ToolchainNotFound, err, "go compiler %q not found", compiler)
	}

	cmd := exec.CommandContext(ctx, path, "version")
	cmd.Env = Environ(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", codes.Wrap(codes.ToolchainNotFound, err, "%s version failed: %s", compiler, strings.TrimSpace(stderr.String()))
	}

	version := strings.TrimSpace(stdout.String())
	if !strings.HasPrefix(version, "go version ") {
		return "", codes.New(codes.ToolchainNotFound, "%s is not a Go toolchain (version output %q)", compiler, version)
	}

	return version, nil
}

// Compile runs `go build -buildmode=c-archive` in its own process group.
// Cancelling ctx, or exceeding req.Timeout, kills the whole group.
func (e *Exec) Compile(ctx context.Context, req *Request) (*Result, error) {
	path, err := LookPath(req.Compiler, req.Env["PATH"])
	if err != nil {
		return nil, codes.Wrap(codes.ToolchainNotFound, err, "go compiler %q not found", req.Compiler)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, BuildArgs(req)...)
	cmd.Dir = req.Dir
	cmd.Env = Environ(req.Env)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to create stdout pipe")
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to create stderr pipe")
	}

	e.Logger.Debug("running compiler", "command", GetBuildCommand(req).String(), "dir", req.Dir)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, codes.Wrap(codes.ToolchainNotFound, err, "failed to start %s", path)
		}

		return nil, codes.Wrap(codes.IOError, err, "failed to start %s", path)
	}

	var stdout, stderr bytes.Buffer

	var g errgroup.Group
	g.Go(func() error { return readLines(stdoutPipe, &stdout, Stdout, req.OnLine) })
	g.Go(func() error { return readLines(stderrPipe, &stderr, Stderr, req.OnLine) })

	// Both pipes must be drained before Wait closes them
	readErr := g.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	e.Logger.Debug("compiler finished", "duration", elapsed, "err", waitErr)

	if ctxErr := ctx.Err(); ctxErr != nil {
		ce := codes.Wrap(codes.CompilationFailed, ctxErr, "go build interrupted after %s", elapsed.Round(time.Millisecond))
		if errors.Is(ctxErr, context.DeadlineExceeded) && req.Timeout > 0 {
			ce.Message = "go build timed out after " + req.Timeout.String()
		}

		ce.ExitCode = -1

		return nil, ce
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, codes.Compilation(exitErr.ExitCode(), stderr.String())
		}

		return nil, codes.Wrap(codes.IOError, waitErr, "failed to run %s", path)
	}

	if readErr != nil {
		return nil, codes.Wrap(codes.IOError, readErr, "failed to read compiler output")
	}

	return &Result{
		Archive:  req.Output,
		Header:   HeaderPath(req.Output),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}, nil
}

// readLines copies r into buf verbatim and reports each line to onLine
func readLines(r io.Reader, buf *bytes.Buffer, stream Stream, onLine func(Stream, string)) error {
	tee := io.TeeReader(r, buf)

	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if onLine != nil {
			onLine(stream, strings.TrimRight(scanner.Text(), "\r"))
		}
	}

	// Keep capturing past an overlong line
	if err := scanner.Err(); err != nil {
		_, err = io.Copy(io.Discard, tee)
		if errors.Is(err, os.ErrClosed) {
			return nil
		}

		return err
	}

	return nil
}
