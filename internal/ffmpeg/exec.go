package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// maxDiagnosticLines bounds the ffmpeg stderr attached to errors.
const maxDiagnosticLines = 20

// runFn starts a process and collects its stdout and stderr.
type runFn func(ctx context.Context, path string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)

// Executor runs ffmpeg processes. It is safe for concurrent use.
type Executor struct {
	run runFn
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRun sets a custom process runner (for testing).
func WithRun(fn runFn) ExecutorOption {
	return func(e *Executor) { e.run = fn }
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{run: defaultRun}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run feeds stdin to ffmpeg and returns what it wrote to stdout.
// A failed run returns the tail of ffmpeg's diagnostics with the error.
// Cancellation of ctx kills the process and is reported as ctx.Err().
func (e *Executor) Run(ctx context.Context, ffmpegPath string, args []string, stdin io.Reader) ([]byte, error) {
	stdout, stderr, err := e.run(ctx, ffmpegPath, args, stdin)
	if err == nil {
		return stdout, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if diag := tail(stderr, maxDiagnosticLines); diag != "" {
		return nil, fmt.Errorf("%w\nOutput: %s", err, diag)
	}
	return nil, err
}

// Version returns the output of "ffmpeg -version", also when ffmpeg
// exits non-zero after printing it.
func (e *Executor) Version(ctx context.Context, ffmpegPath string) (string, error) {
	stdout, stderr, err := e.run(ctx, ffmpegPath, []string{"-version"}, nil)
	if len(stdout) == 0 {
		stdout = stderr
	}
	return string(stdout), err
}

func defaultRun(ctx context.Context, ffmpegPath string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	// #nosec G204 -- ffmpegPath comes from Resolver, args are built by the converter
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// tail returns the last n non-empty lines of out.
func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
