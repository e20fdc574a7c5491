package audio

import (
	"context"
	"io"
	"os"
)

// Export internal functions for testing.
// This file is only compiled during tests (suffix _test.go).

// Samples exports samples for testing.
var Samples = samples

// Probe exports probe for testing.
var Probe = probe

// CommandFunc adapts a function to the internal commandRunner interface.
type CommandFunc func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)

func (f CommandFunc) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	return f(ctx, name, args, stdin)
}

// WithCommandRunner injects a command runner into a Converter.
func WithCommandRunner(f CommandFunc) ConverterOption {
	return func(c *Converter) {
		c.cmd = f
	}
}

// RemoverFunc adapts a function to the internal fileRemover interface.
type RemoverFunc func(name string) error

func (f RemoverFunc) Remove(name string) error { return f(name) }

// WithRemover injects a file remover into a Converter.
func WithRemover(f RemoverFunc) ConverterOption {
	return func(c *Converter) {
		c.remover = f
	}
}

// CreateTempFunc adapts a function to the internal tempFileCreator interface.
type CreateTempFunc func(dir, pattern string) (*os.File, error)

func (f CreateTempFunc) CreateTemp(dir, pattern string) (*os.File, error) { return f(dir, pattern) }

// WithTempCreator injects a temp file creator into a Converter.
func WithTempCreator(f CreateTempFunc) ConverterOption {
	return func(c *Converter) {
		c.temp = f
	}
}
