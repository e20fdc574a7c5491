package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/config"
	"github.com/alnah/go-corpus/internal/export"
	"github.com/alnah/go-corpus/internal/ffmpeg"
)

// Env holds injectable dependencies for CLI commands.
// This is the central injection point for testing CLI commands in isolation.
//
// All fields have sensible defaults via DefaultEnv(). Tests can override
// specific fields using the With* options or by creating a custom Env.
//
// Env must not be nil when passed to command functions. Use DefaultEnv()
// or NewEnv() to create a valid instance.
type Env struct {
	// I/O and environment
	Stderr io.Writer
	Stdout io.Writer
	Getenv func(string) string

	// Factories for domain objects
	FFmpegResolver   FFmpegResolverFactory
	ConfigLoader     ConfigLoader
	ConverterFactory ConverterFactory
}

// FFmpegResolver resolves the path to the FFmpeg binary.
type FFmpegResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// FFmpegResolverFactory creates resolvers logging to the run's logger.
type FFmpegResolverFactory interface {
	NewResolver(logger *slog.Logger) FFmpegResolver
}

// ConfigLoader loads and provides access to configuration.
type ConfigLoader interface {
	Load() (config.Config, error)
}

// ConverterFactory creates the converter preparing source audio.
type ConverterFactory interface {
	NewConverter(resolver FFmpegResolver, format audio.Format) (export.Converter, error)
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithStderr sets the stderr writer.
func WithStderr(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stderr = w
	}
}

// WithStdout sets the stdout writer.
func WithStdout(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stdout = w
	}
}

// WithGetenv sets the environment variable getter.
func WithGetenv(fn func(string) string) EnvOption {
	return func(e *Env) {
		e.Getenv = fn
	}
}

// WithFFmpegResolver sets the FFmpeg resolver factory.
func WithFFmpegResolver(f FFmpegResolverFactory) EnvOption {
	return func(e *Env) {
		e.FFmpegResolver = f
	}
}

// WithConfigLoader sets the config loader.
func WithConfigLoader(l ConfigLoader) EnvOption {
	return func(e *Env) {
		e.ConfigLoader = l
	}
}

// WithConverterFactory sets the converter factory.
func WithConverterFactory(f ConverterFactory) EnvOption {
	return func(e *Env) {
		e.ConverterFactory = f
	}
}

// DefaultEnv returns an Env with production defaults.
func DefaultEnv() *Env {
	return &Env{
		Stderr:           os.Stderr,
		Stdout:           os.Stdout,
		Getenv:           os.Getenv,
		FFmpegResolver:   defaultFFmpegResolverFactory{},
		ConfigLoader:     defaultConfigLoader{},
		ConverterFactory: defaultConverterFactory{},
	}
}

// NewEnv creates an Env with the given options applied to defaults.
func NewEnv(opts ...EnvOption) *Env {
	env := DefaultEnv()
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// ---------------------------------------------------------------------------
// Default implementations - delegate to real packages
// ---------------------------------------------------------------------------

// defaultFFmpegResolverFactory creates ffmpeg package resolvers.
type defaultFFmpegResolverFactory struct{}

func (defaultFFmpegResolverFactory) NewResolver(logger *slog.Logger) FFmpegResolver {
	return ffmpeg.NewResolver(ffmpeg.WithLogger(logger))
}

// defaultConfigLoader implements ConfigLoader using the config package.
type defaultConfigLoader struct{}

func (defaultConfigLoader) Load() (config.Config, error) {
	return config.Load()
}

// defaultConverterFactory creates ffmpeg-backed converters.
type defaultConverterFactory struct{}

func (defaultConverterFactory) NewConverter(resolver FFmpegResolver, format audio.Format) (export.Converter, error) {
	conv, err := audio.NewConverter(resolver, format)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Compile-time interface verification.
var (
	_ FFmpegResolverFactory = defaultFFmpegResolverFactory{}
	_ ConfigLoader          = defaultConfigLoader{}
	_ ConverterFactory      = defaultConverterFactory{}
	_ FFmpegResolver        = (*ffmpeg.Resolver)(nil)
)
