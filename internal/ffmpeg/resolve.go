package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
)

const (
	// binaryName is the base name of the ffmpeg binary.
	binaryName = "ffmpeg"

	// minFFmpegMajorVersion is the oldest release with the libopus and
	// pcm_s24le handling the exporter relies on.
	minFFmpegMajorVersion = 4
)

// Environment variable for custom ffmpeg path.
const envFFmpegPath = "FFMPEG_PATH"

// Resolver finds FFmpeg and checks its version once.
// It is safe for concurrent use; resolution happens on the first call.
type Resolver struct {
	env      envProvider
	stat     fileStatter
	executor *Executor
	logger   *slog.Logger
	goos     string

	once sync.Once
	path string
	err  error
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnvProvider sets the environment provider implementation.
func WithEnvProvider(e envProvider) ResolverOption {
	return func(r *Resolver) { r.env = e }
}

// WithFileStatter sets the file statter implementation.
func WithFileStatter(s fileStatter) ResolverOption {
	return func(r *Resolver) { r.stat = s }
}

// WithExecutor sets the executor used for the version check.
func WithExecutor(e *Executor) ResolverOption {
	return func(r *Resolver) { r.executor = e }
}

// WithLogger sets the logger for version warnings.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithPlatform sets the target OS (for testing install instructions).
func WithPlatform(goos string) ResolverOption {
	return func(r *Resolver) { r.goos = goos }
}

// NewResolver creates a Resolver with the given options.
// Uses production defaults if no options are provided.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		env:      osEnvProvider{},
		stat:     osFileStatter{},
		executor: NewExecutor(),
		logger:   slog.Default(),
		goos:     runtime.GOOS,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds ffmpeg using the following precedence:
//  1. FFMPEG_PATH environment variable (error if set but invalid)
//  2. System PATH
//
// The result of the first call is reused by later calls.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	r.once.Do(func() {
		r.path, r.err = r.lookup()
		if r.err == nil {
			r.checkVersion(ctx)
		}
	})
	return r.path, r.err
}

func (r *Resolver) lookup() (string, error) {
	if envPath := r.env.Getenv(envFFmpegPath); envPath != "" {
		if _, err := r.stat.Stat(envPath); err != nil {
			return "", fmt.Errorf("%w: %s is set to %q but binary not found", ErrNotFound, envFFmpegPath, envPath)
		}
		return envPath, nil
	}
	if path, err := r.env.LookPath(binaryName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w\n\n%s", ErrNotFound, r.installInstructions())
}

// checkVersion logs a warning when ffmpeg is older than supported.
// It never fails: an unparsable version is let through.
func (r *Resolver) checkVersion(ctx context.Context) {
	output, err := r.executor.Version(ctx, r.path)
	if err != nil && output == "" {
		return
	}
	major, ok := parseMajorVersion(output)
	if !ok {
		r.logger.Debug("could not parse ffmpeg version", "path", r.path)
		return
	}
	if major < minFFmpegMajorVersion {
		r.logger.Warn("ffmpeg is older than recommended",
			"version", major, "recommended", minFFmpegMajorVersion, "path", r.path)
	}
}

// parseMajorVersion reads the major version from "ffmpeg version 6.1.1 ..."
// or "ffmpeg version n6.1.1 ...".
func parseMajorVersion(output string) (int, bool) {
	line, _, _ := strings.Cut(output, "\n")
	var major int
	if _, err := fmt.Sscanf(line, "ffmpeg version %d", &major); err == nil {
		return major, true
	}
	if _, err := fmt.Sscanf(line, "ffmpeg version n%d", &major); err == nil {
		return major, true
	}
	return 0, false
}

// installInstructions returns platform-specific instructions.
func (r *Resolver) installInstructions() string {
	switch r.goos {
	case "darwin":
		return `To install FFmpeg:
  brew install ffmpeg

Or set FFMPEG_PATH environment variable to your ffmpeg binary.`
	case "linux":
		return `To install FFmpeg:
  Ubuntu/Debian: sudo apt install ffmpeg
  Fedora:        sudo dnf install ffmpeg
  Arch:          sudo pacman -S ffmpeg

Or set FFMPEG_PATH environment variable to your ffmpeg binary.`
	case "windows":
		return `To install FFmpeg:
  winget install ffmpeg

Or set FFMPEG_PATH environment variable to your ffmpeg.exe.`
	default:
		return `To install FFmpeg, download from https://ffmpeg.org/download.html
Or set FFMPEG_PATH environment variable to your ffmpeg binary.`
	}
}
