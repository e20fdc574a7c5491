package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/config"
)

// ---------------------------------------------------------------------------
// syncBuffer - thread-safe bytes.Buffer for concurrent test output
// ---------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Compile-time check that syncBuffer implements io.Writer.
var _ io.Writer = (*syncBuffer)(nil)

// ---------------------------------------------------------------------------
// testMocks - convenience struct for grouping all mocks
// ---------------------------------------------------------------------------

type testMocks struct {
	ffmpeg       *mockFFmpegResolverFactory
	configLoader *mockConfigLoader
	converter    *mockConverterFactory
}

func newTestMocks() *testMocks {
	return &testMocks{
		ffmpeg:       &mockFFmpegResolverFactory{},
		configLoader: &mockConfigLoader{},
		converter:    &mockConverterFactory{},
	}
}

// ---------------------------------------------------------------------------
// testEnv - creates a fully mocked Env for testing
// ---------------------------------------------------------------------------

type testEnvOptions struct {
	stderr io.Writer
	stdout io.Writer
	getenv func(string) string
	mocks  *testMocks
}

type testEnvOption func(*testEnvOptions)

func withStdout(w io.Writer) testEnvOption {
	return func(o *testEnvOptions) { o.stdout = w }
}

func withGetenv(fn func(string) string) testEnvOption {
	return func(o *testEnvOptions) { o.getenv = fn }
}

func withConfig(cfg config.Config) testEnvOption {
	return func(o *testEnvOptions) {
		o.mocks.configLoader.LoadFunc = func() (config.Config, error) { return cfg, nil }
	}
}

// testEnv creates a test Env with all dependencies mocked.
// Returns the Env, its stderr and the mocks for assertions.
func testEnv(opts ...testEnvOption) (*Env, *syncBuffer, *testMocks) {
	stderr := &syncBuffer{}
	options := &testEnvOptions{
		stderr: stderr,
		stdout: io.Discard,
		getenv: func(string) string { return "" },
		mocks:  newTestMocks(),
	}
	for _, opt := range opts {
		opt(options)
	}

	env := &Env{
		Stderr:           options.stderr,
		Stdout:           options.stdout,
		Getenv:           options.getenv,
		FFmpegResolver:   options.mocks.ffmpeg,
		ConfigLoader:     options.mocks.configLoader,
		ConverterFactory: options.mocks.converter,
	}
	return env, stderr, options.mocks
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// staticEnv returns a getenv function that returns values from the given map.
func staticEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

// writeWAV writes ms milliseconds of canonical audio and returns its path.
func writeWAV(t *testing.T, dir, name string, ms int64) string {
	t.Helper()
	f := audio.DefaultFormat
	pcm := make([]byte, int(f.Frames(ms))*f.FrameSize())
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	data, err := audio.WAVBytes(pcm, f)
	if err != nil {
		t.Fatalf("encoding wav: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	return path
}

// writeJSON writes v as a JSON file and returns its path.
func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// record is one alignment entry as written by the aligner.
type record map[string]any

// executeExport runs the export command with args.
func executeExport(t *testing.T, env *Env, args ...string) error {
	t.Helper()
	return execute(ExportCmd(env), args...)
}

func execute(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd.ExecuteContext(context.Background())
}
