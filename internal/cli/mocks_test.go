package cli

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/config"
	"github.com/alnah/go-corpus/internal/export"
)

// ---------------------------------------------------------------------------
// Mock FFmpegResolver
// ---------------------------------------------------------------------------

type mockFFmpegResolver struct {
	ResolveFunc func(ctx context.Context) (string, error)

	mu           sync.Mutex
	resolveCalls int
}

func (m *mockFFmpegResolver) Resolve(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.resolveCalls++
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx)
	}
	return "/usr/bin/ffmpeg", nil
}

func (m *mockFFmpegResolver) ResolveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveCalls
}

type mockFFmpegResolverFactory struct {
	resolver *mockFFmpegResolver

	mu      sync.Mutex
	loggers []*slog.Logger
}

func (m *mockFFmpegResolverFactory) NewResolver(logger *slog.Logger) FFmpegResolver {
	m.mu.Lock()
	m.loggers = append(m.loggers, logger)
	m.mu.Unlock()

	if m.resolver == nil {
		m.resolver = &mockFFmpegResolver{}
	}
	return m.resolver
}

// ---------------------------------------------------------------------------
// Mock ConfigLoader
// ---------------------------------------------------------------------------

type mockConfigLoader struct {
	LoadFunc func() (config.Config, error)

	mu        sync.Mutex
	loadCalls int
}

func (m *mockConfigLoader) Load() (config.Config, error) {
	m.mu.Lock()
	m.loadCalls++
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return config.Config{}, nil
}

func (m *mockConfigLoader) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

// ---------------------------------------------------------------------------
// Mock ConverterFactory
// ---------------------------------------------------------------------------

// mockConverterFactory builds real converters unless NewConverterFunc is set,
// so canonical test WAVs export without ffmpeg.
type mockConverterFactory struct {
	NewConverterFunc func(resolver FFmpegResolver, format audio.Format) (export.Converter, error)

	mu      sync.Mutex
	formats []audio.Format
}

func (m *mockConverterFactory) NewConverter(resolver FFmpegResolver, format audio.Format) (export.Converter, error) {
	m.mu.Lock()
	m.formats = append(m.formats, format)
	m.mu.Unlock()

	if m.NewConverterFunc != nil {
		return m.NewConverterFunc(resolver, format)
	}
	return defaultConverterFactory{}.NewConverter(resolver, format)
}

func (m *mockConverterFactory) Formats() []audio.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audio.Format(nil), m.formats...)
}

// Compile-time interface verification.
var (
	_ FFmpegResolver        = (*mockFFmpegResolver)(nil)
	_ FFmpegResolverFactory = (*mockFFmpegResolverFactory)(nil)
	_ ConfigLoader          = (*mockConfigLoader)(nil)
	_ ConverterFactory      = (*mockConverterFactory)(nil)
)
