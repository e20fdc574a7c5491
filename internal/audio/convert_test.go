package audio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/alnah/go-corpus/internal/audio"
)

// mockLocator counts Resolve calls.
type mockLocator struct {
	path  string
	err   error
	calls atomic.Int32
}

func (m *mockLocator) Resolve(context.Context) (string, error) {
	m.calls.Add(1)
	return m.path, m.err
}

func newConverter(t *testing.T, loc audio.Locator, opts ...audio.ConverterOption) *audio.Converter {
	t.Helper()
	opts = append([]audio.ConverterOption{audio.WithTempDir(t.TempDir())}, opts...)
	c, err := audio.NewConverter(loc, audio.DefaultFormat, opts...)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	return c
}

func TestConverter_EnsureCanonicalIsUnchanged(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, t.TempDir(), pcmFor(audio.DefaultFormat, 100), audio.DefaultFormat)
	loc := &mockLocator{err: errors.New("ffmpeg must not be needed")}
	c := newConverter(t, loc)

	got, err := c.Ensure(context.Background(), path)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if got != path {
		t.Errorf("Ensure() = %q, want original %q", got, path)
	}
	if loc.calls.Load() != 0 {
		t.Errorf("locator resolved %d times, want 0", loc.calls.Load())
	}
	if err := c.Release(path, got); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("original removed: %v", err)
	}
}

func TestConverter_EnsureRunsFFmpeg(t *testing.T) {
	t.Parallel()

	other := audio.Format{Rate: 8000, Channels: 2, Width: 2}
	path := writeWAV(t, t.TempDir(), pcmFor(other, 100), other)

	var gotName string
	var gotArgs []string
	runner := audio.CommandFunc(func(_ context.Context, name string, args []string, _ io.Reader) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, nil
	})
	loc := &mockLocator{path: "/opt/ffmpeg"}
	c := newConverter(t, loc, audio.WithCommandRunner(runner))

	out, err := c.Ensure(context.Background(), path)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if out == path {
		t.Fatal("Ensure() returned the original path for a non-canonical file")
	}
	if gotName != "/opt/ffmpeg" {
		t.Errorf("ran %q, want /opt/ffmpeg", gotName)
	}
	for _, want := range [][]string{{"-i", path}, {"-ar", "16000"}, {"-ac", "1"}, {"-c:a", "pcm_s16le"}} {
		i := slices.Index(gotArgs, want[0])
		if i < 0 || i+1 >= len(gotArgs) || gotArgs[i+1] != want[1] {
			t.Errorf("args %v missing %v", gotArgs, want)
		}
	}
	if gotArgs[len(gotArgs)-1] != out {
		t.Errorf("output arg = %q, want %q", gotArgs[len(gotArgs)-1], out)
	}

	if err := c.Release(path, out); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("converted copy still exists: %v", err)
	}
}

func TestConverter_EnsureFailureRemovesTemp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speech.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}

	var removed []string
	runner := audio.CommandFunc(func(context.Context, string, []string, io.Reader) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	remover := audio.RemoverFunc(func(name string) error {
		removed = append(removed, name)
		return os.Remove(name)
	})
	c := newConverter(t, &mockLocator{path: "ffmpeg"}, audio.WithCommandRunner(runner), audio.WithRemover(remover))

	_, err := c.Ensure(context.Background(), path)
	if !errors.Is(err, audio.ErrConversionFailed) {
		t.Fatalf("Ensure() error = %v, want ErrConversionFailed", err)
	}
	if len(removed) != 1 {
		t.Errorf("removed %v, want the temp file", removed)
	}
}

func TestConverter_EnsureLocatorError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "speech.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}
	errMissing := errors.New("ffmpeg not found")
	loc := &mockLocator{err: errMissing}
	c := newConverter(t, loc)

	for range 2 {
		if _, err := c.Ensure(context.Background(), path); !errors.Is(err, errMissing) {
			t.Errorf("Ensure() error = %v, want %v", err, errMissing)
		}
	}
	if loc.calls.Load() != 1 {
		t.Errorf("locator resolved %d times, want 1", loc.calls.Load())
	}
}

func TestConverter_Reencode(t *testing.T) {
	t.Parallel()

	pcm := pcmFor(audio.DefaultFormat, 20)

	var stdin []byte
	var args []string
	runner := audio.CommandFunc(func(_ context.Context, _ string, a []string, in io.Reader) ([]byte, error) {
		args = a
		stdin, _ = io.ReadAll(in)
		return []byte("OggS"), nil
	})
	c := newConverter(t, &mockLocator{path: "ffmpeg"}, audio.WithCommandRunner(runner))
	ctx := context.Background()

	raw, err := c.Reencode(ctx, pcm, audio.TypePCM)
	if err != nil || !bytes.Equal(raw, pcm) {
		t.Errorf("Reencode(pcm) = %d bytes, %v", len(raw), err)
	}

	wav, err := c.Reencode(ctx, pcm, audio.TypeWAV)
	if err != nil {
		t.Fatalf("Reencode(wav) error = %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) || !bytes.HasSuffix(wav, pcm) {
		t.Errorf("Reencode(wav) is not a WAV wrapping the payload")
	}

	opus, err := c.Reencode(ctx, pcm, audio.TypeOpus)
	if err != nil {
		t.Fatalf("Reencode(opus) error = %v", err)
	}
	if string(opus) != "OggS" {
		t.Errorf("Reencode(opus) = %q", opus)
	}
	if !bytes.Equal(stdin, pcm) {
		t.Errorf("ffmpeg stdin = %d bytes, want %d", len(stdin), len(pcm))
	}
	if !slices.Contains(args, "libopus") || !slices.Contains(args, "s16le") {
		t.Errorf("opus args = %v", args)
	}
}
