package audio

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/alnah/go-corpus/internal/ffmpeg"
)

// Locator resolves the FFmpeg binary on first use.
type Locator interface {
	Resolve(ctx context.Context) (string, error)
}

// Converter turns arbitrary audio into canonical PCM WAV files and
// re-encodes extracted PCM for the sample database.
// FFmpeg is only located when a conversion is actually needed.
type Converter struct {
	locator Locator
	format  Format
	tempDir string

	once       sync.Once
	ffmpegPath string
	resolveErr error

	cmd     commandRunner
	temp    tempFileCreator
	remover fileRemover
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithTempDir sets the directory for converted copies (default: os.TempDir()).
func WithTempDir(dir string) ConverterOption {
	return func(c *Converter) {
		c.tempDir = dir
	}
}

// NewConverter creates a Converter producing files in the given format.
func NewConverter(locator Locator, format Format, opts ...ConverterOption) (*Converter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	c := &Converter{
		locator: locator,
		format:  format,
		cmd:     ffmpeg.NewExecutor(),
		temp:    osTempFileCreator{},
		remover: osFileRemover{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Format returns the canonical format produced by Ensure.
func (c *Converter) Format() Format { return c.format }

func (c *Converter) ffmpeg(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.ffmpegPath, c.resolveErr = c.locator.Resolve(ctx)
	})
	return c.ffmpegPath, c.resolveErr
}

// Ensure returns a path to a canonical copy of the audio file.
// Files already in the canonical format are returned unchanged.
func (c *Converter) Ensure(ctx context.Context, path string) (string, error) {
	if got, ok := probe(path); ok && got == c.format {
		return path, nil
	}

	ffmpegPath, err := c.ffmpeg(ctx)
	if err != nil {
		return "", err
	}

	tmp, err := c.temp.CreateTemp(c.tempDir, "corpus-*.wav")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	out := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = c.remover.Remove(out)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if _, err := c.cmd.Run(ctx, ffmpegPath, c.convertArgs(path, out), nil); err != nil {
		_ = c.remover.Remove(out)
		return "", fmt.Errorf("%w: converting %s: %w", ErrConversionFailed, path, err)
	}
	return out, nil
}

// Release removes a converted copy returned by Ensure.
// Nothing happens when no conversion took place.
func (c *Converter) Release(original, converted string) error {
	if converted == "" || converted == original {
		return nil
	}
	return c.remover.Remove(converted)
}

func (c *Converter) convertArgs(in, out string) []string {
	codec, _ := c.format.pcmCodec()
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", in,
		"-vn",
		"-ac", strconv.Itoa(c.format.Channels),
		"-ar", strconv.Itoa(c.format.Rate),
		"-c:a", codec,
		"-f", "wav",
		out,
	}
}

// Reencode converts raw canonical PCM into the requested sample type.
func (c *Converter) Reencode(ctx context.Context, pcm []byte, typ Type) ([]byte, error) {
	switch typ {
	case TypePCM:
		return pcm, nil
	case TypeWAV:
		return WAVBytes(pcm, c.format)
	case TypeOpus:
		return c.opus(ctx, pcm)
	default:
		return nil, fmt.Errorf("%w: audio type %q", ErrUnsupportedFormat, typ)
	}
}

func (c *Converter) opus(ctx context.Context, pcm []byte) ([]byte, error) {
	ffmpegPath, err := c.ffmpeg(ctx)
	if err != nil {
		return nil, err
	}
	_, sampleFmt := c.format.pcmCodec()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", sampleFmt,
		"-ar", strconv.Itoa(c.format.Rate),
		"-ac", strconv.Itoa(c.format.Channels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-f", "ogg",
		"pipe:1",
	}
	out, err := c.cmd.Run(ctx, ffmpegPath, args, bytes.NewReader(pcm))
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoding: %w", ErrConversionFailed, err)
	}
	return out, nil
}
