package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved little-endian PCM audio.
type Format struct {
	Rate     int // samples per second
	Channels int
	Width    int // bytes per sample
}

// DefaultFormat is 16 kHz mono 16-bit, the usual speech training format.
var DefaultFormat = Format{Rate: 16000, Channels: 1, Width: 2}

// Validate checks the format can be written as a PCM WAV file.
func (f Format) Validate() error {
	if f.Rate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: rate %d, channels %d", ErrUnsupportedFormat, f.Rate, f.Channels)
	}
	if f.Width < 1 || f.Width > 4 {
		return fmt.Errorf("%w: sample width %d bytes", ErrUnsupportedFormat, f.Width)
	}
	return nil
}

// FrameSize returns the number of bytes per frame.
func (f Format) FrameSize() int {
	return f.Channels * f.Width
}

// Frames converts a millisecond offset to a frame offset.
func (f Format) Frames(ms int64) int64 {
	return ms * int64(f.Rate) / 1000
}

// Duration returns the playing time of n PCM bytes.
func (f Format) Duration(n int64) time.Duration {
	frames := n / int64(f.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(f.Rate)
}

// String returns a compact description, e.g. "16000Hz/1ch/16bit".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.Rate, f.Channels, f.Width*8)
}

// pcmCodec returns the ffmpeg codec and raw sample format for the width.
func (f Format) pcmCodec() (codec, sampleFmt string) {
	switch f.Width {
	case 1:
		return "pcm_u8", "u8"
	case 3:
		return "pcm_s24le", "s24le"
	case 4:
		return "pcm_s32le", "s32le"
	default:
		return "pcm_s16le", "s16le"
	}
}

// Type is the audio representation stored in a sample database.
type Type string

// Supported sample representations.
const (
	TypePCM  Type = "pcm"
	TypeWAV  Type = "wav"
	TypeOpus Type = "opus"
)

// ParseType returns the sample representation with the given name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePCM, TypeWAV, TypeOpus:
		return t, nil
	default:
		return "", fmt.Errorf("%w: audio type %q (supported: wav, opus)", ErrUnsupportedFormat, s)
	}
}
