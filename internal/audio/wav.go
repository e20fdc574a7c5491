package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const wavFormatPCM = 1

// Source is an opened canonical PCM WAV file.
// Extract is safe for concurrent use.
type Source struct {
	path   string
	file   *os.File
	format Format
	offset int64 // start of the data chunk
	size   int64 // data chunk length in bytes
}

// Open opens a PCM WAV file and locates its data chunk.
func Open(path string) (*Source, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the fragment catalog
	if err != nil {
		return nil, fmt.Errorf("opening audio %s: %w", path, err)
	}

	format, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locating pcm data in %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	s := &Source{path: path, file: f, format: format.format, offset: offset, size: format.size}
	// Truncated files declare more data than they hold.
	if avail := st.Size() - offset; s.size > avail || s.size < 0 {
		s.size = avail
	}
	s.size -= s.size % int64(s.format.FrameSize())
	return s, nil
}

// Format returns the PCM format of the file.
func (s *Source) Format() Format { return s.format }

// DurationMs returns the playing time of the file in milliseconds.
func (s *Source) DurationMs() int64 {
	frames := s.size / int64(s.format.FrameSize())
	return frames * 1000 / int64(s.format.Rate)
}

// Extract returns the raw PCM bytes between two millisecond offsets.
func (s *Source) Extract(startMs, endMs int64) ([]byte, error) {
	if startMs < 0 || startMs >= endMs || endMs > s.DurationMs() {
		return nil, fmt.Errorf("%w: %d-%d ms of %s (%d ms)", ErrOutOfRange, startMs, endMs, s.path, s.DurationMs())
	}

	frameSize := int64(s.format.FrameSize())
	from := s.format.Frames(startMs) * frameSize
	to := min(s.format.Frames(endMs)*frameSize, s.size)

	buf := make([]byte, to-from)
	if _, err := s.file.ReadAt(buf, s.offset+from); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return buf, nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

type header struct {
	format Format
	size   int64
}

// readHeader decodes the RIFF header of r and leaves it at the first PCM byte.
func readHeader(r io.ReadSeeker) (header, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return header{}, err
	}
	if !d.IsValidFile() {
		return header{}, errors.New("not a RIFF/WAVE file")
	}
	if d.WavAudioFormat != wavFormatPCM {
		return header{}, fmt.Errorf("audio format %d is not PCM", d.WavAudioFormat)
	}
	if err := d.FwdToPCM(); err != nil {
		return header{}, err
	}
	f := Format{Rate: int(d.SampleRate), Channels: int(d.NumChans), Width: int(d.BitDepth) / 8}
	if err := f.Validate(); err != nil {
		return header{}, err
	}
	return header{format: f, size: d.PCMLen()}, nil
}

// probe reports the format of a WAV file, or ok=false when it is not PCM WAV.
func probe(path string) (Format, bool) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the fragment catalog
	if err != nil {
		return Format{}, false
	}
	defer func() { _ = f.Close() }()

	h, err := readHeader(f)
	if err != nil {
		return Format{}, false
	}
	return h.format, true
}

// EncodeWAV writes pcm as a complete WAV file to w.
func EncodeWAV(w io.WriteSeeker, pcm []byte, format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	enc := wav.NewEncoder(w, format.Rate, format.Width*8, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.Rate},
		Data:           samples(pcm, format.Width),
		SourceBitDepth: format.Width * 8,
	}
	// Write also emits the header, so it runs for empty payloads too.
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}

// WAVBytes encodes pcm into an in-memory WAV file.
func WAVBytes(pcm []byte, format Format) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	if err := EncodeWAV(ws, pcm, format); err != nil {
		return nil, err
	}
	return io.ReadAll(ws.Reader())
}

// samples unpacks little-endian PCM into one int per sample.
func samples(pcm []byte, width int) []int {
	n := len(pcm) / width
	out := make([]int, n)
	for i := range n {
		b := pcm[i*width : (i+1)*width]
		switch width {
		case 1:
			out[i] = int(b[0])
		case 2:
			out[i] = int(int16(uint16(b[0]) | uint16(b[1])<<8))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xffffff
			}
			out[i] = int(v)
		case 4:
			out[i] = int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
		}
	}
	return out
}
