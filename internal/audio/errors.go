package audio

import "errors"

// ErrInvalidWAV indicates a file is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav file")

// ErrConversionFailed indicates FFmpeg failed to convert or re-encode audio.
var ErrConversionFailed = errors.New("audio conversion failed")

// ErrOutOfRange indicates a fragment does not fit into its audio file.
var ErrOutOfRange = errors.New("fragment out of audio range")

// ErrUnsupportedFormat indicates an audio format or type this package cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported audio format")
