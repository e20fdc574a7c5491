// Package format renders and parses durations and byte sizes for log lines and flags.
package format

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrInvalidSize indicates a byte size string that cannot be parsed.
var ErrInvalidSize = errors.New("invalid size")

// Duration formats a duration as HH:MM:SS.mmm or MM:SS.mmm.
func Duration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
	}
	return fmt.Sprintf("%02d:%02d.%03d", m, s, ms)
}

// Size formats a size in bytes for human display, e.g. "1.0 MB".
func Size(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// ParseSize parses sizes like "1MB", "512 KiB" or "4096".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidSize, s)
	}
	return int64(n), nil
}
