// Package sink writes export output to a directory or a tar archive.
//
// Paths passed to a Sink are slash-separated and relative to its root.
// Sinks are not safe for concurrent use.
package sink

import (
	"errors"
	"io"
	"log/slog"

	"github.com/orcaman/writerseeker"
)

// ErrWrite indicates the sink could not store an entry.
var ErrWrite = errors.New("sink write failed")

// File is an entry being written. Closing it commits the entry.
type File interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Sink stores export output.
type Sink interface {
	// EnsureDir creates a directory and its parents once.
	EnsureDir(path string) error
	// Create opens a new entry for writing.
	Create(path string) (File, error)
	// Close flushes and releases the sink.
	Close() error
}

// memFile buffers an entry in memory and hands it to commit on Close.
type memFile struct {
	writerseeker.WriterSeeker
	commit func([]byte) error
}

func newMemFile(commit func([]byte) error) *memFile {
	return &memFile{commit: commit}
}

func (f *memFile) Close() error {
	data, err := io.ReadAll(f.Reader())
	if err != nil {
		return err
	}
	return f.commit(data)
}

// dryLog logs a skipped write with its size.
func dryLog(logger *slog.Logger, what, path string, size int) {
	logger.Info(what, "path", path, "bytes", size)
}
