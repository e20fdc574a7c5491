package sink

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// DefaultBufferSize is the write buffer in front of the archive file.
const DefaultBufferSize = 1 << 20

// Tar writes entries into a tar archive.
// Each entry is buffered in memory until closed, since the tar header
// needs the entry size up front.
type Tar struct {
	path    string
	dryRun  bool
	logger  *slog.Logger
	modTime time.Time

	file    *os.File
	buf     *bufio.Writer
	tw      *tar.Writer
	created map[string]bool
}

// NewTar creates the archive at path behind a write buffer of bufferSize bytes.
// In dry run mode the archive is not created and every entry is logged instead.
func NewTar(path string, bufferSize int, dryRun bool, logger *slog.Logger) (*Tar, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	t := &Tar{
		path:    path,
		dryRun:  dryRun,
		logger:  logger,
		modTime: time.Now(),
		created: make(map[string]bool),
	}

	var w io.Writer = io.Discard
	if !dryRun {
		// #nosec G304 -- target archive chosen by the user
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
		if err != nil {
			return nil, fmt.Errorf("%w: creating archive: %v", ErrWrite, err)
		}
		t.file = f
		w = f
	} else {
		logger.Info("Would create archive", "path", path)
	}
	t.buf = bufio.NewWriterSize(w, bufferSize)
	t.tw = tar.NewWriter(t.buf)
	return t, nil
}

func (t *Tar) EnsureDir(path string) error {
	if t.created[path] {
		return nil
	}
	if t.dryRun {
		t.logger.Info("Would add directory", "archive", t.path, "path", path)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     path + "/",
		Mode:     dirPerm,
		ModTime:  t.modTime,
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: adding directory %s: %v", ErrWrite, path, err)
	}
	t.created[path] = true
	return nil
}

func (t *Tar) Create(path string) (File, error) {
	return newMemFile(func(data []byte) error {
		if t.dryRun {
			dryLog(t.logger, "Would add file", path, len(data))
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     path,
			Mode:     filePerm,
			Size:     int64(len(data)),
			ModTime:  t.modTime,
		}
		if err := t.tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%w: adding %s: %v", ErrWrite, path, err)
		}
		if _, err := t.tw.Write(data); err != nil {
			return fmt.Errorf("%w: adding %s: %v", ErrWrite, path, err)
		}
		return nil
	}), nil
}

// Close writes the archive trailer, flushes the buffer and closes the file.
func (t *Tar) Close() error {
	err := t.tw.Close()
	if ferr := t.buf.Flush(); err == nil {
		err = ferr
	}
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("%w: closing archive: %v", ErrWrite, err)
	}
	return nil
}
