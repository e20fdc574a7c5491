package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Dir writes entries as files below a root directory.
type Dir struct {
	root    string
	dryRun  bool
	logger  *slog.Logger
	created map[string]bool
}

// NewDir creates a directory sink rooted at root.
// In dry run mode nothing is created and every write is logged instead.
func NewDir(root string, dryRun bool, logger *slog.Logger) *Dir {
	return &Dir{root: root, dryRun: dryRun, logger: logger, created: make(map[string]bool)}
}

func (d *Dir) EnsureDir(path string) error {
	if d.created[path] {
		return nil
	}
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if d.dryRun {
		d.logger.Info("Would create directory", "path", full)
	} else if err := os.MkdirAll(full, dirPerm); err != nil {
		return fmt.Errorf("%w: creating directory %s: %v", ErrWrite, full, err)
	}
	d.created[path] = true
	return nil
}

func (d *Dir) Create(path string) (File, error) {
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if d.dryRun {
		return newMemFile(func(data []byte) error {
			dryLog(d.logger, "Would write file", full, len(data))
			return nil
		}), nil
	}
	// #nosec G304 -- path is built by the exporter below the target root
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return f, nil
}

func (d *Dir) Close() error { return nil }
