package audio

import (
	"context"
	"io"
	"os"

	"github.com/alnah/go-corpus/internal/ffmpeg"
)

// commandRunner runs ffmpeg, feeding stdin and returning stdout.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)
}

// tempFileCreator creates temporary files.
type tempFileCreator interface {
	CreateTemp(dir, pattern string) (*os.File, error)
}

// fileRemover removes files.
type fileRemover interface {
	Remove(name string) error
}

// Compile-time interface verification.
var _ commandRunner = (*ffmpeg.Executor)(nil)

// --- Default implementations using real OS functions ---

// osTempFileCreator implements tempFileCreator using os.CreateTemp.
type osTempFileCreator struct{}

func (osTempFileCreator) CreateTemp(dir, pattern string) (*os.File, error) {
	return os.CreateTemp(dir, pattern)
}

// osFileRemover implements fileRemover using os.Remove.
type osFileRemover struct{}

func (osFileRemover) Remove(name string) error {
	return os.Remove(name)
}
