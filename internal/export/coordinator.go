// Package export extracts fragment audio and writes the output lists.
package export

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/progress"
	"github.com/alnah/go-corpus/internal/sink"
)

// DefaultWorkers is the default size of the conversion pool.
const DefaultWorkers = 2

// Converter prepares source audio and re-encodes extracted samples.
type Converter interface {
	Ensure(ctx context.Context, path string) (string, error)
	Release(original, converted string) error
	Reencode(ctx context.Context, pcm []byte, typ audio.Type) ([]byte, error)
	Format() audio.Format
}

// Compile-time interface verification.
var _ Converter = (*audio.Converter)(nil)

// SDBOptions configures sample database output.
type SDBOptions struct {
	AudioType       audio.Type
	BucketSize      int64
	BufferedSamples int
	Workers         int // re-encoding pool, default runtime.NumCPU()
}

// Options is the immutable configuration of an export run.
type Options struct {
	// DryRun converts and extracts audio but writes nothing.
	DryRun bool
	// FastDryRun additionally skips audio loading, using empty payloads.
	FastDryRun bool
	Workers    int
	NoMeta     bool
	Pretty     bool
	BufferSize int
	// TargetDir receives sample databases.
	TargetDir string
	SDB       SDBOptions
}

func (o Options) dryRun() bool { return o.DryRun || o.FastDryRun }

// Coordinator runs the export pipeline.
type Coordinator struct {
	opts     Options
	conv     Converter
	sink     sink.Sink
	progress *progress.Reporter
	logger   *slog.Logger

	stat  fileStatter
	files fileWriter
}

// New creates a Coordinator. The sink may be nil for sample database output.
func New(opts Options, conv Converter, out sink.Sink, reporter *progress.Reporter, logger *slog.Logger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.SDB.Workers <= 0 {
		opts.SDB.Workers = runtime.NumCPU()
	}
	return &Coordinator{
		opts:     opts,
		conv:     conv,
		sink:     out,
		progress: reporter,
		logger:   logger,
		stat:     osFS{},
		files:    osFS{},
	}
}

// Extracted is the audio of one fragment as raw canonical PCM.
type Extracted struct {
	Audio    []byte
	Fragment *fragment.Fragment
}

// converted maps a source file to its canonical copy.
type converted struct {
	original string
	path     string
}

// Samples extracts the audio of every fragment.
//
// Source files are converted by a pool of Options.Workers goroutines and
// consumed in completion order, so samples of different files interleave
// nondeterministically. Within a file, samples come in ascending start order.
// The first error ends the sequence.
func (c *Coordinator) Samples(ctx context.Context, frags []*fragment.Fragment) iter.Seq2[Extracted, error] {
	return func(yield func(Extracted, error) bool) {
		order, byFile := fragment.Engroup(frags, func(f *fragment.Fragment) string { return f.AudioPath })

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		tasks := make(chan string)
		results := make(chan converted)

		g.Go(func() error {
			defer close(tasks)
			for _, path := range order {
				select {
				case tasks <- path:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
		for range c.opts.Workers {
			g.Go(func() error {
				for path := range tasks {
					conv, err := c.load(gctx, path)
					if err != nil {
						return err
					}
					select {
					case results <- converted{original: path, path: conv}:
					case <-gctx.Done():
						_ = c.conv.Release(path, conv)
						return gctx.Err()
					}
				}
				return nil
			})
		}

		var poolErr error
		go func() {
			poolErr = g.Wait()
			close(results)
		}()

		// drain releases converted copies nobody will read.
		drain := func() {
			cancel()
			for r := range results {
				_ = c.conv.Release(r.original, r.path)
			}
		}

		for r := range results {
			file := byFile[r.original]
			slices.SortStableFunc(file, func(a, b *fragment.Fragment) int {
				return cmp.Compare(a.Start, b.Start)
			})
			if !c.extract(r, file, yield) {
				drain()
				return
			}
		}
		if poolErr != nil {
			yield(Extracted{}, poolErr)
		}
	}
}

// load prepares one source file for extraction.
func (c *Coordinator) load(ctx context.Context, path string) (string, error) {
	if c.opts.FastDryRun {
		if _, err := c.stat.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", fragment.ErrFileNotFound, path)
		}
		c.logger.Info("Would load file", "path", path)
		return path, nil
	}
	return c.conv.Ensure(ctx, path)
}

// extract yields the samples of one converted file.
// It returns false when iteration must stop.
func (c *Coordinator) extract(r converted, file []*fragment.Fragment, yield func(Extracted, error) bool) bool {
	if c.opts.FastDryRun {
		for _, f := range file {
			if !yield(Extracted{Fragment: f}, nil) {
				return false
			}
		}
		return true
	}

	defer func() {
		if err := c.conv.Release(r.original, r.path); err != nil {
			c.logger.Warn("could not remove converted audio", "path", r.path, "error", err)
		}
	}()

	src, err := audio.Open(r.path)
	if err != nil {
		yield(Extracted{}, fmt.Errorf("%w: %v", ErrExtraction, err))
		return false
	}
	defer func() { _ = src.Close() }()

	for _, f := range file {
		pcm, err := src.Extract(f.Start, f.End)
		if err != nil {
			yield(Extracted{}, extractionError(f, err))
			return false
		}
		if !yield(Extracted{Audio: pcm, Fragment: f}, nil) {
			return false
		}
	}
	return true
}

// extractionError attaches the full fragment record to err.
func extractionError(f *fragment.Fragment, err error) error {
	rec, jerr := json.MarshalIndent(f, "", "    ")
	if jerr != nil {
		rec = []byte(f.AudioPath)
	}
	return fmt.Errorf("%w: problem getting audio for fragment\n%s\n%v", ErrExtraction, rec, err)
}
