package export

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/sdb"
)

const metaPerm = 0o640

// ExportSDB writes one sorted sample database per list into Options.TargetDir.
// Samples are re-encoded to the configured audio type on a pool of
// SDB.Workers goroutines, staged, and written sorted by duration when each
// database is finalized. A ".meta" file per list holds the sample metadata.
func (c *Coordinator) ExportSDB(ctx context.Context, lists *Lists, frags []*fragment.Fragment) (err error) {
	dry := c.opts.dryRun()

	writers := make(map[string]*sdb.SortingWriter, lists.Len())
	defer func() {
		for _, w := range writers {
			if cerr := w.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}
	}()
	for _, name := range lists.Names() {
		p := c.sdbPath(name)
		if dry {
			c.logger.Info("Would create SDB", "path", p)
			continue
		}
		c.logger.Info("Creating SDB", "path", p)
		w, err := sdb.Create(p, sdb.Options{
			AudioType:       c.opts.SDB.AudioType,
			Format:          c.conv.Format(),
			BucketSize:      c.opts.SDB.BucketSize,
			BufferedSamples: c.opts.SDB.BufferedSamples,
			BufferSize:      c.opts.BufferSize,
			Logger:          c.logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		writers[name] = w
	}

	counts := make(map[string]int, lists.Len())
	task := c.progress.Track("Exporting samples", len(frags))
	for ex, err := range c.encoded(ctx, frags) {
		if err != nil {
			return err
		}
		task.Increment()
		if dry {
			continue
		}
		f := ex.Fragment
		w, ok := writers[f.ListName]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownList, f.ListName)
		}
		meta, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encoding fragment meta: %w", err)
		}
		if err := w.Add(sdb.Sample{
			Audio:      ex.Audio,
			Transcript: f.Aligned,
			DurationMs: f.End - f.Start,
			Meta:       meta,
		}); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDatabase, f.ListName, err)
		}
		counts[f.ListName]++
	}
	task.Done()

	for _, name := range lists.Names() {
		metaPath := filepath.Join(c.opts.TargetDir, name+".meta")
		if dry {
			if !c.opts.NoMeta {
				c.logger.Info("Would write meta file", "path", metaPath)
			}
			continue
		}
		w := writers[name]
		task := c.progress.Track("Finalizing "+name, counts[name])
		for _, err := range w.Finalize() {
			if err != nil {
				return fmt.Errorf("%w: finalizing %s: %v", ErrDatabase, name, err)
			}
			task.Increment()
		}
		task.Done()

		if c.opts.NoMeta {
			continue
		}
		c.logger.Info("Writing meta file", "path", metaPath)
		data, err := c.marshalMeta(w.Meta())
		if err != nil {
			return fmt.Errorf("encoding meta of %s: %w", name, err)
		}
		if err := c.files.WriteFile(metaPath, data, metaPerm); err != nil {
			return fmt.Errorf("writing %s: %w", metaPath, err)
		}
	}
	return nil
}

func (c *Coordinator) sdbPath(list string) string {
	return filepath.Join(c.opts.TargetDir, list+".sdb")
}

// encoded re-encodes extracted samples on the SDB worker pool.
// Output order follows completion, not input.
func (c *Coordinator) encoded(ctx context.Context, frags []*fragment.Fragment) iter.Seq2[Extracted, error] {
	return func(yield func(Extracted, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		jobs := make(chan Extracted, c.opts.SDB.Workers)
		out := make(chan Extracted, c.opts.SDB.Workers)

		g.Go(func() error {
			defer close(jobs)
			for ex, err := range c.Samples(gctx, frags) {
				if err != nil {
					return err
				}
				select {
				case jobs <- ex:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
		var workers sync.WaitGroup
		for range c.opts.SDB.Workers {
			workers.Add(1)
			g.Go(func() error {
				defer workers.Done()
				for ex := range jobs {
					if !c.opts.FastDryRun {
						data, err := c.conv.Reencode(gctx, ex.Audio, c.opts.SDB.AudioType)
						if err != nil {
							return err
						}
						ex.Audio = data
					}
					select {
					case out <- ex:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		go func() {
			workers.Wait()
			close(out)
		}()

		for ex := range out {
			if !yield(ex, nil) {
				cancel()
				for range out {
				}
				_ = g.Wait()
				return
			}
		}
		if err := g.Wait(); err != nil {
			yield(Extracted{}, err)
		}
	}
}
