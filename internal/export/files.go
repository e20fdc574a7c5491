package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/sink"
)

// SamplePath returns the sink path of the index-th sample of a list.
func SamplePath(list string, index int) string {
	return fmt.Sprintf("%s/sample-%010d.wav", list, index)
}

var csvHeader = []string{"wav_filename", "wav_filesize", "transcript"}

// ExportFiles writes every sample as a WAV file through the sink, followed by
// a ".meta" and a ".csv" manifest per list. The sink is not closed.
func (c *Coordinator) ExportFiles(ctx context.Context, lists *Lists, frags []*fragment.Fragment) error {
	format := c.conv.Format()

	task := c.progress.Track("Exporting samples", len(frags))
	for ex, err := range c.Samples(ctx, frags) {
		if err != nil {
			return err
		}
		list, err := lists.Get(ex.Fragment.ListName)
		if err != nil {
			return err
		}
		p := SamplePath(list.Name, len(list.Entries))
		size, err := c.writeSample(p, list.Name, ex.Audio, format)
		if err != nil {
			return err
		}
		list.Entries = append(list.Entries, Entry{Path: p, Size: size, Fragment: ex.Fragment})
		task.Increment()
	}
	task.Done()

	task = c.progress.Track("Writing lists", lists.Len())
	for _, name := range lists.Names() {
		list, err := lists.Get(name)
		if err != nil {
			return err
		}
		if !c.opts.NoMeta {
			if err := c.writeMeta(list); err != nil {
				return err
			}
		}
		if err := c.writeCSV(list); err != nil {
			return err
		}
		task.Increment()
	}
	task.Done()
	return nil
}

func (c *Coordinator) writeSample(p, dir string, pcm []byte, format audio.Format) (int64, error) {
	if err := c.sink.EnsureDir(dir); err != nil {
		return 0, err
	}
	f, err := c.sink.Create(p)
	if err != nil {
		return 0, err
	}
	if err := audio.EncodeWAV(f, pcm, format); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("%w: %s: %v", sink.ErrWrite, p, err)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("%w: %s: %v", sink.ErrWrite, p, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return size, nil
}

// marshalMeta encodes a metadata map, indented when Pretty is set.
func (c *Coordinator) marshalMeta(v any) ([]byte, error) {
	if c.opts.Pretty {
		return json.MarshalIndent(v, "", "    ")
	}
	return json.Marshal(v)
}

func (c *Coordinator) writeMeta(list *List) error {
	entries := make(map[string]*fragment.Fragment, len(list.Entries))
	for _, e := range list.Entries {
		entries[e.Path] = e.Fragment
	}
	data, err := c.marshalMeta(entries)
	if err != nil {
		return fmt.Errorf("encoding meta of %s: %w", list.Name, err)
	}
	return c.writeEntry(list.Name+".meta", func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (c *Coordinator) writeCSV(list *List) error {
	return c.writeEntry(list.Name+".csv", func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, e := range list.Entries {
			if err := cw.Write([]string{e.Path, strconv.FormatInt(e.Size, 10), e.Fragment.Aligned}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// writeEntry writes one manifest file through the sink.
func (c *Coordinator) writeEntry(p string, write func(io.Writer) error) error {
	f, err := c.sink.Create(p)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s: %v", sink.ErrWrite, p, err)
	}
	return f.Close()
}
