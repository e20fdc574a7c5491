// Package sdb writes sample databases: single files holding encoded audio
// samples with transcripts, ordered by ascending duration.
//
// Samples are staged in a temporary badger store keyed by duration so the
// final file can be written in sorted order without holding every sample
// in memory.
package sdb

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/alnah/go-corpus/internal/audio"
)

// Defaults for Options.
const (
	DefaultBucketSize      = 1 << 30
	DefaultBufferedSamples = 256
	DefaultBufferSize      = 1 << 20
)

// Memtable bounds for the staging store. Badger allocates the whole
// memtable up front, so the bucket size is clamped.
const (
	minMemTable = 4 << 20
	maxMemTable = 64 << 20
)

// TempSuffix is appended to the database path for the staging store.
const TempSuffix = ".tmp"

// Options configures a SortingWriter.
type Options struct {
	AudioType       audio.Type
	Format          audio.Format
	BucketSize      int64 // staging memory budget in bytes
	BufferedSamples int   // samples per staging batch
	BufferSize      int   // write buffer of the final file
	Logger          *slog.Logger
}

// Sample is one entry to store.
type Sample struct {
	Audio      []byte
	Transcript string
	DurationMs int64
	Meta       json.RawMessage // written to the metadata dictionary
}

// staged is the badger value of a sample.
type staged struct {
	Audio      []byte `msgpack:"audio"`
	Transcript string `msgpack:"transcript"`
	Meta       []byte `msgpack:"meta"`
}

// SortingWriter accumulates samples and writes them sorted by duration.
// It is not safe for concurrent use.
type SortingWriter struct {
	path string
	tmp  string
	opts Options

	db      *badger.DB
	batch   *badger.WriteBatch
	pending int
	seq     uint64
	meta    map[string]json.RawMessage
	done    bool
}

// Create opens a SortingWriter for path, staging into path + TempSuffix.
func Create(path string, opts Options) (*SortingWriter, error) {
	if opts.BucketSize <= 0 {
		opts.BucketSize = DefaultBucketSize
	}
	if opts.BufferedSamples <= 0 {
		opts.BufferedSamples = DefaultBufferedSamples
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tmp := path + TempSuffix
	dbOpts := badger.DefaultOptions(tmp).
		WithLogger(badgerLogger{opts.Logger}).
		WithMemTableSize(min(max(opts.BucketSize, minMemTable), maxMemTable)).
		WithNumVersionsToKeep(1).
		WithSyncWrites(false)
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("opening staging store %s: %w", tmp, err)
	}
	return &SortingWriter{
		path:  path,
		tmp:   tmp,
		opts:  opts,
		db:    db,
		batch: db.NewWriteBatch(),
		meta:  make(map[string]json.RawMessage),
	}, nil
}

// key orders samples by duration, then by insertion.
func key(durationMs int64, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, uint64(max(durationMs, 0)))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

// Add stages a sample.
func (w *SortingWriter) Add(s Sample) error {
	if w.done {
		return ErrFinalized
	}
	data, err := msgpack.Marshal(staged{Audio: s.Audio, Transcript: s.Transcript, Meta: s.Meta})
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}
	if err := w.batch.Set(key(s.DurationMs, w.seq), data); err != nil {
		return fmt.Errorf("staging sample: %w", err)
	}
	w.seq++
	w.pending++
	if w.pending >= w.opts.BufferedSamples {
		return w.flush()
	}
	return nil
}

func (w *SortingWriter) flush() error {
	if err := w.batch.Flush(); err != nil {
		return fmt.Errorf("flushing staged samples: %w", err)
	}
	w.batch = w.db.NewWriteBatch()
	w.pending = 0
	return nil
}

// Len returns the number of staged samples.
func (w *SortingWriter) Len() int { return int(w.seq) }

// Finalize writes the database file in duration order, yielding the index
// of each written sample. The staging store is removed afterwards.
// Stopping the iteration early leaves an incomplete database file.
func (w *SortingWriter) Finalize() iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		if w.done {
			yield(0, ErrFinalized)
			return
		}
		w.done = true
		defer func() { _ = w.cleanup() }()

		if err := w.batch.Flush(); err != nil {
			yield(0, fmt.Errorf("flushing staged samples: %w", err))
			return
		}
		if err := w.write(yield); err != nil {
			yield(0, err)
		}
	}
}

// errStopped marks an iteration stopped by the consumer.
var errStopped = errors.New("finalize stopped")

func (w *SortingWriter) write(yield func(int, error) bool) error {
	// #nosec G304 -- database path built by the exporter
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating %s: %w", w.path, err)
	}
	defer func() { _ = f.Close() }()

	cw := &countingWriter{w: bufio.NewWriterSize(f, w.opts.BufferSize)}
	if _, err := cw.Write(magic); err != nil {
		return err
	}
	if err := cw.block(newHeader(w.opts.AudioType, w.opts.Format)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	offsets := make([]int64, 0, w.seq)
	err = w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var s staged
			if err := msgpack.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("decoding staged sample: %w", err)
			}
			index := len(offsets)
			offsets = append(offsets, cw.n)
			if err := cw.block(Record{Audio: s.Audio, Transcript: s.Transcript}); err != nil {
				return fmt.Errorf("writing sample %d: %w", index, err)
			}
			if len(s.Meta) > 0 {
				w.meta[SampleID(w.path, index)] = s.Meta
			}
			if !yield(index, nil) {
				return errStopped
			}
		}
		return nil
	})
	if errors.Is(err, errStopped) {
		return nil
	}
	if err != nil {
		return err
	}

	indexAt := cw.n
	if err := cw.uint64(uint64(len(offsets))); err != nil {
		return err
	}
	for _, off := range offsets {
		if err := cw.uint64(uint64(off)); err != nil {
			return err
		}
	}
	if err := cw.uint64(uint64(indexAt)); err != nil {
		return err
	}
	if err := cw.w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	return f.Close()
}

// SampleID names a sample within a database file.
func SampleID(path string, index int) string {
	return fmt.Sprintf("%s:%d", path, index)
}

// Meta returns the metadata of every written sample by sample ID.
// It is complete only after Finalize.
func (w *SortingWriter) Meta() map[string]json.RawMessage {
	return w.meta
}

// Close releases the staging store without writing the database.
// It is a no-op after Finalize.
func (w *SortingWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.cleanup()
}

func (w *SortingWriter) cleanup() error {
	w.batch.Cancel()
	err := w.db.Close()
	if rerr := os.RemoveAll(w.tmp); err == nil {
		err = rerr
	}
	return err
}

// badgerLogger routes badger warnings and errors into slog.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(fmt.Sprintf(f, v...), "component", "badger") }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(fmt.Sprintf(f, v...), "component", "badger") }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
