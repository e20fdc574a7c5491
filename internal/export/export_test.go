package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/export"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/sdb"
	"github.com/alnah/go-corpus/internal/sink"
	"github.com/alnah/go-corpus/internal/split"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// passConverter treats every file as canonical.
type passConverter struct {
	mu       sync.Mutex
	released []string
	copyTo   string // when set, Ensure returns a copy in this directory
}

func (p *passConverter) Ensure(_ context.Context, path string) (string, error) {
	if p.copyTo == "" {
		return path, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	out := filepath.Join(p.copyTo, "conv-"+filepath.Base(path))
	return out, os.WriteFile(out, data, 0o600)
}

func (p *passConverter) Release(original, converted string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, converted)
	if converted != original {
		return os.Remove(converted)
	}
	return nil
}

func (p *passConverter) Reencode(_ context.Context, pcm []byte, typ audio.Type) ([]byte, error) {
	return append([]byte(string(typ)+":"), pcm...), nil
}

func (p *passConverter) Format() audio.Format { return audio.DefaultFormat }

// quietLogger returns a text logger without timestamps.
func quietLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})), &buf
}

// sourceWAV writes ms milliseconds of canonical audio and returns its path.
func sourceWAV(t *testing.T, dir, name string, ms int) string {
	t.Helper()
	f := audio.DefaultFormat
	pcm := make([]byte, int(f.Frames(int64(ms)))*f.FrameSize())
	for i := range pcm {
		pcm[i] = byte(i)
	}
	data, err := audio.WAVBytes(pcm, f)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func frag(audioPath string, start, end int64, text, list string) *fragment.Fragment {
	return &fragment.Fragment{AudioPath: audioPath, Start: start, End: end, Aligned: text, ListName: list}
}

func newLists(t *testing.T, target string, sdbMode bool, allocs ...split.Allocation) *export.Lists {
	t.Helper()
	logger, _ := quietLogger()
	l := export.NewLists(export.ListsOptions{TargetDir: target, SDB: sdbMode}, logger)
	if err := l.AssignAll(allocs); err != nil {
		t.Fatalf("AssignAll() error = %v", err)
	}
	return l
}

func treeSize(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(p string, _ os.DirEntry, err error) error {
		if p != dir {
			n++
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

func TestLists_AssignStampsListName(t *testing.T) {
	t.Parallel()

	logger, buf := quietLogger()
	l := export.NewLists(export.ListsOptions{TargetDir: t.TempDir()}, logger)
	frags := []*fragment.Fragment{{Start: 0, End: 1000}, {Start: 0, End: 500}}
	if err := l.Assign(split.Allocation{Name: "good", Fragments: frags}); err != nil {
		t.Fatal(err)
	}
	for _, f := range frags {
		if f.ListName != "good" {
			t.Errorf("ListName = %q, want good", f.ListName)
		}
	}
	if !strings.Contains(buf.String(), `msg="Built set" name=good samples=2 duration=00:01.500`) {
		t.Errorf("log = %q", buf.String())
	}
}

func TestLists_ExistingOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing string
		sdb      bool
		force    bool
		wantErr  bool
	}{
		{name: "list directory", existing: "good", wantErr: true},
		{name: "csv", existing: "good.csv", wantErr: true},
		{name: "forced", existing: "good.csv", force: true},
		{name: "sdb", existing: "good.sdb", sdb: true, wantErr: true},
		{name: "sdb staging", existing: "good.sdb.tmp", sdb: true, wantErr: true},
		{name: "csv ignored in sdb mode", existing: "good.csv", sdb: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := t.TempDir()
			if err := os.WriteFile(filepath.Join(target, tt.existing), nil, 0o600); err != nil {
				t.Fatal(err)
			}
			logger, _ := quietLogger()
			l := export.NewLists(export.ListsOptions{TargetDir: target, SDB: tt.sdb, Force: tt.force}, logger)
			err := l.Assign(split.Allocation{Name: "good"})
			if tt.wantErr != errors.Is(err, export.ErrOutputExists) {
				t.Errorf("Assign() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Samples
// ---------------------------------------------------------------------------

func TestSamples_AscendingWithinFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := sourceWAV(t, dir, "a.wav", 1000)
	b := sourceWAV(t, dir, "b.wav", 1000)
	frags := []*fragment.Fragment{
		frag(a, 600, 900, "a3", "x"),
		frag(b, 100, 200, "b1", "x"),
		frag(a, 0, 300, "a1", "x"),
		frag(a, 300, 600, "a2", "x"),
	}
	logger, _ := quietLogger()
	c := export.New(export.Options{Workers: 2}, &passConverter{}, nil, nil, logger)

	var order []string
	for ex, err := range c.Samples(context.Background(), frags) {
		if err != nil {
			t.Fatal(err)
		}
		if want := int(ex.Fragment.End-ex.Fragment.Start) * 32; len(ex.Audio) != want {
			t.Errorf("%s: %d bytes, want %d", ex.Fragment.Aligned, len(ex.Audio), want)
		}
		if strings.HasPrefix(ex.Fragment.Aligned, "a") {
			order = append(order, ex.Fragment.Aligned)
		}
	}
	if strings.Join(order, ",") != "a1,a2,a3" {
		t.Errorf("order within file = %v", order)
	}
}

func TestSamples_ExtractionErrorCarriesFragment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := sourceWAV(t, dir, "a.wav", 500)
	logger, _ := quietLogger()
	c := export.New(export.Options{}, &passConverter{}, nil, nil, logger)

	var gotErr error
	for _, err := range c.Samples(context.Background(), []*fragment.Fragment{frag(a, 100, 900, "too long", "x")}) {
		if err != nil {
			gotErr = err
			break
		}
	}
	if !errors.Is(gotErr, export.ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", gotErr)
	}
	if !strings.Contains(gotErr.Error(), `"aligned": "too long"`) {
		t.Errorf("error does not carry the fragment: %v", gotErr)
	}
}

func TestSamples_ReleasesConvertedCopies(t *testing.T) {
	t.Parallel()

	src, work := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 500)
	b := sourceWAV(t, src, "b.wav", 500)
	conv := &passConverter{copyTo: work}
	logger, _ := quietLogger()
	c := export.New(export.Options{Workers: 2}, conv, nil, nil, logger)

	n := 0
	for _, err := range c.Samples(context.Background(), []*fragment.Fragment{frag(a, 0, 100, "", "x"), frag(b, 0, 100, "", "x")}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("yielded %d samples, want 2", n)
	}
	if len(conv.released) != 2 {
		t.Errorf("released %v, want 2 copies", conv.released)
	}
	if got := treeSize(t, work); got != 0 {
		t.Errorf("%d converted copies left behind", got)
	}
}

func TestSamples_FastDryRunMissingFile(t *testing.T) {
	t.Parallel()

	logger, _ := quietLogger()
	c := export.New(export.Options{FastDryRun: true}, &passConverter{}, nil, nil, logger)
	missing := filepath.Join(t.TempDir(), "gone.wav")

	var gotErr error
	for _, err := range c.Samples(context.Background(), []*fragment.Fragment{frag(missing, 0, 100, "", "x")}) {
		gotErr = err
	}
	if !errors.Is(gotErr, fragment.ErrFileNotFound) {
		t.Errorf("error = %v, want ErrFileNotFound", gotErr)
	}
}

// ---------------------------------------------------------------------------
// ExportFiles
// ---------------------------------------------------------------------------

func TestExportFiles_Directory(t *testing.T) {
	t.Parallel()

	src, target := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 1000)
	good := []*fragment.Fragment{frag(a, 0, 250, "hello", "")}
	other := []*fragment.Fragment{frag(a, 250, 500, "big, world", ""), frag(a, 500, 1000, "bye", "")}
	lists := newLists(t, target, false,
		split.Allocation{Name: "good", Fragments: good},
		split.Allocation{Name: "other", Fragments: other},
	)

	logger, _ := quietLogger()
	c := export.New(export.Options{}, &passConverter{}, sink.NewDir(target, false, logger), nil, logger)
	if err := c.ExportFiles(context.Background(), lists, append(good, other...)); err != nil {
		t.Fatalf("ExportFiles() error = %v", err)
	}

	f, err := os.Open(filepath.Join(target, "other.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != "wav_filename,wav_filesize,transcript" {
		t.Fatalf("csv rows = %v", rows)
	}
	if rows[1][0] != "other/sample-0000000000.wav" || rows[1][2] != "big, world" {
		t.Errorf("first row = %v", rows[1])
	}
	st, err := os.Stat(filepath.Join(target, "other", "sample-0000000001.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if rows[2][1] != fmt.Sprint(st.Size()) || st.Size() != 44+500*32 {
		t.Errorf("size column = %s, file = %d", rows[2][1], st.Size())
	}

	data, err := os.ReadFile(filepath.Join(target, "good.meta"))
	if err != nil {
		t.Fatal(err)
	}
	var meta map[string]map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if rec := meta["good/sample-0000000000.wav"]; rec["aligned"] != "hello" || rec["list_name"] != "good" {
		t.Errorf("meta = %v", meta)
	}
}

func TestExportFiles_NoMeta(t *testing.T) {
	t.Parallel()

	src, target := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 500)
	frags := []*fragment.Fragment{frag(a, 0, 100, "x", "")}
	lists := newLists(t, target, false, split.Allocation{Name: "good", Fragments: frags})

	logger, _ := quietLogger()
	c := export.New(export.Options{NoMeta: true}, &passConverter{}, sink.NewDir(target, false, logger), nil, logger)
	if err := c.ExportFiles(context.Background(), lists, frags); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(target, "good.meta")); !os.IsNotExist(err) {
		t.Errorf("meta written despite NoMeta: %v", err)
	}
}

func TestExportFiles_Tar(t *testing.T) {
	t.Parallel()

	src, target := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 500)
	frags := []*fragment.Fragment{frag(a, 0, 100, "x", "")}
	lists := newLists(t, "", false, split.Allocation{Name: "good", Fragments: frags})

	logger, _ := quietLogger()
	archive := filepath.Join(target, "corpus.tar")
	tr, err := sink.NewTar(archive, 0, false, logger)
	if err != nil {
		t.Fatal(err)
	}
	c := export.New(export.Options{}, &passConverter{}, tr, nil, logger)
	if err := c.ExportFiles(context.Background(), lists, frags); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(archive)
	if err != nil || st.Size() == 0 {
		t.Errorf("archive = %v, %v", st, err)
	}
}

func TestExportFiles_DryRunIsRepeatableAndWritesNothing(t *testing.T) {
	t.Parallel()

	for _, opts := range []export.Options{{DryRun: true}, {FastDryRun: true}} {
		src := t.TempDir()
		a := sourceWAV(t, src, "a.wav", 1000)
		b := sourceWAV(t, src, "b.wav", 1000)
		target := t.TempDir()

		run := func() (string, int) {
			frags := []*fragment.Fragment{frag(a, 0, 300, "one", ""), frag(b, 0, 400, "two", ""), frag(a, 300, 600, "three", "")}
			logger, buf := quietLogger()
			lists := export.NewLists(export.ListsOptions{TargetDir: target}, logger)
			if err := lists.AssignAll(split.Whole(frags)); err != nil {
				t.Fatal(err)
			}
			opts.Workers = 1
			c := export.New(opts, &passConverter{}, sink.NewDir(target, true, logger), nil, logger)
			if err := c.ExportFiles(context.Background(), lists, frags); err != nil {
				t.Fatalf("ExportFiles() error = %v", err)
			}
			return buf.String(), treeSize(t, target)
		}

		log1, n1 := run()
		log2, n2 := run()
		if n1 != 0 || n2 != 0 {
			t.Errorf("%+v: dry run created %d and %d entries", opts, n1, n2)
		}
		if log1 != log2 {
			t.Errorf("%+v: dry run logs differ:\n%s\n---\n%s", opts, log1, log2)
		}
		if !strings.Contains(log1, "Would write file") {
			t.Errorf("%+v: log = %q", opts, log1)
		}
		if opts.FastDryRun && !strings.Contains(log1, "Would load file") {
			t.Errorf("fast dry run did not log loads: %q", log1)
		}
	}
}

// ---------------------------------------------------------------------------
// ExportSDB
// ---------------------------------------------------------------------------

func TestExportSDB(t *testing.T) {
	t.Parallel()

	src, target := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 1000)
	frags := []*fragment.Fragment{frag(a, 0, 500, "long", ""), frag(a, 500, 600, "short", "")}
	lists := newLists(t, target, true, split.Allocation{Name: "good", Fragments: frags})

	logger, _ := quietLogger()
	opts := export.Options{TargetDir: target, SDB: export.SDBOptions{AudioType: audio.TypeWAV, Workers: 2}}
	c := export.New(opts, &passConverter{}, nil, nil, logger)
	if err := c.ExportSDB(context.Background(), lists, frags); err != nil {
		t.Fatalf("ExportSDB() error = %v", err)
	}

	contents, err := sdb.ReadFile(filepath.Join(target, "good.sdb"))
	if err != nil {
		t.Fatal(err)
	}
	if len(contents.Records) != 2 || contents.Records[0].Transcript != "short" {
		t.Fatalf("records = %+v", contents.Records)
	}
	if !bytes.HasPrefix(contents.Records[0].Audio, []byte("wav:")) {
		t.Errorf("sample was not re-encoded")
	}

	data, err := os.ReadFile(filepath.Join(target, "good.meta"))
	if err != nil {
		t.Fatal(err)
	}
	var meta map[string]map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if len(meta) != 2 {
		t.Errorf("meta entries = %d, want 2", len(meta))
	}
	if _, err := os.Stat(filepath.Join(target, "good.sdb.tmp")); !os.IsNotExist(err) {
		t.Errorf("staging store left behind: %v", err)
	}
}

func TestExportSDB_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	src, target := t.TempDir(), t.TempDir()
	a := sourceWAV(t, src, "a.wav", 1000)
	frags := []*fragment.Fragment{frag(a, 0, 500, "long", "")}
	lists := newLists(t, target, true, split.Allocation{Name: "good", Fragments: frags})

	logger, buf := quietLogger()
	opts := export.Options{DryRun: true, TargetDir: target, SDB: export.SDBOptions{AudioType: audio.TypeOpus}}
	c := export.New(opts, &passConverter{}, nil, nil, logger)
	if err := c.ExportSDB(context.Background(), lists, frags); err != nil {
		t.Fatal(err)
	}
	if n := treeSize(t, target); n != 0 {
		t.Errorf("dry run created %d entries", n)
	}
	for _, want := range []string{"Would create SDB", "Would write meta file"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log missing %q: %s", want, buf.String())
		}
	}
}
