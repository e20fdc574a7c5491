package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/config"
	"github.com/alnah/go-corpus/internal/debias"
	"github.com/alnah/go-corpus/internal/export"
	"github.com/alnah/go-corpus/internal/expr"
	"github.com/alnah/go-corpus/internal/format"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/logging"
	"github.com/alnah/go-corpus/internal/partition"
	"github.com/alnah/go-corpus/internal/progress"
	"github.com/alnah/go-corpus/internal/sink"
	"github.com/alnah/go-corpus/internal/split"
)

// Flag defaults.
const (
	defaultBuffer       = "1MB"
	defaultBucketSize   = "1GB"
	defaultSDBAudioType = string(audio.TypeOpus)
)

// exportFlags holds raw flag values as typed by the user.
type exportFlags struct {
	audio, aligned string
	catalog        string
	ignoreMissing  bool

	filter   string
	criteria string

	debias      []string
	sigmaFactor float64
	partitions  []string

	split        bool
	splitField   string
	dropMultiple bool
	dropUnknown  bool
	assign       [len(split.Sets)]string
	splitSeed    int64
	seedSet      bool

	targetDir, targetTar string

	sdb                bool
	sdbBucketSize      string
	sdbWorkers         int
	sdbBufferedSamples int
	sdbAudioType       string

	buffer                string
	force, noMeta, pretty bool
	rate, channels, width int
	workers               int

	dryRun, dryRunFast bool
	noProgress         bool
	progressInterval   time.Duration

	logLevel, logFormat, logFile string
}

// exportOptions is the validated, immutable configuration of one export run.
type exportOptions struct {
	audio, aligned string
	catalog        string
	ignoreMissing  bool

	filter   *expr.Program
	criteria *expr.Program

	debias      []string
	sigmaFactor float64
	partitions  partition.Spec

	split   bool
	grouped split.GroupedOptions
	seed    *int64

	targetDir, targetTar string
	force                bool
	sdb                  bool

	format     audio.Format
	export     export.Options
	noProgress bool
	interval   time.Duration
	log        logging.Config
}

// ExportCmd creates the export command.
// The env parameter provides injectable dependencies for testing.
func ExportCmd(env *Env) *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export aligned speech samples",
		Long: `Export aligned speech samples into train/dev/test corpora.

Fragments are loaded from alignment files, filtered and scored with jq
expressions, debiased per meta field, partitioned by quality and optionally
split into train, dev and test sets. Samples are written as WAV files with
CSV manifests into a directory or tar archive, or into sorted sample
databases.

Expressions see the alignment record as "." and each of its fields as a
variable, e.g. '$cer > 30' or '100 - $cer'.

Defaults for target-dir, workers, buffer, sdb-audio-type and log-level are
read from the config file (see "corpus config").`,
		Example: `  corpus export --audio talk.mp3 --aligned talk.aligned --target-dir out
  corpus export --catalog all.catalog --filter '$cer > 30' --criteria '100 - $cer' \
      --partition 90:good --partition 60:fair --split --split-field speaker --target-dir out
  corpus export --catalog all.catalog --target-dir out --sdb --sdb-audio-type wav
  corpus export --catalog all.catalog --target-tar corpus.tar --dry-run-fast`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.ConfigLoader.Load()
			if err != nil {
				fmt.Fprintf(env.Stderr, "Warning: failed to load config: %v\n", err)
			}
			if err := applyConfig(cmd.Flags(), cfg); err != nil {
				return err
			}
			f.seedSet = cmd.Flags().Changed("split-seed")
			opts, err := parseExportOptions(f)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), env, opts)
		},
	}

	fl := cmd.Flags()
	fl.SortFlags = false

	fl.StringVar(&f.audio, "audio", "", `Audio file to take as input (requires --aligned)`)
	fl.StringVar(&f.aligned, "aligned", "", `Alignment file to take as input (requires --audio)`)
	fl.StringVar(&f.catalog, "catalog", "", `Catalog file listing audio and alignment file pairs`)
	fl.BoolVar(&f.ignoreMissing, "ignore-missing", false, "Skip catalog entries with missing files")

	fl.StringVar(&f.filter, "filter", "", "jq expression; samples for which it is truthy are dropped")
	fl.StringVar(&f.criteria, "criteria", expr.DefaultCriteria, "jq expression computing a sample's quality")

	fl.StringArrayVar(&f.debias, "debias", nil, `Meta field to cap group sizes by (repeatable, e.g. "speaker")`)
	fl.Float64Var(&f.sigmaFactor, "debias-sigma-factor", debias.DefaultSigmaFactor, "Standard deviation factor of the group size cap")
	fl.StringArrayVar(&f.partitions, "partition", nil, `Quality partition "<threshold>:<name>" (repeatable); lower qualities go to "other"`)

	fl.BoolVar(&f.split, "split", false, "Split each partition into train, dev and test sets")
	fl.StringVar(&f.splitField, "split-field", "", `Meta field whose groups are kept within one set (e.g. "speaker")`)
	fl.BoolVar(&f.dropMultiple, "split-drop-multiple", false, "Drop samples with several --split-field values")
	fl.BoolVar(&f.dropUnknown, "split-drop-unknown", false, "Drop samples without a --split-field value")
	for _, s := range split.Sets {
		fl.StringVar(&f.assign[s], "assign-"+s.String(), "",
			fmt.Sprintf("Comma separated --split-field values to put into set %q", s))
	}
	fl.Int64Var(&f.splitSeed, "split-seed", 0, "Random seed for set splitting")

	fl.StringVar(&f.targetDir, "target-dir", "", "Existing directory receiving the sets")
	fl.StringVar(&f.targetTar, "target-tar", "", "Tar archive receiving the sets")
	fl.BoolVar(&f.sdb, "sdb", false, "Write sample databases instead of CSV and WAV files (requires --target-dir)")
	fl.StringVar(&f.sdbBucketSize, "sdb-bucket-size", defaultBucketSize, "Memory budget for sorting sample databases")
	fl.IntVar(&f.sdbWorkers, "sdb-workers", 0, "Sample database encoding workers (default: number of CPUs)")
	fl.IntVar(&f.sdbBufferedSamples, "sdb-buffered-samples", 0, "Samples buffered per batch while finalizing")
	fl.StringVar(&f.sdbAudioType, "sdb-audio-type", defaultSDBAudioType, "Audio representation inside sample databases: opus, wav")

	fl.StringVar(&f.buffer, "buffer", defaultBuffer, "Write buffer size")
	fl.BoolVar(&f.force, "force", false, "Overwrite existing outputs")
	fl.BoolVar(&f.noMeta, "no-meta", false, "Do not write meta data files")
	fl.BoolVar(&f.pretty, "pretty", false, "Write indented JSON")
	fl.IntVar(&f.rate, "rate", audio.DefaultFormat.Rate, "Sample rate of exported audio")
	fl.IntVar(&f.channels, "channels", audio.DefaultFormat.Channels, "Channel count of exported audio")
	fl.IntVar(&f.width, "width", audio.DefaultFormat.Width, "Sample width of exported audio in bytes")
	fl.IntVar(&f.workers, "workers", export.DefaultWorkers, "Workers loading and converting audio files")

	fl.BoolVar(&f.dryRun, "dry-run", false, "Simulate the export without writing anything")
	fl.BoolVar(&f.dryRunFast, "dry-run-fast", false, "Like --dry-run, but without loading audio")
	fl.BoolVar(&f.noProgress, "no-progress", false, "Hide progress indication")
	fl.DurationVar(&f.progressInterval, "progress-interval", progress.DefaultInterval, "Progress indication interval")

	fl.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "text", "Log format: text, json")
	fl.StringVar(&f.logFile, "log-file", "", "Write logs to this rotated file instead of stderr")

	return cmd
}

// applyConfig fills flags the user did not set from config values.
// A configured target directory is ignored when --target-tar is given.
func applyConfig(fl *pflag.FlagSet, cfg config.Config) error {
	for _, key := range config.Keys {
		value := cfg.Value(key)
		if value == "" || fl.Changed(key) {
			continue
		}
		if key == config.KeyTargetDir && fl.Changed("target-tar") {
			continue
		}
		if key == config.KeyTargetDir {
			value = config.ExpandPath(value)
		}
		if err := fl.Set(key, value); err != nil {
			return fmt.Errorf("%w: config %s=%q: %v", ErrInvalidOption, key, value, err)
		}
	}
	return nil
}

// parseExportOptions validates everything that does not touch the filesystem.
// Validation order: assignments -> expressions -> partitions -> sizes -> audio -> workers -> logging
func parseExportOptions(f exportFlags) (exportOptions, error) {
	opts := exportOptions{
		audio:         f.audio,
		aligned:       f.aligned,
		catalog:       f.catalog,
		ignoreMissing: f.ignoreMissing,
		debias:        f.debias,
		sigmaFactor:   f.sigmaFactor,
		split:         f.split,
		targetDir:     f.targetDir,
		targetTar:     f.targetTar,
		force:         f.force,
		sdb:           f.sdb,
		noProgress:    f.noProgress,
		interval:      f.progressInterval,
		log:           logging.Config{Level: f.logLevel, Format: f.logFormat, File: f.logFile},
	}

	// 1. Manual set assignments
	assignments, err := parseAssignments(f.assign)
	if err != nil {
		return opts, err
	}
	opts.grouped = split.GroupedOptions{
		Field:        f.splitField,
		DropMultiple: f.dropMultiple,
		DropUnknown:  f.dropUnknown,
		Assignments:  assignments,
	}

	// 2. Expressions
	if f.filter != "" {
		if opts.filter, err = expr.Compile(f.filter); err != nil {
			return opts, err
		}
	}
	if opts.criteria, err = expr.Compile(f.criteria); err != nil {
		return opts, err
	}

	// 3. Partitions
	if opts.partitions, err = partition.ParseSpec(f.partitions); err != nil {
		return opts, err
	}

	// 4. Sizes
	bufferSize, err := format.ParseSize(f.buffer)
	if err != nil {
		return opts, fmt.Errorf("%w: --buffer: %v", ErrInvalidOption, err)
	}
	bucketSize, err := format.ParseSize(f.sdbBucketSize)
	if err != nil {
		return opts, fmt.Errorf("%w: --sdb-bucket-size: %v", ErrInvalidOption, err)
	}

	// 5. Audio
	opts.format = audio.Format{Rate: f.rate, Channels: f.channels, Width: f.width}
	if err := opts.format.Validate(); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	audioType, err := audio.ParseType(f.sdbAudioType)
	if err != nil {
		return opts, fmt.Errorf("%w: --sdb-audio-type: %v", ErrInvalidOption, err)
	}

	// 6. Workers
	if f.workers < 1 {
		return opts, fmt.Errorf("%w: --workers must be at least 1, got %d", ErrInvalidOption, f.workers)
	}
	if f.sdbWorkers < 0 || f.sdbBufferedSamples < 0 {
		return opts, fmt.Errorf("%w: --sdb-workers and --sdb-buffered-samples cannot be negative", ErrInvalidOption)
	}

	if f.seedSet {
		seed := f.splitSeed
		opts.seed = &seed
	}

	opts.export = export.Options{
		DryRun:     f.dryRun,
		FastDryRun: f.dryRunFast,
		Workers:    f.workers,
		NoMeta:     f.noMeta,
		Pretty:     f.pretty,
		BufferSize: int(bufferSize),
		SDB: export.SDBOptions{
			AudioType:       audioType,
			BucketSize:      bucketSize,
			BufferedSamples: f.sdbBufferedSamples,
			Workers:         f.sdbWorkers,
		},
	}
	return opts, nil
}

// parseAssignments builds the manual set assignment table from
// comma separated group keys per set.
func parseAssignments(bySet [len(split.Sets)]string) (split.Assignments, error) {
	keys := make(map[split.Set][]string)
	for _, s := range split.Sets {
		if bySet[s] == "" {
			continue
		}
		keys[s] = strings.Split(bySet[s], ",")
	}
	return split.NewAssignments(keys)
}

// runExport executes the export pipeline.
func runExport(ctx context.Context, env *Env, opts exportOptions) (err error) {
	logger, closer, err := logging.New(opts.log, env.Stderr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	defer func() { _ = closer.Close() }()

	// === VALIDATION (fail-fast) ===

	// 1. Target
	if err := resolveTarget(&opts); err != nil {
		return err
	}

	// 2. Inputs
	pairs, err := resolveInputs(opts)
	if err != nil {
		return err
	}

	// === SELECTION ===

	logger.Info("Loading alignments", "files", len(pairs))
	frags, err := fragment.LoadPairs(pairs)
	if err != nil {
		return err
	}

	if opts.filter != nil {
		kept, dropped, err := expr.Filter(frags, opts.filter)
		if err != nil {
			return err
		}
		if dropped > 0 {
			logger.Info("Filtered out samples", "samples", dropped)
		}
		frags = kept
	}

	logger.Info("Computing qualities", "samples", len(frags))
	if err := expr.Score(frags, opts.criteria); err != nil {
		return err
	}

	for _, field := range opts.debias {
		var report debias.Report
		frags, report = debias.Debias(frags, field, opts.sigmaFactor)
		logDebiasReport(logger, report)
	}

	partition.Assign(frags, opts.partitions)
	frags, allocs := allocate(frags, opts)

	lists := export.NewLists(export.ListsOptions{
		TargetDir: opts.export.TargetDir,
		SDB:       opts.sdb,
		Force:     opts.force,
	}, logger)
	if err := lists.AssignAll(allocs); err != nil {
		return err
	}

	// === EXPORT ===

	conv, err := env.ConverterFactory.NewConverter(env.FFmpegResolver.NewResolver(logger), opts.format)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	reporter := progress.New(progressMode(env.Stderr, opts.noProgress), env.Stderr, logger, opts.interval)
	defer func() {
		if err != nil {
			reporter.Stop()
			return
		}
		reporter.Wait()
	}()

	if opts.sdb {
		coord := export.New(opts.export, conv, nil, reporter, logger)
		return coord.ExportSDB(ctx, lists, frags)
	}

	out, err := newSink(opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	coord := export.New(opts.export, conv, out, reporter, logger)
	return coord.ExportFiles(ctx, lists, frags)
}

// resolveTarget checks the export destination and stores its absolute path.
func resolveTarget(opts *exportOptions) error {
	switch {
	case opts.targetDir != "" && opts.targetTar != "":
		return fmt.Errorf("%w: only one allowed: --target-dir or --target-tar", ErrInvalidTarget)

	case opts.targetDir != "":
		if err := config.ValidTargetDir(opts.targetDir); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		dir, err := filepath.Abs(opts.targetDir)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		opts.targetDir = dir
		opts.export.TargetDir = dir
		return nil

	case opts.targetTar != "":
		if opts.sdb {
			return fmt.Errorf("%w: option --sdb not supported for --target-tar output, use --target-dir instead", ErrInvalidTarget)
		}
		tarPath, err := filepath.Abs(opts.targetTar)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		info, err := os.Stat(tarPath)
		switch {
		case err == nil && info.Mode().IsRegular():
			if !opts.force {
				return fmt.Errorf("%w: target tar-file already existing, use --force to overwrite", ErrInvalidTarget)
			}
		case err == nil:
			return fmt.Errorf("%w: target tar-file path is existing, but not a file", ErrInvalidTarget)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		default:
			if parent, err := os.Stat(filepath.Dir(tarPath)); err != nil || !parent.IsDir() {
				return fmt.Errorf("%w: unable to write tar-file, path not existing", ErrInvalidTarget)
			}
		}
		opts.targetTar = tarPath
		return nil

	default:
		return fmt.Errorf("%w: either --target-dir or --target-tar has to be provided", ErrInvalidTarget)
	}
}

// resolveInputs returns the audio/alignment pairs to load.
func resolveInputs(opts exportOptions) ([]fragment.Pair, error) {
	switch {
	case opts.audio != "":
		if opts.aligned == "" {
			return nil, fmt.Errorf(`%w: if you specify "--audio", you also have to specify "--aligned"`, ErrMissingInput)
		}
		p, err := fragment.ResolvePair(opts.audio, opts.aligned)
		if err != nil {
			return nil, err
		}
		return []fragment.Pair{p}, nil
	case opts.aligned != "":
		return nil, fmt.Errorf(`%w: if you specify "--aligned", you also have to specify "--audio"`, ErrMissingInput)
	case opts.catalog != "":
		return fragment.ReadCatalog(opts.catalog, opts.ignoreMissing)
	default:
		return nil, fmt.Errorf(`%w: you have to either specify "--audio" and "--aligned" or "--catalog"`, ErrMissingInput)
	}
}

// allocate distributes partitioned fragments over output lists. It returns
// the fragments to export, which differ from frags when grouped splitting
// drops samples.
func allocate(frags []*fragment.Fragment, opts exportOptions) ([]*fragment.Fragment, []split.Allocation) {
	switch {
	case opts.split && opts.grouped.Field != "":
		return split.Grouped(frags, opts.grouped)
	case opts.split:
		return frags, split.Random(frags, split.NewRand(opts.seed))
	default:
		return frags, split.Whole(frags)
	}
}

// newSink opens the directory or archive receiving sample files.
func newSink(opts exportOptions, logger *slog.Logger) (sink.Sink, error) {
	dry := opts.export.DryRun || opts.export.FastDryRun
	if opts.targetTar != "" {
		t, err := sink.NewTar(opts.targetTar, opts.export.BufferSize, dry, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return sink.NewDir(opts.targetDir, dry, logger), nil
}
