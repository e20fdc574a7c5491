package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/cli"
	"github.com/alnah/go-corpus/internal/config"
	"github.com/alnah/go-corpus/internal/export"
	"github.com/alnah/go-corpus/internal/expr"
	"github.com/alnah/go-corpus/internal/ffmpeg"
	"github.com/alnah/go-corpus/internal/format"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/interrupt"
	"github.com/alnah/go-corpus/internal/partition"
	"github.com/alnah/go-corpus/internal/sdb"
	"github.com/alnah/go-corpus/internal/sink"
	"github.com/alnah/go-corpus/internal/split"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitSetup      = 3
	ExitValidation = 4
	ExitSelection  = 5
	ExitExport     = 6
	ExitInterrupt  = interrupt.ExitInterrupt
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	// First Ctrl+C cancels the export, a second one within 2s exits at once.
	handler, ctx := interrupt.NewHandler(context.Background())

	env := cli.DefaultEnv()

	rootCmd := &cobra.Command{
		Use:     "corpus",
		Short:   "Export aligned speech fragments as training corpora",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Errors are printed below, with their exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(cli.ExportCmd(env))
	rootCmd.AddCommand(cli.ConfigCmd(env))

	err := rootCmd.ExecuteContext(ctx)
	handler.Stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}

	// Setup errors (ExitSetup = 3).
	if errors.Is(err, ffmpeg.ErrNotFound) {
		return ExitSetup
	}

	// Validation errors (ExitValidation = 4).
	if isAny(err,
		cli.ErrInvalidTarget, cli.ErrMissingInput, cli.ErrInvalidOption,
		fragment.ErrFileNotFound, fragment.ErrMissingReference,
		split.ErrDuplicateAssignment, split.ErrUnknownSet,
		partition.ErrInvalidSpec, expr.ErrInvalidExpression,
		format.ErrInvalidSize, audio.ErrUnsupportedFormat,
		export.ErrOutputExists,
		config.ErrUnknownKey, config.ErrInvalidValue,
	) {
		return ExitValidation
	}

	// Selection errors (ExitSelection = 5).
	if isAny(err, expr.ErrEvaluation, expr.ErrAllFiltered, expr.ErrNotNumeric) {
		return ExitSelection
	}

	// Export errors (ExitExport = 6).
	if isAny(err,
		export.ErrExtraction, export.ErrDatabase, export.ErrUnknownList,
		sink.ErrWrite, sdb.ErrCorrupt, sdb.ErrFinalized,
		audio.ErrConversionFailed, audio.ErrOutOfRange, audio.ErrInvalidWAV,
	) {
		return ExitExport
	}

	// Cobra usage errors carry no sentinel, so they are matched last.
	if isCobraUsageError(err) {
		return ExitUsage
	}

	return ExitGeneral
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// cobraUsageErrorPatterns contains error message substrings that indicate Cobra usage errors.
// Cobra doesn't expose typed errors, so string matching is the only reliable approach.
var cobraUsageErrorPatterns = []string{
	"required flag",             // Missing required flag
	"unknown flag",              // Flag doesn't exist
	"unknown shorthand",         // Short flag doesn't exist
	"unknown command",           // Subcommand doesn't exist
	"flag needs an argument",    // Flag provided without value
	"invalid argument",          // Invalid flag value type
	"if any flags in the group", // Mutually exclusive flag violation
	"accepts ",                  // Wrong number of arguments (e.g., "accepts 1 arg(s)")
	"requires at least",         // Too few arguments
	"requires at most",          // Too many arguments
}

// isCobraUsageError checks if an error is a Cobra usage/parsing error.
func isCobraUsageError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
