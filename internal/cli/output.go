package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/alnah/go-corpus/internal/debias"
	"github.com/alnah/go-corpus/internal/progress"
)

// progressMode draws bars on terminals and falls back to periodic log lines
// when w is redirected.
func progressMode(w io.Writer, disabled bool) progress.Mode {
	if disabled {
		return progress.Off
	}
	f, ok := w.(*os.File)
	if !ok {
		return progress.Log
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return progress.Bars
	}
	return progress.Log
}

// logDebiasReport writes one line per pass and one per capped group,
// most dropped first.
func logDebiasReport(logger *slog.Logger, r debias.Report) {
	logger.Info("Dropped for debiasing", "field", r.Field, "cap", r.Cap, "samples", r.Dropped())
	for _, d := range r.Drops {
		logger.Info("Dropped group", "field", r.Field, "group", d.Group, "samples", d.Dropped)
	}
}
