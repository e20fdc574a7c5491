// Package logging builds the structured logger shared by all commands.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrInvalidConfig indicates an unknown log level or format.
var ErrInvalidConfig = errors.New("invalid log configuration")

// Log file rotation limits.
const (
	maxSizeMB  = 100
	maxBackups = 5
	maxAgeDays = 30
)

// Config selects level, handler format and destination.
type Config struct {
	Level  string // debug, info, warn, error (default info)
	Format string // text or json (default text)
	File   string // rotated log file; empty writes to the fallback writer
}

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
	}
}

// New creates a logger writing to cfg.File, or to fallback when no file is set.
// The returned closer releases the log file and must be called on exit.
func New(cfg Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		w, closer = rotated, rotated
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("%w: log format %q (use text or json)", ErrInvalidConfig, cfg.Format)
	}
	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
