// Package progress reports export progress as terminal bars or log lines.
package progress

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Mode selects how progress is shown.
type Mode int

const (
	// Off discards progress.
	Off Mode = iota
	// Bars draws mpb progress bars.
	Bars
	// Log writes a line per task every interval.
	Log
)

// DefaultInterval is the refresh interval of bars and log lines.
const DefaultInterval = time.Second

const barWidth = 64

// Reporter creates progress tasks. A nil *Reporter behaves as Off.
type Reporter struct {
	mode     Mode
	interval time.Duration
	logger   *slog.Logger
	p        *mpb.Progress
}

// New creates a Reporter. Bars are drawn to w; log lines go to logger.
func New(mode Mode, w io.Writer, logger *slog.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reporter{mode: mode, interval: interval, logger: logger}
	if mode == Bars {
		r.p = mpb.New(
			mpb.WithOutput(w),
			mpb.WithWidth(barWidth),
			mpb.WithRefreshRate(interval),
		)
	}
	return r
}

// Track starts a task of total steps. A total of 0 means unknown.
func (r *Reporter) Track(desc string, total int) *Task {
	t := &Task{desc: desc, total: total}
	if r == nil {
		return t
	}
	switch r.mode {
	case Bars:
		t.bar = r.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(desc+": "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.AverageETA(decor.ET_STYLE_GO),
			),
		)
	case Log:
		t.logger = r.logger
		t.interval = r.interval
		t.last = time.Now()
	}
	return t
}

// Wait blocks until all bars are rendered. Every task must be Done first.
func (r *Reporter) Wait() {
	if r != nil && r.p != nil {
		r.p.Wait()
	}
}

// Stop aborts unfinished bars. Use it instead of Wait when a run fails.
func (r *Reporter) Stop() {
	if r != nil && r.p != nil {
		r.p.Shutdown()
	}
}

// Task is one tracked unit of work. Its methods are safe for concurrent use.
type Task struct {
	desc  string
	total int
	bar   *mpb.Bar

	mu       sync.Mutex
	done     int
	logger   *slog.Logger
	interval time.Duration
	last     time.Time
}

// Increment advances the task by one step.
func (t *Task) Increment() {
	if t.bar != nil {
		t.bar.Increment()
		return
	}
	if t.logger == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if now := time.Now(); now.Sub(t.last) >= t.interval {
		t.last = now
		t.logger.Info("Progress", "task", t.desc, "done", t.done, "total", t.total)
	}
}

// Done completes the task, whatever its step count.
func (t *Task) Done() {
	if t.bar != nil {
		t.bar.SetTotal(-1, true)
		return
	}
	if t.logger == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info("Finished", "task", t.desc, "done", t.done)
}
