// Package interrupt turns SIGINT/SIGTERM into context cancellation with a
// forced exit on a quick second signal.
package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ExitInterrupt is the exit code for interrupt (130 = 128 + SIGINT).
const ExitInterrupt = 130

// forceWindow is the time window for a second Ctrl+C to force an exit.
const forceWindow = 2 * time.Second

const (
	stoppingMessage = "\nStopping export, cleaning up partial outputs (press Ctrl+C again to quit immediately)..."
	abortMessage    = "\nAborted."
)

// Handler cancels a context on the first signal so the export can remove
// partial outputs. A second signal within forceWindow exits immediately.
type Handler struct {
	mu             sync.Mutex
	firstInterrupt time.Time
	interrupted    bool
	stopped        bool
	cancelFunc     context.CancelFunc
	done           chan struct{}

	exitFunc func(int)
	nowFunc  func() time.Time
	stderr   io.Writer
}

// Options holds injectable dependencies for testing.
type Options struct {
	SigCh    <-chan os.Signal
	ExitFunc func(int)
	NowFunc  func() time.Time
	// Stderr must be safe for concurrent writes.
	Stderr io.Writer
}

// NewHandler creates a handler that listens for SIGINT/SIGTERM.
// The returned context is canceled on the first signal.
func NewHandler(parent context.Context) (*Handler, context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return NewHandlerWithOptions(parent, Options{SigCh: sigCh})
}

// NewHandlerWithOptions creates a handler with injectable dependencies.
func NewHandlerWithOptions(parent context.Context, opts Options) (*Handler, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		cancelFunc: cancel,
		done:       make(chan struct{}),
		exitFunc:   opts.ExitFunc,
		nowFunc:    opts.NowFunc,
		stderr:     opts.Stderr,
	}
	if h.exitFunc == nil {
		h.exitFunc = os.Exit
	}
	if h.nowFunc == nil {
		h.nowFunc = time.Now
	}
	if h.stderr == nil {
		h.stderr = os.Stderr
	}

	if opts.SigCh != nil {
		go h.listen(opts.SigCh)
	}
	return h, ctx
}

func (h *Handler) listen(sigCh <-chan os.Signal) {
	for {
		select {
		case <-h.done:
			return
		case _, ok := <-sigCh:
			if !ok {
				return
			}
			if h.handle() {
				return
			}
		}
	}
}

// handle processes one signal and reports whether listening should end.
func (h *Handler) handle() bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return true
	}
	now := h.nowFunc()

	if !h.interrupted {
		h.interrupted = true
		h.firstInterrupt = now
		h.mu.Unlock()
		fmt.Fprintln(h.stderr, stoppingMessage)
		h.cancelFunc()
		return false
	}

	if now.Sub(h.firstInterrupt) > forceWindow {
		// Too late for a double press; treat it as a new first press.
		h.firstInterrupt = now
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()

	fmt.Fprintln(h.stderr, abortMessage)
	h.exitFunc(ExitInterrupt)
	return true
}

// WasInterrupted returns true if at least one signal was received.
func (h *Handler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Stop releases signal handling. It is safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	close(h.done)
	h.cancelFunc()
}
