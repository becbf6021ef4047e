// Package signal provides two-stage shutdown handling for storyloom commands:
// the first SIGINT/SIGTERM asks sessions to stop after their current task,
// the second abandons the drain.
//
// Import rules:
//   - CAN import: std lib only
//   - MUST NOT import: internal packages (to avoid circular dependencies)
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler cancels its context on the first interrupt signal and closes the
// Forced channel on the second.
type Handler struct {
	ctx         context.Context //nolint:containedctx // handler owns the context lifecycle
	cancel      context.CancelFunc
	interrupted chan struct{}
	forced      chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	sigChan     chan os.Signal

	mu       sync.Mutex
	received int
}

// NewHandler creates a handler listening for SIGINT and SIGTERM.
//
//	h := signal.NewHandler(ctx)
//	defer h.Stop()
//
//	<-h.Interrupted()      // start draining
//	select {
//	case <-drained:
//	case <-h.Forced():     // second Ctrl+C, give up
//	}
func NewHandler(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		ctx:         ctx,
		cancel:      cancel,
		interrupted: make(chan struct{}),
		forced:      make(chan struct{}),
		done:        make(chan struct{}),
		// signal.Notify never blocks; a full buffer drops the signal.
		sigChan: make(chan os.Signal, 2),
	}

	signal.Notify(h.sigChan, syscall.SIGINT, syscall.SIGTERM)
	go h.listen()

	return h
}

// Context returns a context canceled by the first signal, by Stop or by the
// parent.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted closes on the first signal.
func (h *Handler) Interrupted() <-chan struct{} {
	return h.interrupted
}

// Forced closes on the second signal.
func (h *Handler) Forced() <-chan struct{} {
	return h.forced
}

// Stop stops listening and cancels the context. It is safe to call more
// than once.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}

// handleSignal advances the shutdown stage. Signals after the second are
// ignored.
func (h *Handler) handleSignal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received++
	switch h.received {
	case 1:
		h.cancel()
		close(h.interrupted)
	case 2:
		close(h.forced)
	}
}

// listen keeps draining the signal channel until Stop so repeated signals
// never block delivery.
func (h *Handler) listen() {
	for {
		select {
		case <-h.done:
			return
		case <-h.sigChan:
			h.handleSignal()
		}
	}
}
