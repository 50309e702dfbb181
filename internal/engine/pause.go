package engine

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned by WaitIfPaused once the controller has been shut
// down; no further dispatch is possible.
var ErrStopped = errors.New("dispatch stopped")

// PauseController gates task dispatch between attempts. Pausing swaps in a
// fresh resume channel; resuming closes it, releasing every waiter at once.
// Waiters select on the channel, so no goroutines are spawned per wait.
// Stop is permanent and releases waiters with ErrStopped.
type PauseController struct {
	mu      sync.Mutex
	resumed chan struct{} // closed while dispatch is allowed
	stop    chan struct{} // closed once the controller shuts down
}

// NewPauseController creates a controller in the running (unpaused) state.
func NewPauseController() *PauseController {
	open := make(chan struct{})
	close(open)
	return &PauseController{resumed: open, stop: make(chan struct{})}
}

// Pause suspends dispatch. Tasks already in flight run to completion.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isClosed(p.stop) || !isClosed(p.resumed) {
		return
	}
	p.resumed = make(chan struct{})
	log.Printf("[engine] paused - no new tasks will be dispatched")
}

// Resume lifts a pause, releasing every waiter.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isClosed(p.stop) || isClosed(p.resumed) {
		return
	}
	close(p.resumed)
	log.Printf("[engine] resumed - task dispatch enabled")
}

// Stop shuts the controller down for good and releases every waiter.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !isClosed(p.stop) {
		close(p.stop)
	}
}

// IsPaused reports whether dispatch is currently suspended.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !isClosed(p.resumed)
}

// IsStopped reports whether the controller has been shut down.
func (p *PauseController) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return isClosed(p.stop)
}

// WaitIfPaused blocks until dispatch is allowed again. It returns ErrStopped
// if the controller shuts down, or the context error if ctx ends first.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	resumed, stop := p.resumed, p.stop
	p.mu.Unlock()

	select {
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-resumed:
	}
	// Stop may race with resume; stopped always wins.
	select {
	case <-stop:
		return ErrStopped
	default:
		return nil
	}
}

// isClosed reports whether ch has been closed. Callers hold p.mu, so the
// answer cannot change underneath them.
func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// CancelToken is an explicit cancellation flag checked before every task
// dispatch. Tasks already in flight are never force-interrupted; the token
// only prevents new dispatch.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. Idempotent.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether the token has been set.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token is set.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
