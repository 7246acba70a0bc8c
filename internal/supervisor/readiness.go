package supervisor

import (
	"context"
	"sync"
)

// Readiness is a level-triggered signal that is set while the node is
// associated. Waiters block on a channel; nothing polls.
type Readiness struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

// NewReadiness returns a cleared signal.
func NewReadiness() *Readiness {
	return &Readiness{ch: make(chan struct{})}
}

// Set raises the signal and wakes all waiters. It reports whether this call
// changed the signal; setting an already-set signal is a no-op.
func (r *Readiness) Set() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return false
	}
	r.set = true
	close(r.ch)
	return true
}

// Clear lowers the signal. Later waiters block until the next Set.
func (r *Readiness) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		return
	}
	r.set = false
	r.ch = make(chan struct{})
}

// IsSet reports the current level.
func (r *Readiness) IsSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set
}

// Wait blocks until the signal is set or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
