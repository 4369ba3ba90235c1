package preload

import (
	"context"
	"sync"
	"sync/atomic"

	"cinegrid/internal/cine"
)

type session struct {
	inst   cine.Instance
	cancel context.CancelFunc
	refs   int // guarded by Manager.mu

	mu       sync.Mutex
	progress int
	done     bool
	err      error
	payloads []cine.Payload
	changed  chan struct{}
}

// report records one more completed frame and returns the new percentage, or
// -1 when progress did not move.
func (s *session) report(done, total int) int {
	pct := done * 100 / total
	if pct > 99 {
		pct = 99
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || pct <= s.progress {
		return -1
	}
	s.progress = pct
	s.broadcastLocked()
	return pct
}

func (s *session) complete(payloads []cine.Payload, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	if err == nil {
		s.payloads = payloads
		s.progress = 100
	}
	s.broadcastLocked()
}

func (s *session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Handle is one slot's reference on a preload session.
type Handle struct {
	manager  *Manager
	session  *session
	released atomic.Bool
}

// Instance returns the instance being preloaded.
func (h *Handle) Instance() cine.Instance {
	return h.session.inst
}

// Progress returns the completed percentage (0-100).
func (h *Handle) Progress() int {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.progress
}

// Done reports whether the session has ended.
func (h *Handle) Done() bool {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.done
}

// Err returns the terminal error of a failed session.
func (h *Handle) Err() error {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.err
}

// Payloads returns the frames in index order once the session completed.
func (h *Handle) Payloads() []cine.Payload {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	if !h.session.done || h.session.err != nil {
		return nil
	}
	return h.session.payloads
}

// Wait blocks until progress moves past last or the session ends.
func (h *Handle) Wait(ctx context.Context, last int) (int, bool, error) {
	s := h.session
	for {
		s.mu.Lock()
		progress, done, err := s.progress, s.done, s.err
		changed := s.changed
		s.mu.Unlock()
		if done || progress > last {
			return progress, done, err
		}
		select {
		case <-ctx.Done():
			return progress, false, ctx.Err()
		case <-changed:
		}
	}
}

// Release drops the reference; the last one cancels outstanding fetches.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.manager.release(h.session)
}
