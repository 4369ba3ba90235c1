package framecache

import (
	"context"
	"sync"
	"sync/atomic"

	"cinegrid/internal/cine"
)

type entry struct {
	inst   cine.Instance
	cancel context.CancelFunc
	refs   int // guarded by Cache.mu

	mu       sync.Mutex
	progress int
	done     bool
	err      error
	frames   []cine.Frame
	bytes    int64
	changed  chan struct{}
}

func newEntry(inst cine.Instance, cancel context.CancelFunc) *entry {
	return &entry{inst: inst, cancel: cancel, changed: make(chan struct{})}
}

// report records download progress. Progress stays below 100 until the
// sequence has been verified.
func (e *entry) report(done, total int) {
	if total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct > 99 {
		pct = 99
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || pct <= e.progress {
		return
	}
	e.progress = pct
	e.broadcastLocked()
}

func (e *entry) complete(frames []cine.Frame, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	e.err = err
	if err == nil {
		e.frames = frames
		e.progress = 100
		for _, f := range frames {
			e.bytes += f.Size()
		}
	}
	e.broadcastLocked()
}

func (e *entry) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *entry) snapshot() (int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress, e.done, e.err
}

func (e *entry) size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytes
}

// Handle is one slot's reference on a cache entry.
type Handle struct {
	cache    *Cache
	entry    *entry
	released atomic.Bool
}

// Instance returns the instance the handle refers to.
func (h *Handle) Instance() cine.Instance {
	return h.entry.inst
}

// Progress returns the download percentage (0-100).
func (h *Handle) Progress() int {
	p, _, _ := h.entry.snapshot()
	return p
}

// Done reports whether the download has ended, successfully or not.
func (h *Handle) Done() bool {
	_, done, _ := h.entry.snapshot()
	return done
}

// Err returns the terminal download error, if any.
func (h *Handle) Err() error {
	_, _, err := h.entry.snapshot()
	return err
}

// Frames returns the decoded sequence once the download succeeded.
func (h *Handle) Frames() []cine.Frame {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.frames
}

// Wait blocks until progress moves past last or the download ends.
func (h *Handle) Wait(ctx context.Context, last int) (int, bool, error) {
	e := h.entry
	for {
		e.mu.Lock()
		progress, done, err := e.progress, e.done, e.err
		changed := e.changed
		e.mu.Unlock()
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

// Release drops the reference. It is safe to call more than once.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.cache.release(h.entry)
}
