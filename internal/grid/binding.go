package grid

import (
	"context"

	"cinegrid/internal/cine"
	"cinegrid/internal/framecache"
	"cinegrid/internal/preload"
)

// Binding holds the resources a slot acquired for its current assignment.
type Binding struct {
	Generation string
	Cache      *framecache.Handle
	Preload    *preload.Handle
	Cancel     context.CancelFunc
	FPS        float64
}

// Frames returns the cached fast-path sequence, or nil while loading.
func (b *Binding) Frames() []cine.Frame {
	if b == nil || b.Cache == nil {
		return nil
	}
	return b.Cache.Frames()
}

// Payloads returns the preloaded high-fidelity frames, or nil.
func (b *Binding) Payloads() []cine.Payload {
	if b == nil || b.Preload == nil {
		return nil
	}
	return b.Preload.Payloads()
}

// Close cancels watchers and releases cache and preload references.
func (b *Binding) Close() {
	if b == nil {
		return
	}
	if b.Cancel != nil {
		b.Cancel()
	}
	b.Cache.Release()
	b.Preload.Release()
}
