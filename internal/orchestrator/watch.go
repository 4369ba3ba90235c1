package orchestrator

import (
	"context"

	"cinegrid/internal/framecache"
	"cinegrid/internal/preload"
	"cinegrid/internal/slot"
)

func (o *Orchestrator) startCacheWatcher(ctx context.Context, slotID int, generation string, h *framecache.Handle) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.relay(ctx, slotID, generation, h.Wait, slot.EventFastProgress, slot.EventFastReady, slot.EventFastFailed)
	}()
}

func (o *Orchestrator) startPreloadWatcher(ctx context.Context, slotID int, generation string, h *preload.Handle) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.relay(ctx, slotID, generation, h.Wait, slot.EventPreloadProgress, slot.EventPreloaded, slot.EventPreloadFailed)
	}()
}

type waitFunc func(ctx context.Context, last int) (int, bool, error)

// relay forwards progress from a handle to the board inbox until the handle
// finishes or ctx is cancelled.
func (o *Orchestrator) relay(ctx context.Context, slotID int, generation string, wait waitFunc, progress, done, failed slot.EventKind) {
	last := -1
	for {
		p, finished, err := wait(ctx, last)
		if ctx.Err() != nil {
			return
		}
		if finished {
			ev := slot.Event{Slot: slotID, Generation: generation, Kind: done}
			if err != nil {
				ev.Kind = failed
				ev.Err = err
			}
			o.board.Post(ev)
			return
		}
		if p > last {
			o.board.Post(slot.Event{Slot: slotID, Generation: generation, Kind: progress, Progress: p})
			last = p
		}
	}
}
