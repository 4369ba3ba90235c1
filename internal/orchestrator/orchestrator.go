package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"cinegrid/internal/cine"
	"cinegrid/internal/framecache"
	"cinegrid/internal/grid"
	"cinegrid/internal/logging"
	"cinegrid/internal/preload"
	"cinegrid/internal/slot"
	"cinegrid/internal/transition"
)

// Store persists the workspace between daemon runs.
type Store interface {
	SaveLayout(ctx context.Context, dim int) error
	SaveAssignment(ctx context.Context, slotID int, inst cine.Instance) error
	ClearAssignment(ctx context.Context, slotID int) error
}

// Options configures an Orchestrator.
type Options struct {
	DefaultFPS float64
	Store      Store
	Logger     *slog.Logger
}

// Orchestrator owns the board and the resources bound to each slot.
type Orchestrator struct {
	board      *grid.Board
	cache      *framecache.Cache
	preloads   *preload.Manager
	viewport   transition.Viewport
	store      Store
	defaultFPS float64
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an orchestrator around board.
func New(board *grid.Board, cache *framecache.Cache, preloads *preload.Manager, viewport transition.Viewport, opts Options) (*Orchestrator, error) {
	if board == nil || cache == nil || preloads == nil || viewport == nil {
		return nil, errors.New("orchestrator: board, cache, preload manager and viewport are required")
	}
	if opts.DefaultFPS <= 0 {
		opts.DefaultFPS = 30
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		board:      board,
		cache:      cache,
		preloads:   preloads,
		viewport:   viewport,
		store:      opts.Store,
		defaultFPS: opts.DefaultFPS,
		logger:     logging.NewComponentLogger(opts.Logger, "orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Board exposes the state container for the render loop.
func (o *Orchestrator) Board() *grid.Board {
	return o.board
}

// Assign binds inst to slotID, replacing any previous assignment.
func (o *Orchestrator) Assign(slotID int, inst cine.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	err := o.board.Do(func(st *grid.State) error {
		return o.assignLocked(st, slotID, inst)
	})
	if err != nil {
		o.logger.Debug("assign rejected", logging.Slot(slotID), logging.Error(err))
		return err
	}
	o.persist(func(ctx context.Context, s Store) error { return s.SaveAssignment(ctx, slotID, inst) })
	return nil
}

// Unassign returns slotID to idle.
func (o *Orchestrator) Unassign(slotID int) error {
	err := o.board.Do(func(st *grid.State) error {
		s, err := st.Slot(slotID)
		if err != nil {
			return err
		}
		o.teardownLocked(st, s)
		st.NotifySlot(grid.NoticePhase, s)
		return nil
	})
	if err != nil {
		return err
	}
	o.persist(func(ctx context.Context, s Store) error { return s.ClearAssignment(ctx, slotID) })
	return nil
}

// LoadAll assigns insts to slots 0..len-1, growing the layout to the smallest
// square that fits and clearing the remaining visible slots.
func (o *Orchestrator) LoadAll(insts []cine.Instance) error {
	dim, err := grid.DimFor(len(insts))
	if err != nil {
		return err
	}
	for i, inst := range insts {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
	}

	var finalDim int
	err = o.board.Do(func(st *grid.State) error {
		if dim > st.Dim {
			if err := o.setDimLocked(st, dim); err != nil {
				return err
			}
		}
		finalDim = st.Dim
		for id := 0; id < st.Visible(); id++ {
			if id < len(insts) {
				if err := o.assignLocked(st, id, insts[id]); err != nil {
					return err
				}
				continue
			}
			s := st.Slots[id]
			if s.Instance != nil {
				o.teardownLocked(st, s)
				st.NotifySlot(grid.NoticePhase, s)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("grid loaded", logging.Int("instances", len(insts)), logging.Int("dim", finalDim))
	o.persist(func(ctx context.Context, s Store) error {
		if err := s.SaveLayout(ctx, finalDim); err != nil {
			return err
		}
		for id := 0; id < finalDim*finalDim; id++ {
			if id < len(insts) {
				if err := s.SaveAssignment(ctx, id, insts[id]); err != nil {
					return err
				}
				continue
			}
			if err := s.ClearAssignment(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// PlayAll resumes every slot and makes newly ready slots start playing.
func (o *Orchestrator) PlayAll() {
	o.setAllPlaying(true)
}

// PauseAll pauses every slot.
func (o *Orchestrator) PauseAll() {
	o.setAllPlaying(false)
}

func (o *Orchestrator) setAllPlaying(playing bool) {
	_ = o.board.Do(func(st *grid.State) error {
		st.Playing = playing
		for _, s := range st.Slots {
			if s.Instance == nil {
				continue
			}
			o.setPlayingLocked(st, s, playing)
		}
		return nil
	})
}

// Play resumes one slot.
func (o *Orchestrator) Play(slotID int) error {
	return o.setSlotPlaying(slotID, true)
}

// Pause pauses one slot.
func (o *Orchestrator) Pause(slotID int) error {
	return o.setSlotPlaying(slotID, false)
}

func (o *Orchestrator) setSlotPlaying(slotID int, playing bool) error {
	return o.board.Do(func(st *grid.State) error {
		s, err := st.Slot(slotID)
		if err != nil {
			return err
		}
		if s.Instance == nil {
			return nil
		}
		o.setPlayingLocked(st, s, playing)
		return nil
	})
}

func (o *Orchestrator) setPlayingLocked(st *grid.State, s *slot.Slot, playing bool) {
	if s.Fast.IsPlaying == playing {
		return
	}
	s.Fast.IsPlaying = playing
	if s.Phase == cine.PhaseCornerstone && s.Active {
		o.viewport.SetPlaying(s.ID, playing)
	}
	st.NotifySlot(grid.NoticePhase, s)
}

// Step moves a paused fast-path slot by delta frames. Stepping across the
// last frame never counts as a loop wrap.
func (o *Orchestrator) Step(slotID, delta int) error {
	return o.board.Do(func(st *grid.State) error {
		s, err := st.Slot(slotID)
		if err != nil {
			return err
		}
		if s.Fast.IsPlaying {
			return fmt.Errorf("%w: slot %d is playing; pause it before stepping", slot.ErrIllegalTransition, slotID)
		}
		if err := s.Step(delta); err != nil {
			return err
		}
		st.NotifySlot(grid.NoticeProgress, s)
		return nil
	})
}

// RetryPreload restarts a failed preload, or re-enables the upgrade for a
// slot that used up its transition attempts.
func (o *Orchestrator) RetryPreload(slotID int) error {
	return o.board.Do(func(st *grid.State) error {
		s, err := st.Slot(slotID)
		if err != nil {
			return err
		}
		b := st.Bindings[slotID]
		if s.Instance == nil || b == nil {
			return nil
		}
		if s.HighFidelity.IsPreloaded {
			s.TransitionAttempts = 0
			s.LastError = nil
			return nil
		}
		if !s.PreloadFailed {
			return nil
		}
		h, err := o.preloads.Start(*s.Instance)
		if err != nil {
			return err
		}
		b.Preload.Release()
		b.Preload = h
		ctx, cancel := context.WithCancel(o.ctx)
		previous := b.Cancel
		b.Cancel = func() {
			if previous != nil {
				previous()
			}
			cancel()
		}
		s.PreloadFailed = false
		s.LastError = nil
		o.startPreloadWatcher(ctx, slotID, s.Generation, h)
		o.logger.Info("preload retried",
			logging.Slot(slotID),
			logging.Instance(s.Instance.ID),
		)
		return nil
	})
}

// SetGridLayout shows dim x dim slots. Slots beyond the bound keep their
// state and resources and resume where they were when shown again.
func (o *Orchestrator) SetGridLayout(dim int) error {
	err := o.board.Do(func(st *grid.State) error {
		return o.setDimLocked(st, dim)
	})
	if err != nil {
		return err
	}
	o.persist(func(ctx context.Context, s Store) error { return s.SaveLayout(ctx, dim) })
	return nil
}

func (o *Orchestrator) setDimLocked(st *grid.State, dim int) error {
	before := make([]bool, len(st.Slots))
	for i, s := range st.Slots {
		before[i] = s.Active
	}
	if err := st.SetDim(dim); err != nil {
		return err
	}
	for i, s := range st.Slots {
		if s.Active == before[i] || s.Phase != cine.PhaseCornerstone {
			continue
		}
		o.viewport.SetPlaying(i, s.Active && s.Fast.IsPlaying)
	}
	o.logger.Info("grid layout changed", logging.Int("dim", dim))
	return nil
}

// Layout returns the current grid dimension.
func (o *Orchestrator) Layout() int {
	var dim int
	_ = o.board.Do(func(st *grid.State) error {
		dim = st.Dim
		return nil
	})
	return dim
}

// Snapshot returns copies of all slots and the layout dimension.
func (o *Orchestrator) Snapshot() ([]slot.Slot, int) {
	return o.board.Snapshot()
}

// CacheStats reports frame cache usage.
func (o *Orchestrator) CacheStats() framecache.Stats {
	return o.cache.Stats()
}

// ActivePreloads reports the number of live preload sessions.
func (o *Orchestrator) ActivePreloads() int {
	return o.preloads.Active()
}

// Close cancels all watchers and releases every slot's resources. Slot state
// is left in place for a final snapshot.
func (o *Orchestrator) Close() {
	o.cancel()
	_ = o.board.Do(func(st *grid.State) error {
		for i, s := range st.Slots {
			if s.Phase == cine.PhaseCornerstone || s.Phase == cine.PhaseTransitioning {
				o.viewport.Detach(i)
			}
			st.Unbind(i)
		}
		return nil
	})
	o.wg.Wait()
}

func (o *Orchestrator) assignLocked(st *grid.State, slotID int, inst cine.Instance) error {
	s, err := st.Slot(slotID)
	if err != nil {
		return err
	}
	if o.ctx.Err() != nil {
		return errors.New("orchestrator: closed")
	}
	cacheHandle, err := o.cache.Ensure(inst)
	if err != nil {
		return err
	}
	preloadHandle, err := o.preloads.Start(inst)
	if err != nil {
		cacheHandle.Release()
		return err
	}

	o.teardownLocked(st, s)
	generation := uuid.NewString()
	if err := s.Assign(inst, generation); err != nil {
		cacheHandle.Release()
		preloadHandle.Release()
		return err
	}
	ctx, cancel := context.WithCancel(o.ctx)
	st.Bindings[slotID] = &grid.Binding{
		Generation: generation,
		Cache:      cacheHandle,
		Preload:    preloadHandle,
		Cancel:     cancel,
		FPS:        inst.FPS(o.defaultFPS),
	}

	if cacheHandle.Done() && cacheHandle.Err() == nil {
		if err := s.Ready(st.Playing); err != nil {
			return err
		}
	} else {
		o.startCacheWatcher(ctx, slotID, generation, cacheHandle)
	}
	if preloadHandle.Done() && preloadHandle.Err() == nil {
		s.MarkPreloaded()
	} else {
		o.startPreloadWatcher(ctx, slotID, generation, preloadHandle)
	}

	st.NotifySlot(grid.NoticePhase, s)
	o.logger.Info("instance assigned",
		logging.Slot(slotID),
		logging.Instance(inst.ID),
		logging.Generation(generation),
		logging.Phase(s.Phase),
	)
	return nil
}

func (o *Orchestrator) teardownLocked(st *grid.State, s *slot.Slot) {
	if s.Phase == cine.PhaseCornerstone || s.Phase == cine.PhaseTransitioning {
		o.viewport.Detach(s.ID)
	}
	st.Unbind(s.ID)
	s.Reset()
}

func (o *Orchestrator) persist(fn func(ctx context.Context, s Store) error) {
	if o.store == nil {
		return
	}
	if err := fn(o.ctx, o.store); err != nil {
		logging.WarnWithContext(o.logger, "workspace not saved", "workspace_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the data directory is writable"),
			logging.String(logging.FieldImpact, "the grid will not be restored after restart"),
		)
	}
}
