package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cinegrid/internal/config"
	"cinegrid/internal/framecache"
	"cinegrid/internal/grid"
	"cinegrid/internal/logging"
	"cinegrid/internal/orchestrator"
	"cinegrid/internal/preflight"
	"cinegrid/internal/preload"
	"cinegrid/internal/renderloop"
	"cinegrid/internal/slot"
	"cinegrid/internal/transition"
	"cinegrid/internal/viewport"
	"cinegrid/internal/workspace"
)

// Sources supplies the two frame fetchers.
type Sources struct {
	Fast         framecache.Fetcher
	HighFidelity preload.Fetcher
}

// Daemon owns the playback engine and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *workspace.Store
	logPath string

	lockPath string
	lock     *flock.Flock

	board    *grid.Board
	cache    *framecache.Cache
	preloads *preload.Manager
	surface  *viewport.Headless
	orch     *orchestrator.Orchestrator
	loop     *renderloop.Loop

	mu        sync.Mutex
	checks    []preflight.Result
	startedAt time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	WorkspacePath string
	LockFilePath  string
	LogPath       string
	Dim           int
	Slots         []slot.Slot
	Cache         framecache.Stats
	Preloads      int
	Checks        []preflight.Result
}

// New constructs a daemon with initialized dependencies. store may be nil,
// in which case the workspace is neither restored nor saved.
func New(cfg *config.Config, store *workspace.Store, logger *slog.Logger, sources Sources) (*Daemon, error) {
	if cfg == nil || logger == nil || sources.Fast == nil || sources.HighFidelity == nil {
		return nil, errors.New("daemon requires config, logger, and both frame sources")
	}

	cache, err := framecache.New(sources.Fast, framecache.Options{
		RetainReleased: cfg.FrameCache.RetainReleased,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create frame cache: %w", err)
	}
	preloads, err := preload.NewManager(sources.HighFidelity, preload.Options{
		ChunkSize:   cfg.Preload.ChunkSize,
		Concurrency: cfg.Preload.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("create preload manager: %w", err)
	}
	board, err := grid.NewBoard(cfg.Playback.GridDim, cfg.Playback.Autoplay, logger)
	if err != nil {
		preloads.Close()
		cache.Close()
		return nil, err
	}
	surface := viewport.New(logger)
	coordinator, err := transition.NewCoordinator(surface, transition.Options{
		MaxAttempts: cfg.Playback.MaxTransitionAttempts,
		Logger:      logger,
	})
	if err != nil {
		preloads.Close()
		cache.Close()
		return nil, err
	}
	loop, err := renderloop.New(board, coordinator, surface, renderloop.Options{
		TickRate:   cfg.Playback.TickRate,
		DefaultFPS: cfg.Playback.DefaultFPS,
		Logger:     logger,
	})
	if err != nil {
		preloads.Close()
		cache.Close()
		return nil, err
	}
	orchOpts := orchestrator.Options{DefaultFPS: cfg.Playback.DefaultFPS, Logger: logger}
	if store != nil {
		orchOpts.Store = store
	}
	orch, err := orchestrator.New(board, cache, preloads, surface, orchOpts)
	if err != nil {
		preloads.Close()
		cache.Close()
		return nil, err
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		logPath:  filepath.Join(cfg.Paths.LogDir, "cinegrid.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		board:    board,
		cache:    cache,
		preloads: preloads,
		surface:  surface,
		orch:     orch,
		loop:     loop,
	}, nil
}

// Start acquires the daemon lock, restores the workspace and starts the
// render loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cinegrid daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	if err := d.restore(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "workspace restore failed", "workspace_restore_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the workspace database to start with an empty grid"),
			logging.String(logging.FieldImpact, "grid starts empty"),
		)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.loop.Run(runCtx)
	}()

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("cinegrid daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the render loop and releases the daemon lock. Slot resources
// stay bound until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("cinegrid daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.orch.Close()
	d.preloads.Close()
	d.cache.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// SetChecks records preflight results for the status endpoint.
func (d *Daemon) SetChecks(results []preflight.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append([]preflight.Result(nil), results...)
}

// Orchestrator exposes grid commands.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orch
}

// Board exposes the state container for notice subscribers.
func (d *Daemon) Board() *grid.Board {
	return d.board
}

// Viewport exposes the headless surface.
func (d *Daemon) Viewport() *viewport.Headless {
	return d.surface
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(_ context.Context) Status {
	slots, dim := d.orch.Snapshot()
	d.mu.Lock()
	checks := append([]preflight.Result(nil), d.checks...)
	startedAt := d.startedAt
	d.mu.Unlock()
	workspacePath := d.cfg.WorkspacePath()
	if d.store != nil {
		workspacePath = d.store.Path()
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     startedAt,
		WorkspacePath: workspacePath,
		LockFilePath:  d.lockPath,
		LogPath:       d.logPath,
		Dim:           dim,
		Slots:         slots,
		Cache:         d.orch.CacheStats(),
		Preloads:      d.orch.ActivePreloads(),
		Checks:        checks,
	}
}

// restore reassigns the persisted workspace. Assignments in slots hidden by
// the saved layout are restored under the full layout first so they keep
// their state when shown again.
func (d *Daemon) restore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	ws, err := d.store.Load(ctx)
	if err != nil {
		return err
	}
	if ws.Dim == 0 && len(ws.Assignments) == 0 {
		return nil
	}
	dim := ws.Dim
	if dim == 0 {
		dim = d.cfg.Playback.GridDim
	}

	ids := make([]int, 0, len(ws.Assignments))
	for id := range ws.Assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if len(ids) > 0 {
		if err := d.orch.SetGridLayout(config.MaxGridDim); err != nil {
			return err
		}
	}
	restored := 0
	for _, id := range ids {
		if err := d.orch.Assign(id, ws.Assignments[id]); err != nil {
			logging.WarnWithContext(d.logger, "slot not restored", "workspace_slot_skipped",
				logging.Slot(id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "slot starts empty"),
			)
			continue
		}
		restored++
	}
	if err := d.orch.SetGridLayout(dim); err != nil {
		return err
	}
	d.logger.Info("workspace restored",
		logging.Int("dim", dim),
		logging.Int("slots", restored),
	)
	return nil
}
