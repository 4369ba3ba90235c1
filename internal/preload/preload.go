// Package preload fetches every high-fidelity frame of an instance ahead of the
// fast-to-full-fidelity swap.
package preload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cinegrid/internal/cine"
	"cinegrid/internal/logging"
)

// Fetcher retrieves one high-fidelity frame. index is zero-based.
type Fetcher interface {
	FetchFrame(ctx context.Context, inst cine.Instance, index int) (cine.Payload, error)
}

// Options tunes chunking and parallelism.
type Options struct {
	ChunkSize   int
	Concurrency int
	Logger      *slog.Logger
}

// Manager deduplicates preload sessions per instance.
type Manager struct {
	fetcher     Fetcher
	chunkSize   int
	concurrency int
	logger      *slog.Logger
	sampler     *logging.ProgressSampler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager constructs a preload manager.
func NewManager(fetcher Fetcher, opts Options) (*Manager, error) {
	if fetcher == nil {
		return nil, errors.New("preload: fetcher is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher:     fetcher,
		chunkSize:   opts.ChunkSize,
		concurrency: opts.Concurrency,
		logger:      logging.NewComponentLogger(opts.Logger, "preload"),
		sampler:     logging.NewProgressSampler(25),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
	}, nil
}

// Start joins or begins the preload session for inst. A completed session is
// returned without any new network activity.
func (m *Manager) Start(inst cine.Instance) (*Handle, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	key := inst.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil, errors.New("preload: closed")
	}
	if s, ok := m.sessions[key]; ok {
		s.refs++
		return &Handle{manager: m, session: s}, nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{inst: inst, cancel: cancel, refs: 1, changed: make(chan struct{})}
	m.sessions[key] = s
	m.sampler.Forget(key)
	go m.run(ctx, s)
	return &Handle{manager: m, session: s}, nil
}

// Cancel releases h. Equivalent to h.Release.
func (m *Manager) Cancel(h *Handle) {
	h.Release()
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels all sessions.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, s *session) {
	key := s.inst.Key()
	total := s.inst.NumberOfFrames
	payloads := make([]cine.Payload, total)
	var completed atomic.Int64

	for start := 0; start < total; start += m.chunkSize {
		end := min(start+m.chunkSize, total)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				payload, err := m.fetcher.FetchFrame(gctx, s.inst, i)
				if err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				payload.Index = i
				payloads[i] = payload
				done := int(completed.Add(1))
				if pct := s.report(done, total); pct >= 0 && m.sampler.ShouldLog(key, float64(pct)/100) {
					m.logger.Debug("preload progress",
						logging.Instance(key),
						logging.Int("frames", done),
						logging.Int("total", total),
					)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			m.fail(ctx, s, err)
			return
		}
	}

	s.complete(payloads, nil)
	m.logger.Info("preload complete",
		logging.Instance(key),
		logging.Int("frames", total),
	)
}

func (m *Manager) fail(ctx context.Context, s *session, err error) {
	key := s.inst.Key()
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	err = cine.Wrap(cine.ErrPreloadFailed, "preload", "fetch", fmt.Sprintf("instance %s", key), err)

	m.mu.Lock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	s.complete(nil, err)
	if ctx.Err() == nil {
		logging.WarnWithContext(m.logger, "preload failed", "preload_failed",
			logging.Instance(key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the high-fidelity source; retry with retry-preload"),
			logging.String(logging.FieldImpact, "slot stays on the fast path"),
		)
	}
}

func (m *Manager) release(s *session) {
	key := s.inst.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs > 0 {
		return
	}
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	s.cancel()
}
