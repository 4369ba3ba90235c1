package renderloop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/grid"
	"cinegrid/internal/logging"
	"cinegrid/internal/slot"
	"cinegrid/internal/transition"
)

// Canvas paints fast-path output for a slot.
type Canvas interface {
	DrawFrame(slotID int, frame cine.Frame) error
	DrawLoading(slotID int, progress int) error
}

// Options tunes the loop.
type Options struct {
	TickRate   int
	DefaultFPS float64
	Logger     *slog.Logger
}

// Loop is the shared render scheduler.
type Loop struct {
	board       *grid.Board
	coordinator *transition.Coordinator
	canvas      Canvas
	interval    time.Duration
	defaultFPS  float64
	logger      *slog.Logger

	clocks [config.MaxSlots]clock
}

// clock is one slot's fixed-rate frame clock.
type clock struct {
	generation string
	running    bool
	last       time.Time
	acc        time.Duration

	paintedGen   string
	paintedFrame int
	paintedLoad  int
}

func (c *clock) stop() {
	c.running = false
	c.acc = 0
}

func (c *clock) forgetPaint() {
	c.paintedGen = ""
	c.paintedFrame = -1
	c.paintedLoad = -1
}

// New constructs a loop over board.
func New(board *grid.Board, coordinator *transition.Coordinator, canvas Canvas, opts Options) (*Loop, error) {
	if board == nil || coordinator == nil || canvas == nil {
		return nil, errors.New("renderloop: board, coordinator and canvas are required")
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}
	if opts.DefaultFPS <= 0 {
		opts.DefaultFPS = 30
	}
	l := &Loop{
		board:       board,
		coordinator: coordinator,
		canvas:      canvas,
		interval:    time.Second / time.Duration(opts.TickRate),
		defaultFPS:  opts.DefaultFPS,
		logger:      logging.NewComponentLogger(opts.Logger, "renderloop"),
	}
	for i := range l.clocks {
		l.clocks[i].forgetPaint()
	}
	return l, nil
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("render loop started", logging.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("render loop stopped")
			return nil
		case now := <-ticker.C:
			l.TickContext(ctx, now)
		}
	}
}

// Tick runs one scheduler pass at now.
func (l *Loop) Tick(now time.Time) {
	l.TickContext(context.Background(), now)
}

// TickContext is Tick with a context bounding viewport handoffs.
func (l *Loop) TickContext(ctx context.Context, now time.Time) {
	_ = l.board.Do(func(st *grid.State) error {
		st.ApplyEvents(l.board.Drain(), l.logger)
		for i, s := range st.Slots {
			c := &l.clocks[i]
			if !s.Active {
				c.stop()
				c.forgetPaint()
				continue
			}
			if l.coordinator.Arm(s) {
				st.NotifySlot(grid.NoticePhase, s)
			}
			switch s.Phase {
			case cine.PhaseMJPEGLoading:
				c.stop()
				l.paintLoading(s, c)
			case cine.PhaseMJPEGPlaying, cine.PhaseTransitionPrepare:
				l.advance(ctx, st, s, c, now)
				if s.Phase.FastPath() {
					l.paintFrame(st, s, c)
				}
			case cine.PhaseIdle, cine.PhaseTransitioning, cine.PhaseCornerstone:
				c.stop()
				c.forgetPaint()
			}
		}
		return nil
	})
}

func (l *Loop) advance(ctx context.Context, st *grid.State, s *slot.Slot, c *clock, now time.Time) {
	if !s.Fast.IsPlaying {
		c.stop()
		return
	}
	if !c.running || c.generation != s.Generation {
		c.running = true
		c.generation = s.Generation
		c.last = now
		c.acc = 0
		return
	}
	elapsed := now.Sub(c.last)
	c.last = now
	if elapsed <= 0 {
		return
	}

	period := l.framePeriod(st.Bindings[s.ID])
	c.acc += elapsed
	steps := int(c.acc / period)
	c.acc -= time.Duration(steps) * period
	n := s.Frames()
	if steps > n {
		steps = n
		c.acc = 0
	}

	for step := 0; step < steps; step++ {
		if s.Phase == cine.PhaseTransitionPrepare && s.Fast.CurrentFrame == n-1 {
			if step > 0 {
				// Hold at the last frame; the wrap happens first thing next tick.
				c.acc = period
				return
			}
			s.Advance()
			l.swap(ctx, st, s, c)
			return
		}
		s.Advance()
	}
}

func (l *Loop) swap(ctx context.Context, st *grid.State, s *slot.Slot, c *clock) {
	err := l.coordinator.Swap(ctx, s, st.Bindings[s.ID].Payloads())
	if err != nil {
		st.NotifyError(s, err)
	}
	st.NotifySlot(grid.NoticePhase, s)
	if s.Phase == cine.PhaseCornerstone {
		c.stop()
		c.forgetPaint()
		st.Bindings[s.ID].Cache.Release()
	}
}

func (l *Loop) framePeriod(b *grid.Binding) time.Duration {
	fps := l.defaultFPS
	if b != nil && b.FPS > 0 {
		fps = b.FPS
	}
	period := time.Duration(float64(time.Second) / fps)
	if period <= 0 {
		period = time.Nanosecond
	}
	return period
}

func (l *Loop) paintLoading(s *slot.Slot, c *clock) {
	if c.paintedGen == s.Generation && c.paintedLoad == s.Fast.LoadProgress {
		return
	}
	c.paintedGen = s.Generation
	c.paintedLoad = s.Fast.LoadProgress
	c.paintedFrame = -1
	if err := l.canvas.DrawLoading(s.ID, s.Fast.LoadProgress); err != nil {
		l.logger.Debug("canvas loading paint failed", logging.Slot(s.ID), logging.Error(err))
	}
}

func (l *Loop) paintFrame(st *grid.State, s *slot.Slot, c *clock) {
	if c.paintedGen == s.Generation && c.paintedFrame == s.Fast.CurrentFrame {
		return
	}
	frames := st.Bindings[s.ID].Frames()
	if s.Fast.CurrentFrame >= len(frames) {
		return
	}
	c.paintedGen = s.Generation
	c.paintedFrame = s.Fast.CurrentFrame
	c.paintedLoad = -1
	if err := l.canvas.DrawFrame(s.ID, frames[s.Fast.CurrentFrame]); err != nil {
		l.logger.Debug("canvas frame paint failed",
			logging.Slot(s.ID),
			logging.Int("frame", s.Fast.CurrentFrame),
			logging.Error(err),
		)
	}
}
