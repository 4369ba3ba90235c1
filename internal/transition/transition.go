// Package transition swaps a slot from fast-path playback to the external
// viewport at a loop wrap.
package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/logging"
	"cinegrid/internal/slot"
)

// Viewport is the external high-fidelity renderer.
//
// Handoff is called from the render tick with the board locked, so every
// slot waits on it. Implementations must honour ctx and return promptly.
type Viewport interface {
	// Handoff loads payloads into the slot's viewport positioned at start.
	Handoff(ctx context.Context, slotID int, inst cine.Instance, payloads []cine.Payload, start int, playing bool) error
	SetPlaying(slotID int, playing bool)
	Detach(slotID int)
}

// DefaultHandoffTimeout caps a single viewport handoff. A few display ticks
// at most; a slower viewport fails the attempt and the slot retries later.
const DefaultHandoffTimeout = 250 * time.Millisecond

// Coordinator arms preloaded slots and executes the swap.
type Coordinator struct {
	viewport    Viewport
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

// Options tunes the coordinator.
type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// NewCoordinator constructs a coordinator around viewport.
func NewCoordinator(viewport Viewport, opts Options) (*Coordinator, error) {
	if viewport == nil {
		return nil, errors.New("transition: viewport is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHandoffTimeout
	}
	return &Coordinator{
		viewport:    viewport,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		logger:      logging.NewComponentLogger(opts.Logger, "transition"),
	}, nil
}

// Viewport returns the viewport the coordinator hands off to.
func (c *Coordinator) Viewport() Viewport {
	return c.viewport
}

// Arm flags s for a swap at its next loop wrap when it is playing on the
// fast path, preloaded, and still within its attempt budget.
func (c *Coordinator) Arm(s *slot.Slot) bool {
	if s.Phase != cine.PhaseMJPEGPlaying || !s.HighFidelity.IsPreloaded {
		return false
	}
	if s.TransitionAttempts >= c.maxAttempts {
		return false
	}
	if err := s.Arm(); err != nil {
		return false
	}
	c.logger.Debug("transition armed",
		logging.Slot(s.ID),
		logging.Int("attempt", s.TransitionAttempts+1),
	)
	return true
}

// Swap executes the transition for a slot that has just wrapped. It is a
// no-op unless s is in transition-prepare. On handoff failure the slot rolls
// back to fast-path playback and the wrapped ErrTransitionFailed is returned.
func (c *Coordinator) Swap(ctx context.Context, s *slot.Slot, payloads []cine.Payload) error {
	if s.Phase != cine.PhaseTransitionPrepare {
		return nil
	}
	if err := s.BeginTransition(); err != nil {
		return err
	}
	playing := s.Fast.IsPlaying

	err := c.handoff(ctx, s, payloads, playing)
	if err != nil {
		err = cine.Wrap(cine.ErrTransitionFailed, "transition", "handoff",
			fmt.Sprintf("slot %d attempt %d", s.ID, s.TransitionAttempts), err)
		if rbErr := s.Rollback(err); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		logging.WarnWithContext(c.logger, "transition rolled back", "transition_failed",
			logging.Slot(s.ID),
			logging.Int("attempt", s.TransitionAttempts),
			logging.Int("max_attempts", c.maxAttempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the viewport"),
			logging.String(logging.FieldImpact, "slot keeps playing on the fast path"),
		)
		return err
	}
	if err := s.CompleteTransition(); err != nil {
		return err
	}
	c.logger.Info("slot upgraded to full fidelity",
		logging.Slot(s.ID),
		logging.Instance(s.Instance.ID),
		logging.Int("attempt", s.TransitionAttempts),
	)
	return nil
}

func (c *Coordinator) handoff(ctx context.Context, s *slot.Slot, payloads []cine.Payload, playing bool) error {
	if s.Instance == nil {
		return errors.New("slot has no instance")
	}
	if len(payloads) != s.Instance.NumberOfFrames {
		return fmt.Errorf("have %d preloaded frames, expected %d", len(payloads), s.Instance.NumberOfFrames)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.viewport.Handoff(ctx, s.ID, *s.Instance, payloads, s.HighFidelity.CurrentFrame, playing)
}
