package slot

import (
	"errors"
	"fmt"

	"cinegrid/internal/cine"
)

// ErrIllegalTransition reports an edge missing from the transition table.
var ErrIllegalTransition = errors.New("illegal slot transition")

// FastState is the fast-path playback sub-state.
type FastState struct {
	LoadProgress int
	CurrentFrame int
	IsPlaying    bool
}

// HighFidelityState tracks the preload and the viewport-side frame clock.
type HighFidelityState struct {
	CurrentFrame    int
	IsPreloaded     bool
	PreloadProgress int
}

// Slot is one grid cell.
type Slot struct {
	ID                 int
	Instance           *cine.Instance
	Phase              cine.Phase
	Fast               FastState
	HighFidelity       HighFidelityState
	PendingTransition  bool
	Generation         string
	Active             bool
	LastError          error
	TransitionAttempts int
	PreloadFailed      bool
}

var transitions = map[cine.Phase][]cine.Phase{
	cine.PhaseIdle:              {cine.PhaseMJPEGLoading},
	cine.PhaseMJPEGLoading:      {cine.PhaseMJPEGPlaying},
	cine.PhaseMJPEGPlaying:      {cine.PhaseTransitionPrepare},
	cine.PhaseTransitionPrepare: {cine.PhaseTransitioning},
	cine.PhaseTransitioning:     {cine.PhaseCornerstone, cine.PhaseMJPEGPlaying},
	cine.PhaseCornerstone:       {},
}

// CanTransition reports whether from -> to is a legal edge. Every phase may
// return to idle.
func CanTransition(from, to cine.Phase) bool {
	if to == cine.PhaseIdle {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// New returns an idle slot.
func New(id int) *Slot {
	return &Slot{ID: id, Active: true}
}

func (s *Slot) setPhase(to cine.Phase) error {
	if !CanTransition(s.Phase, to) {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrIllegalTransition, s.ID, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// Frames returns the frame count of the assigned instance, or 0 when idle.
func (s *Slot) Frames() int {
	if s.Instance == nil {
		return 0
	}
	return s.Instance.NumberOfFrames
}

// Reset returns the slot to idle and clears every sub-state. Active and ID
// are layout properties and survive.
func (s *Slot) Reset() {
	*s = Slot{ID: s.ID, Active: s.Active}
}

// Assign resets the slot and starts loading inst under generation.
func (s *Slot) Assign(inst cine.Instance, generation string) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	s.Reset()
	if err := s.setPhase(cine.PhaseMJPEGLoading); err != nil {
		return err
	}
	copied := inst
	s.Instance = &copied
	s.Generation = generation
	return nil
}

// Ready moves a loading slot to fast-path playback.
func (s *Slot) Ready(playing bool) error {
	if err := s.setPhase(cine.PhaseMJPEGPlaying); err != nil {
		return err
	}
	s.Fast.LoadProgress = 100
	s.Fast.CurrentFrame = 0
	s.Fast.IsPlaying = playing
	return nil
}

// FailLoad drops a slot whose fast-path download failed back to idle and
// records the error.
func (s *Slot) FailLoad(err error) error {
	if s.Phase != cine.PhaseMJPEGLoading {
		return fmt.Errorf("%w: slot %d cannot fail load from %s", ErrIllegalTransition, s.ID, s.Phase)
	}
	generation := s.Generation
	s.Reset()
	s.Generation = generation
	s.LastError = err
	return nil
}

// MarkPreloaded records preload completion. It never clears.
func (s *Slot) MarkPreloaded() {
	if s.Instance == nil {
		return
	}
	s.HighFidelity.IsPreloaded = true
	s.HighFidelity.PreloadProgress = 100
	s.PreloadFailed = false
}

// Arm marks a preloaded, playing slot as waiting for the next loop wrap.
func (s *Slot) Arm() error {
	if !s.HighFidelity.IsPreloaded {
		return fmt.Errorf("%w: slot %d is not preloaded", ErrIllegalTransition, s.ID)
	}
	if err := s.setPhase(cine.PhaseTransitionPrepare); err != nil {
		return err
	}
	s.PendingTransition = true
	return nil
}

// BeginTransition starts the swap at a loop wrap.
func (s *Slot) BeginTransition() error {
	if err := s.setPhase(cine.PhaseTransitioning); err != nil {
		return err
	}
	s.PendingTransition = false
	s.TransitionAttempts++
	s.HighFidelity.CurrentFrame = 0
	return nil
}

// CompleteTransition hands playback to the viewport.
func (s *Slot) CompleteTransition() error {
	if s.Phase != cine.PhaseTransitioning {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrIllegalTransition, s.ID, s.Phase, cine.PhaseCornerstone)
	}
	return s.setPhase(cine.PhaseCornerstone)
}

// Rollback returns a failed transition to fast-path playback.
func (s *Slot) Rollback(err error) error {
	if s.Phase != cine.PhaseTransitioning {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrIllegalTransition, s.ID, s.Phase, cine.PhaseMJPEGPlaying)
	}
	if err := s.setPhase(cine.PhaseMJPEGPlaying); err != nil {
		return err
	}
	s.PendingTransition = false
	s.LastError = err
	return nil
}

// Advance moves the fast clock one frame and reports whether it wrapped.
func (s *Slot) Advance() bool {
	n := s.Frames()
	if n == 0 || !s.Phase.FastPath() || s.Phase == cine.PhaseMJPEGLoading {
		return false
	}
	s.Fast.CurrentFrame = (s.Fast.CurrentFrame + 1) % n
	return s.Fast.CurrentFrame == 0
}

// Step moves the fast clock by delta frames without treating the move as a
// loop wrap.
func (s *Slot) Step(delta int) error {
	n := s.Frames()
	if n == 0 || (s.Phase != cine.PhaseMJPEGPlaying && s.Phase != cine.PhaseTransitionPrepare) {
		return fmt.Errorf("%w: slot %d cannot step in %s", ErrIllegalTransition, s.ID, s.Phase)
	}
	s.Fast.CurrentFrame = ((s.Fast.CurrentFrame+delta)%n + n) % n
	return nil
}

// Check verifies the slot invariants.
func (s *Slot) Check() error {
	if (s.Instance == nil) != (s.Phase == cine.PhaseIdle) {
		return fmt.Errorf("slot %d: instance presence does not match phase %s", s.ID, s.Phase)
	}
	if s.PendingTransition && s.Phase != cine.PhaseTransitionPrepare && s.Phase != cine.PhaseMJPEGPlaying {
		return fmt.Errorf("slot %d: pending transition in phase %s", s.ID, s.Phase)
	}
	if n := s.Frames(); n > 0 && (s.Fast.CurrentFrame < 0 || s.Fast.CurrentFrame >= n) {
		return fmt.Errorf("slot %d: frame %d out of range [0,%d)", s.ID, s.Fast.CurrentFrame, n)
	}
	if s.Fast.LoadProgress < 0 || s.Fast.LoadProgress > 100 || s.HighFidelity.PreloadProgress < 0 || s.HighFidelity.PreloadProgress > 100 {
		return fmt.Errorf("slot %d: progress out of range", s.ID)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("slot %d: invalid phase %d", s.ID, int(s.Phase))
	}
	return nil
}

// Clone returns a deep copy safe to hand outside the board lock.
func (s *Slot) Clone() Slot {
	out := *s
	if s.Instance != nil {
		inst := *s.Instance
		out.Instance = &inst
	}
	return out
}
