package viewport

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/logging"
)

// Picture is the latest image shown in a slot.
type Picture struct {
	Slot        int
	Source      string // "fast" or "viewport"
	InstanceID  string // set for viewport pictures only
	Index       int
	Loading     bool
	Progress    int
	ContentType string
	Data        []byte
	At          time.Time
}

// Stack describes a high-fidelity stack attached to a slot.
type Stack struct {
	InstanceID string
	Frames     int
	Start      int
	Playing    bool
	AttachedAt time.Time
}

// Stats counts canvas and viewport activity.
type Stats struct {
	FramePaints   int64
	LoadingPaints int64
	Handoffs      int64
	Detaches      int64
}

type stack struct {
	Stack
	payloads []cine.Payload
}

// Headless implements renderloop.Canvas and transition.Viewport in memory.
type Headless struct {
	mu       sync.RWMutex
	pictures [config.MaxSlots]*Picture
	stacks   [config.MaxSlots]*stack
	stats    Stats
	now      func() time.Time
	logger   *slog.Logger
}

// New constructs an empty headless surface.
func New(logger *slog.Logger) *Headless {
	return &Headless{
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "viewport"),
	}
}

func checkSlot(slotID int) error {
	if slotID < 0 || slotID >= config.MaxSlots {
		return fmt.Errorf("viewport: slot %d out of range", slotID)
	}
	return nil
}

// DrawFrame records frame as the slot's current fast-path picture.
func (h *Headless) DrawFrame(slotID int, frame cine.Frame) error {
	if err := checkSlot(slotID); err != nil {
		return err
	}
	data := frame.Encoded
	if len(data) == 0 && frame.Image != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image, nil); err != nil {
			return fmt.Errorf("viewport: encode frame %d: %w", frame.Index, err)
		}
		data = buf.Bytes()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pictures[slotID] = &Picture{
		Slot:        slotID,
		Source:      "fast",
		Index:       frame.Index,
		ContentType: "image/jpeg",
		Data:        data,
		At:          h.now(),
	}
	h.stats.FramePaints++
	return nil
}

// DrawLoading records a loading indicator for the slot.
func (h *Headless) DrawLoading(slotID int, progress int) error {
	if err := checkSlot(slotID); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pictures[slotID] = &Picture{
		Slot:     slotID,
		Source:   "fast",
		Loading:  true,
		Progress: progress,
		At:       h.now(),
	}
	h.stats.LoadingPaints++
	return nil
}

// Handoff attaches a fully preloaded stack to the slot at frame start.
func (h *Headless) Handoff(ctx context.Context, slotID int, inst cine.Instance, payloads []cine.Payload, start int, playing bool) error {
	if err := checkSlot(slotID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payloads) != inst.NumberOfFrames {
		return fmt.Errorf("viewport: instance %s: %d payloads for %d frames", inst.Key(), len(payloads), inst.NumberOfFrames)
	}
	if start < 0 || start >= len(payloads) {
		return fmt.Errorf("viewport: instance %s: start frame %d out of range", inst.Key(), start)
	}
	for i, p := range payloads {
		if len(p.Data) == 0 {
			return fmt.Errorf("viewport: instance %s: frame %d is empty", inst.Key(), i)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.stacks[slotID] = &stack{
		Stack: Stack{
			InstanceID: inst.Key(),
			Frames:     len(payloads),
			Start:      start,
			Playing:    playing,
			AttachedAt: now,
		},
		payloads: payloads,
	}
	first := payloads[start]
	h.pictures[slotID] = &Picture{
		Slot:        slotID,
		Source:      "viewport",
		InstanceID:  inst.Key(),
		Index:       start,
		ContentType: first.ContentType,
		Data:        first.Data,
		At:          now,
	}
	h.stats.Handoffs++
	h.logger.Debug("stack attached",
		logging.Slot(slotID),
		logging.Instance(inst.Key()),
		logging.Int("frames", len(payloads)),
		logging.Bool("playing", playing),
	)
	return nil
}

// SetPlaying toggles playback of the slot's attached stack.
func (h *Headless) SetPlaying(slotID int, playing bool) {
	if checkSlot(slotID) != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.stacks[slotID]; s != nil {
		s.Playing = playing
	}
}

// Detach drops the slot's attached stack and picture.
func (h *Headless) Detach(slotID int) {
	if checkSlot(slotID) != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stacks[slotID] == nil {
		return
	}
	h.stacks[slotID] = nil
	h.pictures[slotID] = nil
	h.stats.Detaches++
}

// Picture returns a copy of the slot's latest picture.
func (h *Headless) Picture(slotID int) (Picture, bool) {
	if checkSlot(slotID) != nil {
		return Picture{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.pictures[slotID]
	if p == nil {
		return Picture{}, false
	}
	out := *p
	out.Data = append([]byte(nil), p.Data...)
	return out, true
}

// Stack returns the stack attached to the slot, if any.
func (h *Headless) Stack(slotID int) (Stack, bool) {
	if checkSlot(slotID) != nil {
		return Stack{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.stacks[slotID]
	if s == nil {
		return Stack{}, false
	}
	return s.Stack, true
}

// Stats returns paint and handoff counters.
func (h *Headless) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}
