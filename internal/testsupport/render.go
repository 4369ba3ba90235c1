package testsupport

import (
	"context"
	"errors"
	"sync"

	"cinegrid/internal/cine"
)

// Paint is one recorded canvas call.
type Paint struct {
	Slot     int
	Frame    int
	Loading  bool
	Progress int
}

// RecordingCanvas keeps every paint for assertions.
type RecordingCanvas struct {
	mu     sync.Mutex
	paints []Paint
}

// DrawFrame implements renderloop.Canvas.
func (c *RecordingCanvas) DrawFrame(slotID int, frame cine.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paints = append(c.paints, Paint{Slot: slotID, Frame: frame.Index})
	return nil
}

// DrawLoading implements renderloop.Canvas.
func (c *RecordingCanvas) DrawLoading(slotID int, progress int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paints = append(c.paints, Paint{Slot: slotID, Loading: true, Progress: progress})
	return nil
}

// Frames returns the frame indices painted for slot in order.
func (c *RecordingCanvas) Frames(slot int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for _, p := range c.paints {
		if p.Slot == slot && !p.Loading {
			out = append(out, p.Frame)
		}
	}
	return out
}

// Paints returns every recorded call for slot.
func (c *RecordingCanvas) Paints(slot int) []Paint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Paint
	for _, p := range c.paints {
		if p.Slot == slot {
			out = append(out, p)
		}
	}
	return out
}

// Reset discards recorded paints.
func (c *RecordingCanvas) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paints = nil
}

// Handoff is one recorded viewport handoff.
type Handoff struct {
	Slot     int
	Instance string
	Payloads int
	Start    int
	Playing  bool
}

// ErrHandoffRejected is returned by RecordingViewport while rejections remain.
var ErrHandoffRejected = errors.New("viewport rejected handoff")

// RecordingViewport records handoffs and can reject a number of them.
type RecordingViewport struct {
	mu       sync.Mutex
	handoffs []Handoff
	rejected []Handoff
	reject   int
	playing  map[int]bool
	detached []int
}

// RejectNext makes the next n handoffs fail.
func (v *RecordingViewport) RejectNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reject = n
}

// Handoff implements transition.Viewport.
func (v *RecordingViewport) Handoff(_ context.Context, slotID int, inst cine.Instance, payloads []cine.Payload, start int, playing bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	h := Handoff{Slot: slotID, Instance: inst.ID, Payloads: len(payloads), Start: start, Playing: playing}
	if v.reject > 0 {
		v.reject--
		v.rejected = append(v.rejected, h)
		return ErrHandoffRejected
	}
	v.handoffs = append(v.handoffs, h)
	if v.playing == nil {
		v.playing = make(map[int]bool)
	}
	v.playing[slotID] = playing
	return nil
}

// SetPlaying implements transition.Viewport.
func (v *RecordingViewport) SetPlaying(slotID int, playing bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing == nil {
		v.playing = make(map[int]bool)
	}
	v.playing[slotID] = playing
}

// Detach implements transition.Viewport.
func (v *RecordingViewport) Detach(slotID int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detached = append(v.detached, slotID)
	delete(v.playing, slotID)
}

// Handoffs returns successful handoffs.
func (v *RecordingViewport) Handoffs() []Handoff {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Handoff(nil), v.handoffs...)
}

// Rejected returns handoffs that were refused.
func (v *RecordingViewport) Rejected() []Handoff {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Handoff(nil), v.rejected...)
}

// Playing reports the last play state set for slot.
func (v *RecordingViewport) Playing(slot int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing[slot]
}

// Detached returns detached slot IDs in order.
func (v *RecordingViewport) Detached() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.detached...)
}
