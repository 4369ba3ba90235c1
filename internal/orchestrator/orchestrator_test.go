package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/framecache"
	"cinegrid/internal/grid"
	"cinegrid/internal/orchestrator"
	"cinegrid/internal/preload"
	"cinegrid/internal/renderloop"
	"cinegrid/internal/slot"
	"cinegrid/internal/testsupport"
	"cinegrid/internal/transition"
)

type harness struct {
	t        *testing.T
	orch     *orchestrator.Orchestrator
	board    *grid.Board
	loop     *renderloop.Loop
	fast     *testsupport.FastSource
	hifi     *testsupport.HighFidelitySource
	canvas   *testsupport.RecordingCanvas
	viewport *testsupport.RecordingViewport
	store    *memoryStore
	now      time.Time
}

func newHarness(t *testing.T, dim int) *harness {
	t.Helper()
	fast := testsupport.NewFastSource()
	hifi := testsupport.NewHighFidelitySource()
	cache, err := framecache.New(fast, framecache.Options{})
	if err != nil {
		t.Fatalf("framecache.New: %v", err)
	}
	preloads, err := preload.NewManager(hifi, preload.Options{ChunkSize: 4, Concurrency: 2})
	if err != nil {
		t.Fatalf("preload.NewManager: %v", err)
	}
	board, err := grid.NewBoard(dim, true, nil)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	viewport := &testsupport.RecordingViewport{}
	coordinator, err := transition.NewCoordinator(viewport, transition.Options{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	canvas := &testsupport.RecordingCanvas{}
	loop, err := renderloop.New(board, coordinator, canvas, renderloop.Options{TickRate: 60, DefaultFPS: 10})
	if err != nil {
		t.Fatalf("renderloop.New: %v", err)
	}
	store := newMemoryStore()
	orch, err := orchestrator.New(board, cache, preloads, viewport, orchestrator.Options{DefaultFPS: 10, Store: store})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	t.Cleanup(func() {
		orch.Close()
		preloads.Close()
		cache.Close()
	})
	return &harness{
		t:        t,
		orch:     orch,
		board:    board,
		loop:     loop,
		fast:     fast,
		hifi:     hifi,
		canvas:   canvas,
		viewport: viewport,
		store:    store,
		now:      time.Unix(1_700_000_000, 0),
	}
}

// advance moves the clock by d and ticks once.
func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.loop.Tick(h.now)
}

// settle ticks without moving the clock until cond holds.
func (h *harness) settle(what string, cond func(slots []slot.Slot) bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.loop.Tick(h.now)
		slots, _ := h.board.Snapshot()
		if cond(slots) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) slot(id int) slot.Slot {
	slots, _ := h.orch.Snapshot()
	return slots[id]
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	slots, _ := h.orch.Snapshot()
	for i := range slots {
		if err := slots[i].Check(); err != nil {
			h.t.Fatalf("invariant: %v", err)
		}
	}
}

func phaseIs(id int, phase cine.Phase) func([]slot.Slot) bool {
	return func(slots []slot.Slot) bool { return slots[id].Phase == phase }
}

// onFastPath matches a ready slot whether or not its upgrade is already armed.
func onFastPath(s slot.Slot) bool {
	return s.Phase == cine.PhaseMJPEGPlaying || s.Phase == cine.PhaseTransitionPrepare
}

func drainNotices(ch <-chan grid.Notice) []grid.Notice {
	var out []grid.Notice
	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

func instance(id string, frames int) cine.Instance {
	return cine.Instance{ID: id, StudyUID: "1.2", SeriesUID: "1.2.3", SOPInstanceUID: id, NumberOfFrames: frames}
}

func TestPreloadCompletingMidLoopSwapsAtWrap(t *testing.T) {
	h := newHarness(t, 2)
	gate := h.hifi.Gate("a")
	if err := h.orch.Assign(0, instance("a", 20)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	h.settle("fast path ready", phaseIs(0, cine.PhaseMJPEGPlaying))

	for h.slot(0).Fast.CurrentFrame < 12 {
		h.advance(100 * time.Millisecond)
	}
	if got := h.slot(0).Fast.CurrentFrame; got != 12 {
		t.Fatalf("expected frame 12, got %d", got)
	}
	close(gate)
	h.settle("preload armed", func(slots []slot.Slot) bool {
		return slots[0].HighFidelity.IsPreloaded && slots[0].PendingTransition
	})
	if s := h.slot(0); s.Phase != cine.PhaseTransitionPrepare || s.Fast.CurrentFrame != 12 {
		t.Fatalf("expected prepare at frame 12, got %s frame %d", s.Phase, s.Fast.CurrentFrame)
	}

	for h.slot(0).Fast.CurrentFrame != 19 {
		h.advance(100 * time.Millisecond)
		if h.slot(0).Phase != cine.PhaseTransitionPrepare {
			t.Fatalf("swapped before the wrap at frame %d", h.slot(0).Fast.CurrentFrame)
		}
		h.checkInvariants()
	}
	h.advance(100 * time.Millisecond)
	s := h.slot(0)
	if s.Phase != cine.PhaseCornerstone || s.HighFidelity.CurrentFrame != 0 || s.PendingTransition {
		t.Fatalf("expected cornerstone at frame 0, got %+v", s)
	}
	handoffs := h.viewport.Handoffs()
	if len(handoffs) != 1 || handoffs[0].Start != 0 || handoffs[0].Payloads != 20 {
		t.Fatalf("unexpected handoffs %+v", handoffs)
	}
	frames := h.canvas.Frames(0)
	for i, f := range frames {
		if f != i {
			t.Fatalf("fast path skipped frames: %v", frames)
		}
	}
	if len(frames) != 20 {
		t.Fatalf("expected frames 0..19 painted, got %v", frames)
	}
	h.checkInvariants()
}

func TestLayoutShrinkAndRestoreKeepsSlots(t *testing.T) {
	h := newHarness(t, 4)
	insts := make([]cine.Instance, 16)
	for i := range insts {
		insts[i] = instance(fmt.Sprintf("i%02d", i), 10)
		h.hifi.Gate(insts[i].ID)
	}
	if err := h.orch.LoadAll(insts); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	h.settle("all playing", func(slots []slot.Slot) bool {
		for _, s := range slots {
			if s.Phase != cine.PhaseMJPEGPlaying {
				return false
			}
		}
		return true
	})
	h.advance(100 * time.Millisecond)
	h.advance(300 * time.Millisecond)

	before, _ := h.orch.Snapshot()
	if err := h.orch.SetGridLayout(2); err != nil {
		t.Fatalf("SetGridLayout: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.advance(100 * time.Millisecond)
	}
	during, dim := h.orch.Snapshot()
	if dim != 2 {
		t.Fatalf("expected dim 2, got %d", dim)
	}
	for i := 4; i < 16; i++ {
		if during[i].Active {
			t.Fatalf("slot %d should be inactive", i)
		}
		if during[i].Fast.CurrentFrame != before[i].Fast.CurrentFrame || during[i].Phase != before[i].Phase {
			t.Fatalf("hidden slot %d changed: %+v -> %+v", i, before[i], during[i])
		}
	}
	if during[0].Fast.CurrentFrame == before[0].Fast.CurrentFrame {
		t.Fatal("visible slot should keep playing")
	}
	if err := h.orch.Assign(5, instance("x", 3)); !errors.Is(err, cine.ErrInvalidReassignment) {
		t.Fatalf("expected slot 5 to be out of bounds in 2x2, got %v", err)
	}

	if err := h.orch.SetGridLayout(4); err != nil {
		t.Fatalf("SetGridLayout: %v", err)
	}
	h.advance(100 * time.Millisecond)
	after, _ := h.orch.Snapshot()
	for i := 4; i < 16; i++ {
		if !after[i].Active || after[i].Fast.CurrentFrame != before[i].Fast.CurrentFrame {
			t.Fatalf("slot %d did not resume where it was: %+v", i, after[i])
		}
	}
	h.advance(100 * time.Millisecond)
	if got := h.slot(8).Fast.CurrentFrame; got != (before[8].Fast.CurrentFrame+1)%10 {
		t.Fatalf("restored slot 8 should advance from its saved frame, got %d", got)
	}
	for _, inst := range insts {
		if h.fast.Calls(inst.ID) != 1 {
			t.Fatalf("instance %s refetched across layout change", inst.ID)
		}
	}
}

func TestFailedSlotGoesIdleAndErrorSurfacesOnce(t *testing.T) {
	h := newHarness(t, 2)
	notices, unsubscribe := h.board.Subscribe(256)
	defer unsubscribe()

	h.fast.Fail("c", errors.New("503 unavailable"))
	insts := []cine.Instance{instance("a", 4), instance("b", 4), instance("c", 4), instance("d", 4)}
	if err := h.orch.LoadAll(insts); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	h.settle("load outcome", func(slots []slot.Slot) bool {
		return onFastPath(slots[0]) && onFastPath(slots[1]) &&
			slots[2].Phase == cine.PhaseIdle && onFastPath(slots[3])
	})
	for i := 0; i < 3; i++ {
		h.advance(100 * time.Millisecond)
	}
	s := h.slot(2)
	if !errors.Is(s.LastError, cine.ErrFastPathDownloadFailed) {
		t.Fatalf("expected fast path error on slot 2, got %v", s.LastError)
	}

	count := 0
	for _, n := range drainNotices(notices) {
		if n.Kind != grid.NoticeError {
			continue
		}
		if n.Slot != 2 {
			t.Fatalf("unexpected error notice for slot %d", n.Slot)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one error notice, got %d", count)
	}
	if got := h.slot(1).Fast.CurrentFrame; got != 3 {
		t.Fatalf("healthy slot should keep playing, got frame %d", got)
	}
	if stats := h.orch.CacheStats(); stats.Entries != 3 {
		t.Fatalf("expected failed entry removed, got %+v", stats)
	}
	h.checkInvariants()
}

func TestReassignCancelsPreviousInstance(t *testing.T) {
	h := newHarness(t, 2)
	gate := h.fast.Gate("a")
	h.hifi.Gate("a")
	if err := h.orch.Assign(0, instance("a", 6)); err != nil {
		t.Fatalf("Assign a: %v", err)
	}
	select {
	case <-h.fast.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("download for a never started")
	}
	if err := h.orch.Assign(0, instance("b", 4)); err != nil {
		t.Fatalf("Assign b: %v", err)
	}
	close(gate)
	h.settle("b playing", func(slots []slot.Slot) bool { return onFastPath(slots[0]) })

	s := h.slot(0)
	if s.Instance == nil || s.Instance.ID != "b" {
		t.Fatalf("expected slot 0 to show b, got %+v", s.Instance)
	}
	for i := 0; i < 10; i++ {
		h.loop.Tick(h.now)
		if got := h.slot(0); got.Instance.ID != "b" || got.Fast.LoadProgress != 100 {
			t.Fatalf("late events for a reached the slot: %+v", got)
		}
	}
	if h.orch.CacheStats().Entries != 1 {
		t.Fatalf("expected a evicted, got %+v", h.orch.CacheStats())
	}
	if h.orch.ActivePreloads() != 1 {
		t.Fatalf("expected only b's preload session, got %d", h.orch.ActivePreloads())
	}
}

func TestSameInstanceInTwoSlotsFetchesOnce(t *testing.T) {
	h := newHarness(t, 2)
	gate := h.fast.Gate("x")
	if err := h.orch.Assign(0, instance("x", 5)); err != nil {
		t.Fatalf("Assign 0: %v", err)
	}
	if err := h.orch.Assign(1, instance("x", 5)); err != nil {
		t.Fatalf("Assign 1: %v", err)
	}
	close(gate)
	h.settle("both playing", func(slots []slot.Slot) bool {
		return onFastPath(slots[0]) && onFastPath(slots[1])
	})
	if h.fast.Calls("x") != 1 {
		t.Fatalf("expected one download, got %d", h.fast.Calls("x"))
	}
	if h.hifi.Calls("x") > 5 {
		t.Fatalf("expected one preload, got %d frame requests", h.hifi.Calls("x"))
	}

	if err := h.orch.Assign(2, instance("x", 5)); err != nil {
		t.Fatalf("Assign 2: %v", err)
	}
	if s := h.slot(2); !onFastPath(s) {
		t.Fatalf("cache hit should go straight to playing, got %s", s.Phase)
	}
}

func TestInvalidSlotLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 2)
	if err := h.orch.Assign(0, instance("a", 3)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	before, _ := h.orch.Snapshot()
	for _, id := range []int{4, 16, -1} {
		if err := h.orch.Assign(id, instance("z", 3)); !errors.Is(err, cine.ErrInvalidReassignment) {
			t.Fatalf("slot %d: expected invalid reassignment, got %v", id, err)
		}
	}
	if err := h.orch.Unassign(7); !errors.Is(err, cine.ErrInvalidReassignment) {
		t.Fatalf("expected invalid reassignment for unassign, got %v", err)
	}
	after, _ := h.orch.Snapshot()
	for i := range before {
		if before[i].Phase != after[i].Phase || before[i].Generation != after[i].Generation {
			t.Fatalf("slot %d mutated by rejected command", i)
		}
	}
	if h.fast.Calls("z") != 0 {
		t.Fatal("rejected assignment must not fetch")
	}
	if err := h.orch.Assign(0, cine.Instance{ID: "bad"}); !errors.Is(err, cine.ErrInvalidInstance) {
		t.Fatalf("expected invalid instance, got %v", err)
	}
}

func TestLoadAllGrowsLayoutAndClearsRest(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.orch.LoadAll([]cine.Instance{instance("a", 2), instance("b", 2), instance("c", 2)}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if dim := h.orch.Layout(); dim != 2 {
		t.Fatalf("expected layout grown to 2, got %d", dim)
	}
	if err := h.orch.LoadAll([]cine.Instance{instance("d", 2)}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	slots, dim := h.orch.Snapshot()
	if dim != 2 {
		t.Fatalf("layout should not shrink, got %d", dim)
	}
	if slots[0].Instance == nil || slots[0].Instance.ID != "d" {
		t.Fatalf("expected d in slot 0, got %+v", slots[0].Instance)
	}
	for i := 1; i < 4; i++ {
		if slots[i].Phase != cine.PhaseIdle {
			t.Fatalf("slot %d should be cleared, got %s", i, slots[i].Phase)
		}
	}
	too := make([]cine.Instance, 17)
	for i := range too {
		too[i] = instance(fmt.Sprintf("t%d", i), 2)
	}
	if err := h.orch.LoadAll(too); !errors.Is(err, cine.ErrInvalidLayout) {
		t.Fatalf("expected invalid layout for 17 instances, got %v", err)
	}
	if h.store.dim != 2 || h.store.assignments[0].ID != "d" {
		t.Fatalf("workspace not persisted: dim=%d assignments=%v", h.store.dim, h.store.assignments)
	}
	if _, ok := h.store.assignments[1]; ok {
		t.Fatal("cleared slot should be removed from the workspace")
	}
}

func TestPauseStepAndPlay(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.orch.Assign(0, instance("a", 5)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	h.settle("playing", func(slots []slot.Slot) bool { return onFastPath(slots[0]) })
	if err := h.orch.Step(0, 1); !errors.Is(err, slot.ErrIllegalTransition) {
		t.Fatalf("stepping a playing slot should fail, got %v", err)
	}
	h.orch.PauseAll()
	h.advance(time.Second)
	if err := h.orch.Step(0, -1); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.slot(0).Fast.CurrentFrame; got != 4 {
		t.Fatalf("expected step back to 4, got %d", got)
	}
	if err := h.orch.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	h.advance(time.Millisecond)
	if got := h.slot(0).Fast.CurrentFrame; got != 4 {
		t.Fatalf("first tick after resume must not advance, got %d", got)
	}
	h.advance(100 * time.Millisecond)
	if got := h.slot(0).Fast.CurrentFrame; got != 0 {
		t.Fatalf("expected wrap to 0, got %d", got)
	}
}

func TestPreloadFailureKeepsFastPathAndRetries(t *testing.T) {
	h := newHarness(t, 1)
	h.hifi.Fail("a", 2, errors.New("404 frame"))
	if err := h.orch.Assign(0, instance("a", 4)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	h.settle("preload failed", func(slots []slot.Slot) bool {
		return slots[0].PreloadFailed && slots[0].Phase == cine.PhaseMJPEGPlaying
	})
	if !errors.Is(h.slot(0).LastError, cine.ErrPreloadFailed) {
		t.Fatalf("expected preload error, got %v", h.slot(0).LastError)
	}

	h.hifi.Heal("a")
	if err := h.orch.RetryPreload(0); err != nil {
		t.Fatalf("RetryPreload: %v", err)
	}
	h.settle("armed after retry", phaseIs(0, cine.PhaseTransitionPrepare))
	if h.slot(0).PreloadFailed {
		t.Fatal("retry should clear the failure flag")
	}
}

func TestCornerstoneSlotPlaybackGoesToViewport(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.orch.Assign(0, instance("a", 2)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	h.settle("armed", phaseIs(0, cine.PhaseTransitionPrepare))
	for i := 0; i < 4 && h.slot(0).Phase != cine.PhaseCornerstone; i++ {
		h.advance(100 * time.Millisecond)
	}
	if h.slot(0).Phase != cine.PhaseCornerstone {
		t.Fatalf("expected cornerstone, got %s", h.slot(0).Phase)
	}
	if err := h.orch.Pause(0); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if h.viewport.Playing(0) {
		t.Fatal("viewport should be paused")
	}
	if err := h.orch.Unassign(0); err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if detached := h.viewport.Detached(); len(detached) != 1 || detached[0] != 0 {
		t.Fatalf("expected slot 0 detached, got %v", detached)
	}
	if h.slot(0).Phase != cine.PhaseIdle {
		t.Fatal("expected idle after unassign")
	}
}

type memoryStore struct {
	mu          sync.Mutex
	dim         int
	assignments map[int]cine.Instance
}

func newMemoryStore() *memoryStore {
	return &memoryStore{assignments: make(map[int]cine.Instance)}
}

func (m *memoryStore) SaveLayout(_ context.Context, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dim = dim
	return nil
}

func (m *memoryStore) SaveAssignment(_ context.Context, slotID int, inst cine.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[slotID] = inst
	return nil
}

func (m *memoryStore) ClearAssignment(_ context.Context, slotID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, slotID)
	return nil
}
