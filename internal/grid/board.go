package grid

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/logging"
	"cinegrid/internal/slot"
)

// State is the lock-protected view handed to Board.Do callbacks.
type State struct {
	Slots    [config.MaxSlots]*slot.Slot
	Bindings [config.MaxSlots]*Binding
	Dim      int
	// Playing is the play state newly ready slots adopt.
	Playing bool

	now     func() time.Time
	notices []Notice
}

// Board owns all slot state.
type Board struct {
	mu    sync.Mutex
	state State

	inboxMu sync.Mutex
	inbox   []slot.Event

	subsMu sync.Mutex
	subs   map[int]chan Notice
	nextID int

	logger *slog.Logger
}

// NewBoard builds a board with every slot idle and dim x dim slots visible.
func NewBoard(dim int, playing bool, logger *slog.Logger) (*Board, error) {
	if err := ValidateDim(dim); err != nil {
		return nil, err
	}
	b := &Board{
		subs:   make(map[int]chan Notice),
		logger: logging.NewComponentLogger(logger, "grid"),
	}
	b.state.Dim = dim
	b.state.Playing = playing
	b.state.now = time.Now
	for i := range b.state.Slots {
		b.state.Slots[i] = slot.New(i)
		b.state.Slots[i].Active = i < dim*dim
	}
	return b, nil
}

// ValidateDim rejects layouts outside 1x1..4x4.
func ValidateDim(dim int) error {
	if dim < 1 || dim > config.MaxGridDim {
		return cine.Wrap(cine.ErrInvalidLayout, "grid", "layout",
			fmt.Sprintf("dimension %d outside 1..%d", dim, config.MaxGridDim), nil)
	}
	return nil
}

// DimFor returns the smallest square layout holding n slots.
func DimFor(n int) (int, error) {
	for dim := 1; dim <= config.MaxGridDim; dim++ {
		if dim*dim >= n {
			return dim, nil
		}
	}
	return 0, cine.Wrap(cine.ErrInvalidLayout, "grid", "layout",
		fmt.Sprintf("%d instances exceed %d slots", n, config.MaxSlots), nil)
}

// Do runs fn with the board locked and publishes the notices it produced
// after unlocking.
func (b *Board) Do(fn func(st *State) error) error {
	b.mu.Lock()
	err := fn(&b.state)
	notices := b.state.notices
	b.state.notices = nil
	b.mu.Unlock()

	b.publish(notices)
	return err
}

// Post queues an event for the next tick. It never blocks on the board lock.
func (b *Board) Post(ev slot.Event) {
	b.inboxMu.Lock()
	b.inbox = append(b.inbox, ev)
	b.inboxMu.Unlock()
}

// Drain takes every queued event.
func (b *Board) Drain() []slot.Event {
	b.inboxMu.Lock()
	defer b.inboxMu.Unlock()
	events := b.inbox
	b.inbox = nil
	return events
}

// Pending reports the number of queued events.
func (b *Board) Pending() int {
	b.inboxMu.Lock()
	defer b.inboxMu.Unlock()
	return len(b.inbox)
}

// Subscribe registers a notice listener with the given buffer. The returned
// function unsubscribes and closes the channel.
func (b *Board) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notice, buffer)
	b.subsMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, id)
			b.subsMu.Unlock()
			close(ch)
		})
	}
}

func (b *Board) publish(notices []Notice) {
	if len(notices) == 0 {
		return
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, n := range notices {
		for _, ch := range b.subs {
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// Snapshot copies every slot and the current layout.
func (b *Board) Snapshot() ([]slot.Slot, int) {
	var (
		out []slot.Slot
		dim int
	)
	_ = b.Do(func(st *State) error {
		out = make([]slot.Slot, len(st.Slots))
		for i, s := range st.Slots {
			out[i] = s.Clone()
		}
		dim = st.Dim
		return nil
	})
	return out, dim
}

// Visible returns the number of slots inside the layout bound.
func (st *State) Visible() int {
	return st.Dim * st.Dim
}

// Slot returns slot id or an invalid reassignment error when it is outside
// the visible bound.
func (st *State) Slot(id int) (*slot.Slot, error) {
	if id < 0 || id >= st.Visible() {
		return nil, cine.Wrap(cine.ErrInvalidReassignment, "grid", "lookup",
			fmt.Sprintf("slot %d outside visible range 0..%d", id, st.Visible()-1), nil)
	}
	return st.Slots[id], nil
}

// Unbind closes and clears slot id's binding.
func (st *State) Unbind(id int) {
	st.Bindings[id].Close()
	st.Bindings[id] = nil
}

// SetDim applies a new layout bound, flipping Active on affected slots.
func (st *State) SetDim(dim int) error {
	if err := ValidateDim(dim); err != nil {
		return err
	}
	st.Dim = dim
	for i, s := range st.Slots {
		s.Active = i < dim*dim
	}
	st.Notify(Notice{Kind: NoticeLayout, Slot: -1, Dim: dim})
	return nil
}

// Notify queues n for publication when the surrounding Do returns.
func (st *State) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = st.now()
	}
	st.notices = append(st.notices, n)
}

// NotifySlot queues a notice describing s.
func (st *State) NotifySlot(kind NoticeKind, s *slot.Slot) {
	n := Notice{
		Kind:            kind,
		Slot:            s.ID,
		Phase:           s.Phase,
		LoadProgress:    s.Fast.LoadProgress,
		PreloadProgress: s.HighFidelity.PreloadProgress,
	}
	if s.Instance != nil {
		n.Instance = s.Instance.ID
	}
	st.Notify(n)
}

// NotifyError queues an error notice for slot id.
func (st *State) NotifyError(s *slot.Slot, err error) {
	n := Notice{
		Kind:      NoticeError,
		Slot:      s.ID,
		Phase:     s.Phase,
		ErrorKind: cine.Kind(err),
		Error:     err.Error(),
	}
	if s.Instance != nil {
		n.Instance = s.Instance.ID
	}
	st.Notify(n)
}

// ApplyEvents folds drained events into their slots and queues notices for
// every change. Events for slots whose fast path failed release the slot's
// binding.
func (st *State) ApplyEvents(events []slot.Event, logger *slog.Logger) {
	for _, ev := range events {
		if ev.Slot < 0 || ev.Slot >= len(st.Slots) {
			continue
		}
		s := st.Slots[ev.Slot]
		before := s.Phase
		applied, err := s.Apply(ev, st.Playing)
		if err != nil {
			logging.WarnWithContext(logger, "slot event rejected", "illegal_transition",
				logging.Slot(s.ID),
				logging.String("event", ev.Kind.String()),
				logging.Phase(s.Phase),
				logging.Error(err),
			)
			continue
		}
		if !applied {
			continue
		}
		switch ev.Kind {
		case slot.EventFastFailed:
			st.Unbind(s.ID)
			st.NotifySlot(NoticePhase, s)
			if ev.Err != nil {
				st.NotifyError(s, ev.Err)
			}
		case slot.EventPreloadFailed:
			if ev.Err != nil {
				st.NotifyError(s, ev.Err)
			}
		default:
			if s.Phase != before {
				st.NotifySlot(NoticePhase, s)
			} else {
				st.NotifySlot(NoticeProgress, s)
			}
		}
	}
}

// CheckInvariants verifies every slot.
func (st *State) CheckInvariants() error {
	var errs []error
	for _, s := range st.Slots {
		if err := s.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
