package slot

import "cinegrid/internal/cine"

// EventKind enumerates the messages background work posts for a slot.
type EventKind int

const (
	EventFastProgress EventKind = iota
	EventFastReady
	EventFastFailed
	EventPreloadProgress
	EventPreloaded
	EventPreloadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventFastProgress:
		return "fast_progress"
	case EventFastReady:
		return "fast_ready"
	case EventFastFailed:
		return "fast_failed"
	case EventPreloadProgress:
		return "preload_progress"
	case EventPreloaded:
		return "preloaded"
	case EventPreloadFailed:
		return "preload_failed"
	}
	return "unknown"
}

// Event is a progress or completion report for one assignment.
type Event struct {
	Slot       int
	Generation string
	Kind       EventKind
	Progress   int
	Err        error
}

// Apply folds ev into the slot. It returns false without touching the slot
// when ev belongs to another assignment or no longer applies to the phase.
// playing is the play state a slot adopts when its fast path becomes ready.
func (s *Slot) Apply(ev Event, playing bool) (bool, error) {
	if ev.Generation == "" || ev.Generation != s.Generation || s.Instance == nil {
		return false, nil
	}
	switch ev.Kind {
	case EventFastProgress:
		if s.Phase != cine.PhaseMJPEGLoading || ev.Progress <= s.Fast.LoadProgress {
			return false, nil
		}
		s.Fast.LoadProgress = min(ev.Progress, 100)
		return true, nil
	case EventFastReady:
		if s.Phase != cine.PhaseMJPEGLoading {
			return false, nil
		}
		return true, s.Ready(playing)
	case EventFastFailed:
		if s.Phase != cine.PhaseMJPEGLoading {
			return false, nil
		}
		return true, s.FailLoad(ev.Err)
	case EventPreloadProgress:
		if s.HighFidelity.IsPreloaded || ev.Progress <= s.HighFidelity.PreloadProgress {
			return false, nil
		}
		s.HighFidelity.PreloadProgress = min(ev.Progress, 100)
		return true, nil
	case EventPreloaded:
		if s.HighFidelity.IsPreloaded {
			return false, nil
		}
		s.MarkPreloaded()
		return true, nil
	case EventPreloadFailed:
		if s.HighFidelity.IsPreloaded {
			return false, nil
		}
		s.PreloadFailed = true
		s.LastError = ev.Err
		return true, nil
	}
	return false, nil
}
