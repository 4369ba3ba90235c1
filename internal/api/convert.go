package api

import (
	"time"

	"github.com/samber/lo"

	"cinegrid/internal/cine"
	"cinegrid/internal/framecache"
	"cinegrid/internal/grid"
	"cinegrid/internal/preflight"
	"cinegrid/internal/slot"
)

// FromSlot converts a slot snapshot to its API representation. Playing
// reports the effective state: a slot hidden by the layout keeps its play
// intent for when it becomes visible again, but does not advance meanwhile.
func FromSlot(s slot.Slot) Slot {
	dto := Slot{
		ID:                 s.ID,
		Active:             s.Active,
		Phase:              s.Phase.String(),
		Badge:              s.Phase.Badge(),
		LoadProgress:       s.Fast.LoadProgress,
		CurrentFrame:       s.Fast.CurrentFrame,
		Playing:            s.Fast.IsPlaying && s.Active,
		HighFidelityFrame:  s.HighFidelity.CurrentFrame,
		Preloaded:          s.HighFidelity.IsPreloaded,
		PreloadProgress:    s.HighFidelity.PreloadProgress,
		PreloadFailed:      s.PreloadFailed,
		PendingTransition:  s.PendingTransition,
		TransitionAttempts: s.TransitionAttempts,
	}
	if s.Instance != nil {
		dto.InstanceID = s.Instance.ID
		dto.Frames = s.Instance.NumberOfFrames
		dto.FrameRate = s.Instance.FrameRate
	}
	if s.LastError != nil {
		dto.Error = s.LastError.Error()
		dto.ErrorKind = cine.Kind(s.LastError)
	}
	return dto
}

// FromGrid converts a board snapshot.
func FromGrid(slots []slot.Slot, dim int) Grid {
	return Grid{
		Dim:   dim,
		Slots: lo.Map(slots, func(s slot.Slot, _ int) Slot { return FromSlot(s) }),
	}
}

// FromCacheStats merges cache and preload counters.
func FromCacheStats(stats framecache.Stats, activePreloads int) CacheStats {
	return CacheStats{
		Entries:        stats.Entries,
		InFlight:       stats.InFlight,
		Retained:       stats.Retained,
		TotalBytes:     stats.TotalBytes,
		Fetches:        stats.Fetches,
		ActivePreloads: activePreloads,
	}
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	return lo.Map(results, func(r preflight.Result, _ int) CheckResult {
		return CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail}
	})
}

// FromNotice converts a board notice.
func FromNotice(n grid.Notice) Notice {
	dto := Notice{
		Kind:            string(n.Kind),
		Slot:            n.Slot,
		InstanceID:      n.Instance,
		LoadProgress:    n.LoadProgress,
		PreloadProgress: n.PreloadProgress,
		ErrorKind:       n.ErrorKind,
		Error:           n.Error,
		Dim:             n.Dim,
	}
	if n.Kind != grid.NoticeLayout {
		dto.Phase = n.Phase.String()
	}
	if !n.At.IsZero() {
		dto.At = FormatTime(n.At)
	}
	return dto
}

// FormatTime renders t in the API timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(dateTimeFormat)
}

// Failing returns the slots that carry an error.
func Failing(slots []Slot) []Slot {
	return lo.Filter(slots, func(s Slot, _ int) bool { return s.Error != "" })
}
