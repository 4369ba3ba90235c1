package api

import "cinegrid/internal/cine"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Slot describes one grid cell in a transport-friendly format.
type Slot struct {
	ID                 int     `json:"id"`
	Active             bool    `json:"active"`
	Phase              string  `json:"phase"`
	Badge              string  `json:"badge"`
	InstanceID         string  `json:"instanceId,omitempty"`
	Frames             int     `json:"frames,omitempty"`
	FrameRate          float64 `json:"frameRate,omitempty"`
	LoadProgress       int     `json:"loadProgress"`
	CurrentFrame       int     `json:"currentFrame"`
	Playing            bool    `json:"playing"`
	HighFidelityFrame  int     `json:"highFidelityFrame"`
	Preloaded          bool    `json:"preloaded"`
	PreloadProgress    int     `json:"preloadProgress"`
	PreloadFailed      bool    `json:"preloadFailed"`
	PendingTransition  bool    `json:"pendingTransition"`
	TransitionAttempts int     `json:"transitionAttempts"`
	Error              string  `json:"error,omitempty"`
	ErrorKind          string  `json:"errorKind,omitempty"`
}

// Grid is the layout plus every slot, visible or not.
type Grid struct {
	Dim   int    `json:"dim"`
	Slots []Slot `json:"slots"`
}

// Visible returns the slots inside the current layout.
func (g Grid) Visible() []Slot {
	out := make([]Slot, 0, g.Dim*g.Dim)
	for _, s := range g.Slots {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// CacheStats reports frame cache and preload usage.
type CacheStats struct {
	Entries        int   `json:"entries"`
	InFlight       int   `json:"inFlight"`
	Retained       int   `json:"retained"`
	TotalBytes     int64 `json:"totalBytes"`
	Fetches        int64 `json:"fetches"`
	ActivePreloads int   `json:"activePreloads"`
}

// CheckResult mirrors one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid"`
	StartedAt     string        `json:"startedAt,omitempty"`
	WorkspacePath string        `json:"workspacePath"`
	LockFilePath  string        `json:"lockFilePath"`
	LogPath       string        `json:"logPath,omitempty"`
	Grid          Grid          `json:"grid"`
	Cache         CacheStats    `json:"cache"`
	Checks        []CheckResult `json:"checks,omitempty"`
}

// Notice is one observable change streamed over /api/events.
type Notice struct {
	Kind            string `json:"kind"`
	Slot            int    `json:"slot"`
	InstanceID      string `json:"instanceId,omitempty"`
	Phase           string `json:"phase,omitempty"`
	LoadProgress    int    `json:"loadProgress"`
	PreloadProgress int    `json:"preloadProgress"`
	ErrorKind       string `json:"errorKind,omitempty"`
	Error           string `json:"error,omitempty"`
	Dim             int    `json:"dim,omitempty"`
	At              string `json:"at"`
}

// AssignRequest binds an instance to a slot.
type AssignRequest struct {
	Instance cine.Instance `json:"instance"`
}

// LoadRequest fills the grid from the first slot.
type LoadRequest struct {
	Instances []cine.Instance `json:"instances"`
}

// LayoutRequest changes the grid dimension.
type LayoutRequest struct {
	Dim int `json:"dim"`
}

// StepRequest moves a paused slot by Delta frames.
type StepRequest struct {
	Delta int `json:"delta"`
}

// SlotResponse wraps a single slot.
type SlotResponse struct {
	Slot Slot `json:"slot"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
