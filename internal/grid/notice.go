package grid

import (
	"time"

	"cinegrid/internal/cine"
)

// NoticeKind classifies observable changes.
type NoticeKind string

const (
	NoticePhase    NoticeKind = "phase"
	NoticeProgress NoticeKind = "progress"
	NoticeError    NoticeKind = "error"
	NoticeLayout   NoticeKind = "layout"
)

// Notice reports one observable change to subscribers.
type Notice struct {
	Kind            NoticeKind `json:"kind"`
	Slot            int        `json:"slot"`
	Instance        string     `json:"instance,omitempty"`
	Phase           cine.Phase `json:"phase"`
	LoadProgress    int        `json:"load_progress"`
	PreloadProgress int        `json:"preload_progress"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	Error           string     `json:"error,omitempty"`
	Dim             int        `json:"dim,omitempty"`
	At              time.Time  `json:"at"`
}
