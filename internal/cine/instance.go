package cine

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// MaxFrameRate bounds the playback rate an instance may request.
const MaxFrameRate = 1000

// Instance identifies one multi-frame image and carries enough metadata to
// request both the fast-path artifact and the high-fidelity frames.
type Instance struct {
	ID             string  `json:"id"`
	StudyUID       string  `json:"study_uid,omitempty"`
	SeriesUID      string  `json:"series_uid,omitempty"`
	SOPInstanceUID string  `json:"sop_instance_uid,omitempty"`
	NumberOfFrames int     `json:"number_of_frames"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
	CineURL        string  `json:"cine_url,omitempty"`
}

// Validate rejects references that cannot be played.
func (i Instance) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return Wrap(ErrInvalidInstance, "instance", "validate", "id is required", nil)
	}
	if i.NumberOfFrames <= 0 {
		return Wrap(ErrInvalidInstance, "instance", "validate",
			fmt.Sprintf("instance %s: number_of_frames must be positive, got %d", i.ID, i.NumberOfFrames), nil)
	}
	if math.IsNaN(i.FrameRate) || i.FrameRate < 0 || i.FrameRate > MaxFrameRate {
		return Wrap(ErrInvalidInstance, "instance", "validate",
			fmt.Sprintf("instance %s: frame_rate must be between 0 and %d, got %v", i.ID, MaxFrameRate, i.FrameRate), nil)
	}
	return nil
}

// Key is the identity used for cache and preload deduplication.
func (i Instance) Key() string {
	return strings.TrimSpace(i.ID)
}

// FPS returns the instance frame rate or fallback when the instance has none.
func (i Instance) FPS(fallback float64) float64 {
	if i.FrameRate > 0 {
		return i.FrameRate
	}
	return fallback
}

// Frame is one decoded fast-path frame ready to be painted.
type Frame struct {
	Index int
	Image image.Image
	// Encoded keeps the original JPEG bytes so headless canvases can serve them.
	Encoded []byte
}

// Size reports the memory attributed to the frame for cache accounting.
func (f Frame) Size() int64 {
	size := int64(len(f.Encoded))
	if f.Image != nil {
		b := f.Image.Bounds()
		size += int64(b.Dx()) * int64(b.Dy()) * 4
	}
	return size
}

// Payload is one high-fidelity frame as delivered by the frame source.
type Payload struct {
	Index       int
	ContentType string
	Data        []byte
}
