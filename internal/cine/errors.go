package cine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFastPathDownloadFailed = errors.New("fast path download failed")
	ErrPreloadFailed          = errors.New("preload failed")
	ErrTransitionFailed       = errors.New("transition failed")
	ErrInvalidReassignment    = errors.New("invalid reassignment")
	ErrInvalidInstance        = errors.New("invalid instance")
	ErrInvalidLayout          = errors.New("invalid layout")
)

// Wrap builds an error that carries component context while staying
// classifiable through errors.Is against one of the markers above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrFastPathDownloadFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the failure can be cleared by repeating the request.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidReassignment), errors.Is(err, ErrInvalidInstance), errors.Is(err, ErrInvalidLayout):
		return false
	default:
		return true
	}
}

// Kind returns the marker name used in notices and API payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFastPathDownloadFailed):
		return "fast_path_download_failed"
	case errors.Is(err, ErrPreloadFailed):
		return "preload_failed"
	case errors.Is(err, ErrTransitionFailed):
		return "transition_failed"
	case errors.Is(err, ErrInvalidReassignment):
		return "invalid_reassignment"
	case errors.Is(err, ErrInvalidInstance):
		return "invalid_instance"
	case errors.Is(err, ErrInvalidLayout):
		return "invalid_layout"
	default:
		return "internal"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "playback failure"
	}
	return strings.Join(parts, ": ")
}
