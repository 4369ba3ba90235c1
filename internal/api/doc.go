// Package api defines the wire-format types, converters and HTTP client for
// the cinegrid daemon API.
//
// # Key Types
//
// Slot: transport view of one grid cell (phase, badge, frame clocks, preload
// state, last error).
//
// Grid, CacheStats, DaemonStatus: aggregated runtime information.
//
// Notice: one observable change pushed over /api/events.
//
// # Converters
//
// FromSlot, FromGrid, FromCacheStats, FromNotice translate internal state into
// DTOs without exposing internal types to consumers.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Phases are exposed by their wire names
// (idle, mjpeg-loading, ...). Errors carry both the message and a stable kind
// string so clients can branch without parsing text.
package api
