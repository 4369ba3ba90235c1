// Package workspace persists the grid layout and slot assignments in SQLite
// so the daemon can restore the grid after a restart.
//
// Only references are stored. Frames and preloaded payloads are always
// fetched again when a restored slot re-enters loading.
package workspace
