// Package main hosts the cinegrid CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon (`cinegrid serve`) and
// translates terminal invocations into HTTP calls against it: slot
// assignment, playback control, layout changes, status and cache reports.
// It centralizes configuration resolution and daemon address discovery so
// subcommands can focus on presentation.
//
// Keep this package lean: playback behaviour lives in the internal packages
// and is surfaced here through dedicated commands or flags.
package main
