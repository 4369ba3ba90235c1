// Package daemon coordinates the long-running cinegrid process.
//
// It wires configuration, the frame cache, the preload manager, the
// orchestrator and the render loop into a single lifecycle with flock-based
// locking to prevent multiple instances. At start it restores the persisted
// workspace; while running it serves the HTTP API and the /api/events
// notice stream.
//
// Keep playback logic out of this package: the daemon owns startup, shutdown
// and transport only.
package daemon
