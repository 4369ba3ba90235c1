// Package orchestrator exposes the grid-level commands: assigning instances
// to slots, bulk loading, play/pause, stepping, preload retries and layout
// changes.
//
// Every command runs under the board lock, so it is serialized with render
// loop ticks. Assignments start a fast-path download and a high-fidelity
// preload; watcher goroutines relay their progress to the board inbox tagged
// with the assignment generation, and reassigning a slot cancels them before
// the new assignment starts.
package orchestrator
