// Package grid is the explicit state container shared by the orchestrator
// and the render loop.
//
// Board guards every slot behind a single mutex so commands and ticks never
// interleave. Background fetch work never takes that mutex: it posts
// slot.Events into a separately locked inbox which the render loop drains at
// the start of each tick. Notices describing phase, progress, error and
// layout changes are collected while the lock is held and fanned out to
// subscribers after it is released; slow subscribers lose notices rather than
// stalling playback.
package grid
