// Package slot implements the per-slot hybrid playback state machine.
//
// A Slot moves between the phases declared in package cine along a fixed
// transition table. Work running outside the scheduler reports back through
// Events tagged with the assignment generation; events from a previous
// assignment are dropped on arrival.
package slot
