// Package viewport provides the headless canvas and high-fidelity viewport
// used by the daemon.
//
// Each slot keeps only its most recent picture: a fast-path paint overwrites
// the previous one, and a handoff replaces the slot's attached stack. Readers
// such as the HTTP frame endpoint take copies under a read lock.
package viewport
