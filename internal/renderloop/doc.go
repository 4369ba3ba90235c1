// Package renderloop drives every fast-path slot from one shared ticker.
//
// Each tick locks the board once: it drains the event inbox, arms preloaded
// slots, advances per-slot frame clocks, runs the transition coordinator on
// loop wraps and paints through the Canvas. Slots in transitioning or
// cornerstone are owned by the viewport and are never painted here.
package renderloop
