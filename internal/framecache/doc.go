// Package framecache holds decoded fast-path frame sequences keyed by
// instance.
//
// Each instance is downloaded at most once at a time: concurrent Ensure calls
// for the same instance share one fetch through a singleflight group and one
// reference-counted entry. Failed downloads leave nothing behind, and the
// last Release of an entry cancels an in-flight download and evicts it.
// Optionally, a bounded LRU keeps recently released entries so quick
// reassignments are served without a network round trip.
package framecache
