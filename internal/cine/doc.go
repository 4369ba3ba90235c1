// Package cine holds the domain vocabulary shared by every playback component:
// instance references, fast-path frames, high-fidelity payloads, the closed set
// of slot phases, and the error markers used to classify failures.
//
// Keep this package free of behaviour beyond validation and formatting so the
// cache, preload, slot and orchestration packages can all depend on it without
// import cycles.
package cine
