// Package config loads, normalizes, and validates cinegrid configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// CINEGRID_FAST_PATH_URL and CINEGRID_API_TOKEN. The Config type centralizes
// every knob the daemon and CLI need: source endpoints, playback timing, cache
// and preload tuning, and log output.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
