// Package preflight runs startup checks for cinegrid: the data and log
// directories must be writable and both frame sources should answer HTTP.
//
// Failed checks are reported, not enforced. The daemon logs them at startup
// and the CLI prints them in `cinegrid check`.
package preflight
