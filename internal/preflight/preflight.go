package preflight

import (
	"context"

	"cinegrid/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	timeout := cfg.RequestTimeout()
	results = append(results,
		CheckSource(ctx, "Fast-path source", cfg.Sources.FastPathBaseURL, cfg.Sources.AuthToken, timeout),
		CheckSource(ctx, "High-fidelity source", cfg.Sources.HighFidelityBaseURL, cfg.Sources.AuthToken, timeout),
	)
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
