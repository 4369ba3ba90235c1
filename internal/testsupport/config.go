package testsupport

import (
	"path/filepath"
	"testing"

	"cinegrid/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Sources.FastPathBaseURL = "http://127.0.0.1:1/cine"
	cfgVal.Sources.HighFidelityBaseURL = "http://127.0.0.1:1/dicom-web"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSources points both frame sources at baseURL.
func WithSources(fastURL, highFidelityURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sources.FastPathBaseURL = fastURL
		b.cfg.Sources.HighFidelityBaseURL = highFidelityURL
	}
}

// WithGridDim overrides the starting layout.
func WithGridDim(dim int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Playback.GridDim = dim
	}
}

// WithAPIToken enables bearer authentication on the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithRetainReleased enables frame cache retention.
func WithRetainReleased(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FrameCache.RetainReleased = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
