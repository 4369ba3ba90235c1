package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cinegrid/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "cinegrid", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, ".local", "share", "cinegrid") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7491" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Playback.DefaultFPS != 30 || cfg.Playback.TickRate != 60 {
		t.Fatalf("unexpected playback defaults: %+v", cfg.Playback)
	}
	if cfg.FrameCache.RetainReleased != 0 {
		t.Fatalf("expected pure ref counting by default, got retain=%d", cfg.FrameCache.RetainReleased)
	}
	if cfg.WorkspacePath() != filepath.Join(cfg.Paths.DataDir, "workspace.db") {
		t.Fatalf("unexpected workspace path %q", cfg.WorkspacePath())
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "cinegrid.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/grid",
		},
		"sources": map[string]any{
			"fast_path_base_url":     "https://pacs.example/cine/",
			"high_fidelity_base_url": "https://pacs.example/dicom-web",
		},
		"playback": map[string]any{
			"default_fps": 24,
			"grid_dim":    4,
		},
		"preload": map[string]any{
			"chunk_size":  16,
			"concurrency": 2,
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "grid") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Sources.FastPathBaseURL != "https://pacs.example/cine" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Sources.FastPathBaseURL)
	}
	if cfg.Playback.DefaultFPS != 24 || cfg.Playback.GridDim != 4 {
		t.Fatalf("unexpected playback: %+v", cfg.Playback)
	}
	if cfg.Preload.ChunkSize != 16 || cfg.Preload.Concurrency != 2 {
		t.Fatalf("unexpected preload: %+v", cfg.Preload)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased format, got %q", cfg.Logging.Format)
	}
	if cfg.Playback.TickRate != 60 {
		t.Fatalf("expected default tick rate to survive, got %d", cfg.Playback.TickRate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CINEGRID_FAST_PATH_URL", "http://fast.local:9000/")
	t.Setenv("CINEGRID_HIGH_FIDELITY_URL", "http://hifi.local:9001")
	t.Setenv("CINEGRID_API_TOKEN", " secret ")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sources.FastPathBaseURL != "http://fast.local:9000" {
		t.Fatalf("fast path override not applied: %q", cfg.Sources.FastPathBaseURL)
	}
	if cfg.Sources.HighFidelityBaseURL != "http://hifi.local:9001" {
		t.Fatalf("high fidelity override not applied: %q", cfg.Sources.HighFidelityBaseURL)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("api token override not applied: %q", cfg.Paths.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"grid too large", func(c *config.Config) { c.Playback.GridDim = 5 }, "playback.grid_dim"},
		{"grid negative", func(c *config.Config) { c.Playback.GridDim = -1 }, "playback.grid_dim"},
		{"relative source", func(c *config.Config) { c.Sources.FastPathBaseURL = "cine" }, "sources.fast_path_base_url"},
		{"ftp source", func(c *config.Config) { c.Sources.HighFidelityBaseURL = "ftp://host/x" }, "sources.high_fidelity_base_url"},
		{"zero concurrency", func(c *config.Config) { c.Preload.Concurrency = 0 }, "preload.concurrency"},
		{"zero fps", func(c *config.Config) { c.Playback.DefaultFPS = 0 }, "playback.default_fps"},
		{"huge fps", func(c *config.Config) { c.Playback.DefaultFPS = 3e9 }, "playback.default_fps"},
		{"negative retain", func(c *config.Config) { c.FrameCache.RetainReleased = -1 }, "frame_cache.retain_released"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Playback.MaxTransitionAttempts != 3 {
		t.Fatalf("unexpected sample attempts %d", cfg.Playback.MaxTransitionAttempts)
	}
}

func TestEncodeRedactsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.APIToken = "top-secret"
	cfg.Sources.AuthToken = "source-secret"
	data, err := config.Encode(&cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "top-secret") || strings.Contains(out, "source-secret") {
		t.Fatalf("secrets leaked: %s", out)
	}
	if !strings.Contains(out, "grid_dim") {
		t.Fatalf("expected playback section in output: %s", out)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
