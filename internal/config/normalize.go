package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSources()
	c.normalizePlayback()
	c.normalizePreload()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CINEGRID_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSources() {
	if value, ok := os.LookupEnv("CINEGRID_FAST_PATH_URL"); ok && strings.TrimSpace(value) != "" {
		c.Sources.FastPathBaseURL = value
	}
	if value, ok := os.LookupEnv("CINEGRID_HIGH_FIDELITY_URL"); ok && strings.TrimSpace(value) != "" {
		c.Sources.HighFidelityBaseURL = value
	}
	c.Sources.FastPathBaseURL = strings.TrimRight(strings.TrimSpace(c.Sources.FastPathBaseURL), "/")
	c.Sources.HighFidelityBaseURL = strings.TrimRight(strings.TrimSpace(c.Sources.HighFidelityBaseURL), "/")
	c.Sources.AuthToken = strings.TrimSpace(c.Sources.AuthToken)
	if c.Sources.RequestTimeout <= 0 {
		c.Sources.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizePlayback() {
	if c.Playback.DefaultFPS <= 0 {
		c.Playback.DefaultFPS = defaultFPS
	}
	if c.Playback.TickRate <= 0 {
		c.Playback.TickRate = defaultTickRate
	}
	if c.Playback.GridDim == 0 {
		c.Playback.GridDim = defaultGridDim
	}
	if c.Playback.MaxTransitionAttempts <= 0 {
		c.Playback.MaxTransitionAttempts = defaultMaxTransitionAttempts
	}
}

func (c *Config) normalizePreload() {
	if c.Preload.ChunkSize <= 0 {
		c.Preload.ChunkSize = defaultPreloadChunkSize
	}
	if c.Preload.Concurrency <= 0 {
		c.Preload.Concurrency = defaultPreloadConcurrency
	}
	if c.FrameCache.RetainReleased < 0 {
		c.FrameCache.RetainReleased = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
