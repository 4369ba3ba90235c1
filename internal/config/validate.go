package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validatePreload(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSources() error {
	for key, value := range map[string]string{
		"sources.fast_path_base_url":     c.Sources.FastPathBaseURL,
		"sources.high_fidelity_base_url": c.Sources.HighFidelityBaseURL,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set (create a config with 'cinegrid config init')", key)
		}
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, value)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must use http or https, got %q", key, parsed.Scheme)
		}
	}
	return ensurePositiveMap(map[string]int{
		"sources.request_timeout": c.Sources.RequestTimeout,
	})
}

func (c *Config) validatePlayback() error {
	if !(c.Playback.DefaultFPS > 0 && c.Playback.DefaultFPS <= 1000) {
		return errors.New("playback.default_fps must be in (0, 1000]")
	}
	if c.Playback.TickRate > 1000 {
		return errors.New("playback.tick_rate must be at most 1000")
	}
	if c.Playback.GridDim < 1 || c.Playback.GridDim > MaxGridDim {
		return fmt.Errorf("playback.grid_dim must be between 1 and %d", MaxGridDim)
	}
	return ensurePositiveMap(map[string]int{
		"playback.tick_rate":               c.Playback.TickRate,
		"playback.max_transition_attempts": c.Playback.MaxTransitionAttempts,
	})
}

func (c *Config) validatePreload() error {
	if c.FrameCache.RetainReleased < 0 {
		return errors.New("frame_cache.retain_released must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"preload.chunk_size":  c.Preload.ChunkSize,
		"preload.concurrency": c.Preload.Concurrency,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
