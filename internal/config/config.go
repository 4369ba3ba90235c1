package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Sources contains the endpoints of the fast-path and high-fidelity frame sources.
type Sources struct {
	FastPathBaseURL     string `toml:"fast_path_base_url"`
	HighFidelityBaseURL string `toml:"high_fidelity_base_url"`
	RequestTimeout      int    `toml:"request_timeout"`
	AuthToken           string `toml:"auth_token"`
}

// Playback contains render loop and transition settings.
type Playback struct {
	DefaultFPS            float64 `toml:"default_fps"`
	TickRate              int     `toml:"tick_rate"`
	GridDim               int     `toml:"grid_dim"`
	Autoplay              bool    `toml:"autoplay"`
	MaxTransitionAttempts int     `toml:"max_transition_attempts"`
}

// FrameCache contains configuration for the fast-path frame cache.
type FrameCache struct {
	// RetainReleased keeps up to N completed entries after their last slot
	// releases them. Zero evicts on release.
	RetainReleased int `toml:"retain_released"`
}

// Preload contains configuration for high-fidelity frame preloading.
type Preload struct {
	ChunkSize   int `toml:"chunk_size"`
	Concurrency int `toml:"concurrency"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cinegrid.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Sources: fast-path and DICOMweb endpoints
//   - Playback: frame rate, tick rate, grid layout and transition retries
//   - FrameCache: released-entry retention
//   - Preload: chunking and parallelism for high-fidelity frames
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Sources    Sources    `toml:"sources"`
	Playback   Playback   `toml:"playback"`
	FrameCache FrameCache `toml:"frame_cache"`
	Preload    Preload    `toml:"preload"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cinegrid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkspacePath is the SQLite file holding the persisted grid layout.
func (c *Config) WorkspacePath() string {
	return filepath.Join(c.Paths.DataDir, "workspace.db")
}

// LockPath is the single-instance lock file guarding the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "cinegrid.lock")
}

// RequestTimeout returns the per-request source timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sources.RequestTimeout) * time.Second
}

// TickInterval returns the render loop tick period.
func (c *Config) TickInterval() time.Duration {
	if c.Playback.TickRate <= 0 {
		return time.Second / defaultTickRate
	}
	return time.Second / time.Duration(c.Playback.TickRate)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML, used by `cinegrid config show`.
func Encode(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	redacted := *cfg
	if redacted.Paths.APIToken != "" {
		redacted.Paths.APIToken = "<redacted>"
	}
	if redacted.Sources.AuthToken != "" {
		redacted.Sources.AuthToken = "<redacted>"
	}
	return toml.Marshal(redacted)
}
