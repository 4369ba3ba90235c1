// Package daemonrun assembles and runs the cinegrid daemon process.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"cinegrid/internal/config"
	"cinegrid/internal/daemon"
	"cinegrid/internal/logging"
	"cinegrid/internal/preflight"
	"cinegrid/internal/source"
	"cinegrid/internal/workspace"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the cinegrid daemon and blocks until SIGINT, SIGTERM or
// cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "cinegrid.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	checks := preflight.RunAll(signalCtx, cfg)
	for _, failed := range preflight.Failed(checks) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run `cinegrid check` for the full report"),
			logging.String(logging.FieldImpact, "affected slots will fail to load until the check passes"),
		)
	}

	client, err := source.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create source client: %w", err)
	}

	store, err := workspace.Open(cfg)
	if err != nil {
		logger.Error("open workspace store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger, daemon.Sources{Fast: client, HighFidelity: client})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()
	d.SetChecks(checks)

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	apiServer := daemon.NewAPIServer(cfg, d, logger)
	if err := apiServer.Start(signalCtx); err != nil {
		return err
	}
	defer apiServer.Stop()

	logger.Info("cinegrid daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("api", apiServer.Addr()),
		logging.String("fast_path_source", cfg.Sources.FastPathBaseURL),
		logging.String("high_fidelity_source", cfg.Sources.HighFidelityBaseURL),
		logging.Int("grid_dim", cfg.Playback.GridDim),
	)

	<-signalCtx.Done()
	logger.Info("cinegrid daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "cinegrid.log")
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
