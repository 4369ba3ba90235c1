package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cinegrid/internal/api"
	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/daemon"
	"cinegrid/internal/logging"
	"cinegrid/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	addr       string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	hifi := testsupport.NewHighFidelitySource()
	d, err := daemon.New(cfg, nil, logging.NewNop(), daemon.Sources{
		Fast:         testsupport.NewFastSource(),
		HighFidelity: hifi,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ts := httptest.NewServer(daemon.NewAPIServer(cfg, d, logging.NewNop()).Handler(cfg.Paths.APIToken))
	t.Cleanup(func() {
		ts.Close()
		_ = d.Close()
	})
	return &cliTestEnv{cfg: cfg, daemon: d, configPath: configPath, addr: ts.URL}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := config.Encode(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", env.configPath, "--addr", env.addr}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAssignStatusAndUnassign(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithGridDim(2))

	out, err := env.run(t, "assign", "1", "us-001", "--frames", "12", "--fps", "24")
	if err != nil {
		t.Fatalf("assign: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Slot 1: us-001") {
		t.Fatalf("unexpected assign output: %q", out)
	}

	out, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"Daemon", "Layout", "2x2", "us-001", "Slot"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if status.Grid.Slots[1].InstanceID != "us-001" {
		t.Fatalf("unexpected slot in json status: %+v", status.Grid.Slots[1])
	}

	if out, err = env.run(t, "unassign", "1"); err != nil {
		t.Fatalf("unassign: %v\n%s", err, out)
	}
	slots, _ := env.daemon.Orchestrator().Snapshot()
	if slots[1].Instance != nil {
		t.Fatalf("expected slot 1 cleared, got %+v", slots[1])
	}
}

func TestLoadCommandGrowsLayout(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithGridDim(1))
	insts := []cine.Instance{
		{ID: "a", NumberOfFrames: 4},
		{ID: "b", NumberOfFrames: 4},
		{ID: "c", NumberOfFrames: 4},
	}
	data, err := json.Marshal(insts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "study.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := env.run(t, "load", path)
	if err != nil {
		t.Fatalf("load: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Loaded 3 instances into a 2x2 grid") {
		t.Fatalf("unexpected load output: %q", out)
	}
	if got := env.daemon.Orchestrator().Layout(); got != 2 {
		t.Fatalf("layout = %d, want 2", got)
	}
}

func TestLayoutCommandSurfacesErrorKind(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "layout", "3"); err != nil {
		t.Fatalf("layout 3: %v", err)
	}
	_, err := env.run(t, "layout", "7")
	if err == nil || !strings.Contains(err.Error(), "invalid_layout") {
		t.Fatalf("expected invalid_layout error, got %v", err)
	}
}

func TestPlaybackCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	if out, err := env.run(t, "pause"); err != nil {
		t.Fatalf("pause: %v\n%s", err, out)
	}
	if out, err := env.run(t, "play"); err != nil {
		t.Fatalf("play: %v\n%s", err, out)
	}
	if _, err := env.run(t, "pause", "16"); err == nil {
		t.Fatal("expected out-of-range slot to fail")
	}
}

func TestCacheCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "cache")
	if err != nil {
		t.Fatalf("cache: %v\n%s", err, out)
	}
	for _, want := range []string{"Entries", "Active preloads"} {
		if !strings.Contains(out, want) {
			t.Fatalf("cache output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	target := filepath.Join(t.TempDir(), "cinegrid.toml")
	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}

	env := setupCLITestEnv(t, testsupport.WithAPIToken("secret-token"))
	// The written config carries the redacted token; rewrite it with the real one.
	data, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if err := os.WriteFile(env.configPath, bytes.ReplaceAll(data, []byte("<redacted>"), []byte("secret-token")), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	out, err = runCLI(t, "--config", env.configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v\n%s", err, out)
	}
	if strings.Contains(out, "secret-token") || !strings.Contains(out, "<redacted>") {
		t.Fatalf("expected redacted token in output:\n%s", out)
	}

	if _, err := env.run(t, "status"); err != nil {
		t.Fatalf("status with token: %v", err)
	}
}

func TestParseSlotArg(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{" 15 ", 15, true},
		{"16", 0, false},
		{"-1", 0, false},
		{"x", 0, false},
	}
	for _, tc := range tests {
		got, err := parseSlotArg(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("parseSlotArg(%q) = %d, %v", tc.in, got, err)
		}
	}
}

func TestReadInstancesAcceptsWrappedObject(t *testing.T) {
	insts, err := readInstances(strings.NewReader(`{"instances":[{"id":"a","number_of_frames":2}]}`), "-")
	if err != nil {
		t.Fatalf("readInstances: %v", err)
	}
	if len(insts) != 1 || insts[0].ID != "a" || insts[0].NumberOfFrames != 2 {
		t.Fatalf("unexpected instances: %+v", insts)
	}
	if _, err := readInstances(strings.NewReader(`not json`), "-"); err == nil {
		t.Fatal("expected parse error")
	}
}
