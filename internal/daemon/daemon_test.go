package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cinegrid/internal/api"
	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/daemon"
	"cinegrid/internal/logging"
	"cinegrid/internal/testsupport"
	"cinegrid/internal/workspace"
)

type fixture struct {
	t      *testing.T
	cfg    *config.Config
	daemon *daemon.Daemon
	fast   *testsupport.FastSource
	hifi   *testsupport.HighFidelitySource
	server *httptest.Server
	client *api.Client
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store, err := workspace.Open(cfg)
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}
	fast := testsupport.NewFastSource()
	hifi := testsupport.NewHighFidelitySource()
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.Sources{Fast: fast, HighFidelity: hifi})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := daemon.NewAPIServer(cfg, d, logging.NewNop())
	ts := httptest.NewServer(srv.Handler(cfg.Paths.APIToken))
	t.Cleanup(func() {
		ts.Close()
		_ = d.Close()
	})
	return &fixture{
		t:      t,
		cfg:    cfg,
		daemon: d,
		fast:   fast,
		hifi:   hifi,
		server: ts,
		client: api.NewClient(ts.URL, cfg.Paths.APIToken, nil),
	}
}

// holdUpgrade keeps id on the fast path for the rest of the test.
func (f *fixture) holdUpgrade(id string) {
	gate := f.hifi.Gate(id)
	f.t.Cleanup(func() { close(gate) })
}

func (f *fixture) waitSlot(id int, cond func(api.Slot) bool) api.Slot {
	f.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		grid, err := f.client.Grid(context.Background())
		if err != nil {
			f.t.Fatalf("Grid: %v", err)
		}
		if cond(grid.Slots[id]) {
			return grid.Slots[id]
		}
		if time.Now().After(deadline) {
			f.t.Fatalf("slot %d never reached expected state: %+v", id, grid.Slots[id])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func instance(id string, frames int) cine.Instance {
	return cine.Instance{ID: id, NumberOfFrames: frames, FrameRate: 30}
}

func TestAssignPlaysAndServesFrame(t *testing.T) {
	f := newFixture(t, testsupport.WithGridDim(2))
	f.holdUpgrade("a")
	ctx := context.Background()

	slot, err := f.client.Assign(ctx, 1, api.AssignRequest{Instance: instance("a", 6)})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if slot.InstanceID != "a" || slot.ID != 1 {
		t.Fatalf("unexpected slot after assign: %+v", slot)
	}

	f.waitSlot(1, func(s api.Slot) bool { return s.Phase == "mjpeg-playing" })

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, contentType, err := f.client.Frame(ctx, 1)
		if err == nil {
			if contentType != "image/jpeg" {
				t.Fatalf("content type = %q", contentType)
			}
			if !strings.HasPrefix(string(data), "a-") {
				t.Fatalf("unexpected frame payload %q", data)
			}
			break
		}
		var apiErr *api.Error
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Fatalf("Frame: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame was drawn")
		}
		time.Sleep(10 * time.Millisecond)
	}

	status, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Grid.Dim != 2 || status.Cache.Entries != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.WorkspacePath != f.cfg.WorkspacePath() {
		t.Fatalf("workspace path = %q", status.WorkspacePath)
	}
}

func TestErrorsMapToStatusAndKind(t *testing.T) {
	f := newFixture(t, testsupport.WithGridDim(2))
	f.holdUpgrade("a")
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func() error
		status int
		kind   string
	}{
		{
			name: "invalid instance",
			call: func() error {
				_, err := f.client.Assign(ctx, 0, api.AssignRequest{Instance: cine.Instance{ID: "x"}})
				return err
			},
			status: http.StatusBadRequest,
			kind:   "invalid_instance",
		},
		{
			name: "frame rate beyond playback range",
			call: func() error {
				inst := instance("fast", 4)
				inst.FrameRate = 3e9
				_, err := f.client.Assign(ctx, 1, api.AssignRequest{Instance: inst})
				return err
			},
			status: http.StatusBadRequest,
			kind:   "invalid_instance",
		},
		{
			name: "hidden slot",
			call: func() error {
				_, err := f.client.Assign(ctx, 9, api.AssignRequest{Instance: instance("b", 3)})
				return err
			},
			status: http.StatusBadRequest,
			kind:   "invalid_reassignment",
		},
		{
			name: "slot out of range",
			call: func() error {
				return f.client.Play(ctx, 16)
			},
			status: http.StatusBadRequest,
			kind:   "invalid_reassignment",
		},
		{
			name: "layout too large",
			call: func() error {
				_, err := f.client.SetLayout(ctx, 5)
				return err
			},
			status: http.StatusBadRequest,
			kind:   "invalid_layout",
		},
		{
			name: "too many instances",
			call: func() error {
				insts := make([]cine.Instance, 17)
				for i := range insts {
					insts[i] = instance("many", 2)
				}
				_, err := f.client.Load(ctx, api.LoadRequest{Instances: insts})
				return err
			},
			status: http.StatusBadRequest,
			kind:   "invalid_layout",
		},
		{
			name: "step while playing",
			call: func() error {
				if _, err := f.client.Assign(ctx, 0, api.AssignRequest{Instance: instance("a", 4)}); err != nil {
					return err
				}
				_, err := f.client.Step(ctx, 0, 1)
				return err
			},
			status: http.StatusConflict,
			kind:   "illegal_transition",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var apiErr *api.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected api error, got %v", err)
			}
			if apiErr.Status != tc.status || apiErr.Kind != tc.kind {
				t.Fatalf("got %d %q, want %d %q (%s)", apiErr.Status, apiErr.Kind, tc.status, tc.kind, apiErr.Message)
			}
		})
	}
}

func TestPauseThenStep(t *testing.T) {
	f := newFixture(t, testsupport.WithGridDim(1))
	f.holdUpgrade("a")
	ctx := context.Background()

	if _, err := f.client.Assign(ctx, 0, api.AssignRequest{Instance: instance("a", 5)}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	f.waitSlot(0, func(s api.Slot) bool { return s.Phase == "mjpeg-playing" })
	if err := f.client.PauseAll(ctx); err != nil {
		t.Fatalf("PauseAll: %v", err)
	}
	before := f.waitSlot(0, func(s api.Slot) bool { return !s.Playing })
	after, err := f.client.Step(ctx, 0, 1)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if want := (before.CurrentFrame + 1) % 5; after.CurrentFrame != want {
		t.Fatalf("current frame = %d, want %d", after.CurrentFrame, want)
	}
	if err := f.client.Play(ctx, 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	f.waitSlot(0, func(s api.Slot) bool { return s.Playing })
}

func TestAuthRequiresBearerToken(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("secret"))
	ctx := context.Background()

	if _, err := f.client.Grid(ctx); err != nil {
		t.Fatalf("authorized request failed: %v", err)
	}
	for _, token := range []string{"", "wrong"} {
		_, err := api.NewClient(f.server.URL, token, nil).Grid(ctx)
		var apiErr *api.Error
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %v", token, err)
		}
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/cache", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	resp2, err := http.Get(f.server.URL + "/api/cache")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestEventsStreamPhaseNotices(t *testing.T) {
	f := newFixture(t, testsupport.WithGridDim(2))
	f.holdUpgrade("a")

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; retry the assign
	// until a notice for it arrives.
	deadline := time.Now().Add(5 * time.Second)
	for attempt := 0; ; attempt++ {
		if _, err := f.client.Assign(context.Background(), 3, api.AssignRequest{Instance: instance("a", 4)}); err != nil {
			t.Fatalf("Assign: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var n api.Notice
		if err := conn.ReadJSON(&n); err == nil {
			if n.Slot != 3 || n.InstanceID != "a" || n.At == "" {
				t.Fatalf("unexpected notice: %+v", n)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no notice after %d assigns", attempt+1)
		}
		conn.Close()
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
	}
}

func TestSecondDaemonCannotStart(t *testing.T) {
	f := newFixture(t)
	other, err := daemon.New(f.cfg, nil, logging.NewNop(), daemon.Sources{
		Fast:         testsupport.NewFastSource(),
		HighFidelity: testsupport.NewHighFidelitySource(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer other.Close()
	if err := other.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail while the lock is held")
	}

	f.daemon.Stop()
	if f.daemon.Status(context.Background()).Running {
		t.Fatal("expected stopped daemon")
	}
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("start after release: %v", err)
	}
}

func TestWorkspaceRestoredOnStart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithGridDim(4))
	sources := func() daemon.Sources {
		return daemon.Sources{Fast: testsupport.NewFastSource(), HighFidelity: testsupport.NewHighFidelitySource()}
	}

	store, err := workspace.Open(cfg)
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}
	first, err := daemon.New(cfg, store, logging.NewNop(), sources())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	orch := first.Orchestrator()
	if err := orch.Assign(0, instance("a", 3)); err != nil {
		t.Fatalf("Assign 0: %v", err)
	}
	if err := orch.Assign(9, instance("b", 3)); err != nil {
		t.Fatalf("Assign 9: %v", err)
	}
	if err := orch.SetGridLayout(2); err != nil {
		t.Fatalf("SetGridLayout: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = workspace.Open(cfg)
	if err != nil {
		t.Fatalf("reopen workspace: %v", err)
	}
	second, err := daemon.New(cfg, store, logging.NewNop(), sources())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	slots, dim := second.Orchestrator().Snapshot()
	if dim != 2 {
		t.Fatalf("dim = %d, want 2", dim)
	}
	if slots[0].Instance == nil || slots[0].Instance.ID != "a" || !slots[0].Active {
		t.Fatalf("slot 0 not restored: %+v", slots[0])
	}
	if slots[9].Instance == nil || slots[9].Instance.ID != "b" || slots[9].Active {
		t.Fatalf("hidden slot 9 not restored: %+v", slots[9])
	}
}
