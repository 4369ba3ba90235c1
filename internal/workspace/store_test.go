package workspace_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"cinegrid/internal/cine"
	"cinegrid/internal/testsupport"
	"cinegrid/internal/workspace"
)

func openStore(t *testing.T) *workspace.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := workspace.Open(cfg)
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadEmptyWorkspace(t *testing.T) {
	store := openStore(t)
	ws, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.Dim != 0 || len(ws.Assignments) != 0 {
		t.Fatalf("expected empty workspace, got %+v", ws)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	a := cine.Instance{ID: "a", StudyUID: "1", SeriesUID: "2", SOPInstanceUID: "3", NumberOfFrames: 40, FrameRate: 25}
	b := cine.Instance{ID: "b", NumberOfFrames: 12, CineURL: "http://cine/b"}

	if err := store.SaveLayout(ctx, 3); err != nil {
		t.Fatalf("SaveLayout: %v", err)
	}
	if err := store.SaveAssignment(ctx, 0, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	if err := store.SaveAssignment(ctx, 4, a); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	if err := store.SaveAssignment(ctx, 4, b); err != nil {
		t.Fatalf("SaveAssignment overwrite: %v", err)
	}
	if err := store.SaveLayout(ctx, 4); err != nil {
		t.Fatalf("SaveLayout: %v", err)
	}

	ws, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.Dim != 4 {
		t.Fatalf("expected dim 4, got %d", ws.Dim)
	}
	if len(ws.Assignments) != 2 || ws.Assignments[0] != a || ws.Assignments[4] != b {
		t.Fatalf("unexpected assignments %+v", ws.Assignments)
	}

	if err := store.ClearAssignment(ctx, 0); err != nil {
		t.Fatalf("ClearAssignment: %v", err)
	}
	if err := store.ClearAssignment(ctx, 9); err != nil {
		t.Fatalf("ClearAssignment of empty slot: %v", err)
	}
	ws, _ = store.Load(ctx)
	if _, ok := ws.Assignments[0]; ok || len(ws.Assignments) != 1 {
		t.Fatalf("expected slot 0 cleared, got %+v", ws.Assignments)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	ws, _ = store.Load(ctx)
	if ws.Dim != 0 || len(ws.Assignments) != 0 {
		t.Fatalf("expected reset workspace, got %+v", ws)
	}
}

func TestSaveLayoutRejectsInvalidDim(t *testing.T) {
	store := openStore(t)
	if err := store.SaveLayout(context.Background(), 5); !errors.Is(err, cine.ErrInvalidLayout) {
		t.Fatalf("expected invalid layout, got %v", err)
	}
}

func TestWorkspaceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")
	store, err := workspace.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if err := store.SaveAssignment(context.Background(), 2, cine.Instance{ID: "x", NumberOfFrames: 3}); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	_ = store.Close()

	reopened, err := workspace.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	ws, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ws.Assignments[2].ID != "x" {
		t.Fatalf("expected assignment to survive reopen, got %+v", ws.Assignments)
	}
}

func TestSchemaMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")
	store, err := workspace.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	_ = db.Close()

	if _, err := workspace.OpenPath(path); !errors.Is(err, workspace.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
