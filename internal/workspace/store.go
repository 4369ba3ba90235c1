package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/grid"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists the workspace in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Workspace is the persisted grid.
type Workspace struct {
	Dim         int
	Assignments map[int]cine.Instance
}

// Open opens the workspace database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.WorkspacePath())
}

// OpenPath opens or creates the workspace database at path.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveLayout records the grid dimension.
func (s *Store) SaveLayout(ctx context.Context, dim int) error {
	if err := grid.ValidateDim(dim); err != nil {
		return err
	}
	return s.exec(ctx,
		`INSERT INTO layout (id, dim, updated_at) VALUES (1, ?, ?)
         ON CONFLICT(id) DO UPDATE SET dim = excluded.dim, updated_at = excluded.updated_at`,
		dim, timestamp())
}

// SaveAssignment records inst as the assignment of slotID.
func (s *Store) SaveAssignment(ctx context.Context, slotID int, inst cine.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	return s.exec(ctx,
		`INSERT INTO assignments (slot, instance_id, instance_json, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(slot) DO UPDATE SET
             instance_id = excluded.instance_id,
             instance_json = excluded.instance_json,
             updated_at = excluded.updated_at`,
		slotID, inst.Key(), string(data), timestamp())
}

// ClearAssignment removes any assignment of slotID.
func (s *Store) ClearAssignment(ctx context.Context, slotID int) error {
	return s.exec(ctx, `DELETE FROM assignments WHERE slot = ?`, slotID)
}

// Reset removes the stored layout and every assignment.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.exec(ctx, `DELETE FROM assignments`); err != nil {
		return err
	}
	return s.exec(ctx, `DELETE FROM layout`)
}

// Load returns the stored workspace. A fresh database yields Dim 0 and no
// assignments.
func (s *Store) Load(ctx context.Context) (Workspace, error) {
	ctx = ensureContext(ctx)
	ws := Workspace{Assignments: make(map[int]cine.Instance)}

	err := s.db.QueryRowContext(ctx, `SELECT dim FROM layout WHERE id = 1`).Scan(&ws.Dim)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, fmt.Errorf("load layout: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT slot, instance_json FROM assignments ORDER BY slot`)
	if err != nil {
		return Workspace{}, fmt.Errorf("load assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slotID int
			raw    string
		)
		if err := rows.Scan(&slotID, &raw); err != nil {
			return Workspace{}, fmt.Errorf("scan assignment: %w", err)
		}
		var inst cine.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			return Workspace{}, fmt.Errorf("decode assignment for slot %d: %w", slotID, err)
		}
		ws.Assignments[slotID] = inst
	}
	if err := rows.Err(); err != nil {
		return Workspace{}, fmt.Errorf("iterate assignments: %w", err)
	}
	return ws, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if s == nil || s.db == nil {
		return errors.New("workspace store is closed")
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
