// Package sqlite persists run state in an SQLite database so conversations
// survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Gurpartap/taskflow/agent"
)

// Store implements agent.RunStore on top of SQLite with the same optimistic
// versioning contract as the in-memory store.
type Store struct {
	conn *sql.DB
	path string
}

var _ agent.RunStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("open run store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writers serialize inside SQLite anyway; a single connection avoids SQLITE_BUSY on upgrades.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{conn: conn, path: path}
	if err := store.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					version INTEGER NOT NULL,
					status TEXT NOT NULL,
					stage TEXT NOT NULL DEFAULT '',
					payload TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE INDEX idx_runs_status ON runs(status);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, state agent.RunState) error {
	if ctx == nil {
		return agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := agent.ValidateRunState(state); err != nil {
		return err
	}

	expected := state.Version
	state.Version = expected + 1
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run %q: %w", state.ID, err)
	}
	now := time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM runs WHERE id = ?", string(state.ID)).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expected != 0 {
			return fmt.Errorf(
				"%w: run %q expected version 0 on create, got %d",
				agent.ErrRunVersionConflict,
				state.ID,
				expected,
			)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, version, status, stage, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(state.ID), state.Version, string(state.Status), state.Stage, string(payload), now, now,
		); err != nil {
			return fmt.Errorf("insert run %q: %w", state.ID, err)
		}
	case err != nil:
		return fmt.Errorf("read run version %q: %w", state.ID, err)
	case current != expected:
		return fmt.Errorf(
			"%w: run %q expected version %d, got %d",
			agent.ErrRunVersionConflict,
			state.ID,
			current,
			expected,
		)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET version = ?, status = ?, stage = ?, payload = ?, updated_at = ? WHERE id = ? AND version = ?`,
			state.Version, string(state.Status), state.Stage, string(payload), now, string(state.ID), expected,
		); err != nil {
			return fmt.Errorf("update run %q: %w", state.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %q: %w", state.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID agent.RunID) (agent.RunState, error) {
	if ctx == nil {
		return agent.RunState{}, agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return agent.RunState{}, err
	}
	if runID == "" {
		return agent.RunState{}, fmt.Errorf("%w: field=run_id reason=empty", agent.ErrInvalidRunID)
	}

	var (
		version int64
		payload string
	)
	err := s.conn.QueryRowContext(ctx, "SELECT version, payload FROM runs WHERE id = ?", string(runID)).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.RunState{}, fmt.Errorf("%w: %q", agent.ErrRunNotFound, runID)
	}
	if err != nil {
		return agent.RunState{}, fmt.Errorf("load run %q: %w", runID, err)
	}

	var state agent.RunState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return agent.RunState{}, fmt.Errorf("decode run %q: %w", runID, err)
	}
	state.Version = version
	return state, nil
}

// Summary is a compact listing row.
type Summary struct {
	ID        agent.RunID     `json:"id"`
	Status    agent.RunStatus `json:"status"`
	Stage     string          `json:"stage,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// List returns the most recently updated runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, status, stage, version, updated_at FROM runs ORDER BY updated_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			summary Summary
			id      string
			status  string
		)
		if err := rows.Scan(&id, &status, &summary.Stage, &summary.Version, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		summary.ID = agent.RunID(id)
		summary.Status = agent.RunStatus(status)
		out = append(out, summary)
	}
	return out, rows.Err()
}
