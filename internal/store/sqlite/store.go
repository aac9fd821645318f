// Package sqlite implements store.Store (SPEC_FULL.md §6) against a local
// SQLite file, for single-operator/local-workspace deployments that don't
// want to stand up Postgres. Grounded on internal/store/pg/store.go's
// cache-plus-DB shape, swapping pgx's pool for database/sql over
// modernc.org/sqlite (the teacher's stack has no SQLite driver of its own;
// modernc.org/sqlite is a pure-Go driver already present for this purpose).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/store"
)

// Schema mirrors pg.Schema; SQLite's JSON1 extension (bundled with
// modernc.org/sqlite) treats the column as plain TEXT, so state is stored
// as a JSON-encoded blob rather than a native JSONB type.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_checkpoints (
	thread_id  TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Store implements store.Store backed by a local SQLite database file, with
// the same in-memory read cache internal/store/pg.Store uses.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*state.AgentState
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures Schema is applied. Unlike pg.Open, SQLite has no separate
// migration runner in this module, so the schema is applied inline — a
// single CREATE TABLE IF NOT EXISTS is cheap and idempotent enough not to
// need golang-migrate's versioning for a single-table, single-node store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db, cache: make(map[string]*state.AgentState)}, nil
}

func (s *Store) Save(ctx context.Context, threadID string, snap *state.AgentState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_checkpoints (thread_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, threadID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}

	s.mu.Lock()
	s.cache[threadID] = snap
	s.mu.Unlock()
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*state.AgentState, error) {
	s.mu.RLock()
	if cached, ok := s.cache[threadID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM agent_checkpoints WHERE thread_id = ?`, threadID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %q: %w", threadID, err)
	}

	snap := state.New()
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal state: %w", err)
	}

	s.mu.Lock()
	s.cache[threadID] = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.cache, threadID)
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", threadID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]store.ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, updated_at FROM agent_checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []store.ThreadInfo
	for rows.Next() {
		var info store.ThreadInfo
		if err := rows.Scan(&info.ThreadID, &info.Updated); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
