// Package pg implements store.Store (SPEC_FULL.md §6) against Postgres,
// grounded in internal/store/session_store.go's cache-plus-DB pattern
// (in-memory hot cache fronting a DB write-through) and
// internal/store/pg/sessions.go's JSONB-column persistence shape, trimmed
// from the teacher's per-channel session metadata (channel, label,
// spawnedBy, agent/user UUID columns) down to a single JSONB snapshot of
// state.AgentState keyed by thread ID.
package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/store"
)

// Schema is the DDL NewStore expects to already exist (applied via
// github.com/golang-migrate/migrate/v4 migrations, not run inline here —
// matching the teacher's migration-file-driven schema management rather
// than ad hoc CREATE TABLE IF NOT EXISTS calls at connect time).
const Schema = `
CREATE TABLE IF NOT EXISTS agent_checkpoints (
	thread_id  TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store implements store.Store backed by a Postgres connection pool, with
// an in-memory read cache: every Save writes to the database, and a Load of
// a thread this Store has already saved or loaded skips the round trip.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]*state.AgentState
}

// Open connects to Postgres and returns a ready Store. Callers are
// expected to have applied Schema via migrations beforehand.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool, cache: make(map[string]*state.AgentState)}, nil
}

func (s *Store) Save(ctx context.Context, threadID string, snap *state.AgentState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("pg: marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_checkpoints (thread_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET state = $2, updated_at = $3
	`, threadID, data, time.Now())
	if err != nil {
		return fmt.Errorf("pg: save: %w", err)
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

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM agent_checkpoints WHERE thread_id = $1`, threadID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("pg: load %q: %w", threadID, err)
	}

	snap := state.New()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("pg: unmarshal state: %w", err)
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

	_, err := s.pool.Exec(ctx, `DELETE FROM agent_checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("pg: delete %q: %w", threadID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]store.ThreadInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT thread_id, updated_at FROM agent_checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("pg: list: %w", err)
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
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)
