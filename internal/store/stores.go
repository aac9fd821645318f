// Package store defines the checkpoint persistence contract the kernel's
// Checkpointer collaborator is backed by (SPEC_FULL.md §6), plus the two
// concrete adapters (pg, sqlite) that satisfy it.
//
// Grounded in internal/store/session_store.go's SessionStore interface
// shape (key-addressed CRUD over a serialized conversation), trimmed from
// the teacher's channel/multi-tenant session model (label, spawnedBy,
// lastUsedChannel, agent UUID/user ID) down to what a single checkpointer
// needs: load/save/delete/list a full AgentState snapshot by thread ID.
package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// ThreadInfo is lightweight metadata for listing checkpointed threads.
type ThreadInfo struct {
	ThreadID string    `json:"thread_id"`
	Updated  time.Time `json:"updated"`
}

// Store is the checkpoint persistence contract. kernel.Checkpointer is a
// narrower view of this (Save/Load only); Store additionally supports
// listing and deleting threads, which the CLI's session management needs.
type Store interface {
	Save(ctx context.Context, threadID string, s *state.AgentState) error
	Load(ctx context.Context, threadID string) (*state.AgentState, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]ThreadInfo, error)
	Close() error
}
