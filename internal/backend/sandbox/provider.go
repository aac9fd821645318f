// Package sandbox defines the SandboxProvider protocol that concrete
// sandbox implementations (local-process, go-rod browser) satisfy, plus a
// rate-limiting decorator shared by all providers.
package sandbox

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
)

// SandboxBackend is a Backend that additionally claims the sandbox
// capability (Execute) and exposes a stable identifier so a caller can
// reattach to the same sandbox across calls.
type SandboxBackend interface {
	backend.Backend
	ID() string
}

// ListOptions/ListResult implement cursor-based pagination over live
// sandboxes, per the provider contract.
type ListOptions struct {
	Cursor string
	Limit  int
}

type ListItem struct {
	SandboxID string
	Metadata  map[string]string
}

type ListResult struct {
	Items  []ListItem
	Cursor string
}

type GetOrCreateOptions struct {
	SandboxID string // if set, must already exist or GetOrCreate fails
	Workdir   string
	Restrict  bool
}

// Provider is the abstract interface every concrete sandbox (local-process,
// go-rod browser, or a future remote provider) satisfies.
type Provider interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	GetOrCreate(ctx context.Context, opts GetOrCreateOptions) (SandboxBackend, error)
	Delete(ctx context.Context, sandboxID string) error
}
