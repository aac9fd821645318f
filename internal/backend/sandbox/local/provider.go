package local

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/deepagent/internal/backend/sandbox"
)

// Provider implements sandbox.Provider by keeping each sandbox as a
// dedicated temp directory and a *Backend rooted there. Sandboxes persist
// for the process lifetime; Delete removes the backing directory only when
// the provider created it (no Workdir was given), and leaves a caller's
// Workdir in place.
type Provider struct {
	mu       sync.Mutex
	restrict bool
	boxes    map[string]*boxEntry
}

type boxEntry struct {
	backend *Backend
	workdir string
	created bool
}

func NewProvider(restrict bool) *Provider {
	return &Provider{restrict: restrict, boxes: make(map[string]*boxEntry)}
}

func (p *Provider) List(ctx context.Context, opts sandbox.ListOptions) (*sandbox.ListResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := make([]sandbox.ListItem, 0, len(p.boxes))
	for id := range p.boxes {
		items = append(items, sandbox.ListItem{SandboxID: id})
	}
	return &sandbox.ListResult{Items: items}, nil
}

func (p *Provider) GetOrCreate(ctx context.Context, opts sandbox.GetOrCreateOptions) (sandbox.SandboxBackend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts.SandboxID != "" {
		entry, ok := p.boxes[opts.SandboxID]
		if !ok {
			return nil, fmt.Errorf("sandbox %q does not exist", opts.SandboxID)
		}
		return entry.backend, nil
	}

	id := uuid.NewString()
	workdir := opts.Workdir
	if workdir == "" {
		dir, err := os.MkdirTemp("", "deepagent-sandbox-")
		if err != nil {
			return nil, err
		}
		workdir = dir
	}
	b := New(id, workdir, opts.Restrict || p.restrict)
	p.boxes[id] = &boxEntry{backend: b, workdir: workdir, created: opts.Workdir == ""}
	return b, nil
}

func (p *Provider) Delete(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.boxes[sandboxID]
	if !ok {
		return nil // idempotent
	}
	delete(p.boxes, sandboxID)
	if entry.created {
		return os.RemoveAll(entry.workdir)
	}
	return nil
}
