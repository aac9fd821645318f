package rod

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/deepagent/internal/backend/sandbox"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// Provider manages a pool of browser sandboxes, each a dedicated headless
// browser instance. ControlURL, when set, connects to an already-running
// browser (e.g. a remote headless-chrome service) instead of launching a
// local one.
type Provider struct {
	mu         sync.Mutex
	controlURL string
	boxes      map[string]*Backend
}

func NewProvider(controlURL string) *Provider {
	return &Provider{controlURL: controlURL, boxes: make(map[string]*Backend)}
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
		b, ok := p.boxes[opts.SandboxID]
		if !ok {
			return nil, fmt.Errorf("sandbox %q does not exist", opts.SandboxID)
		}
		return b, nil
	}

	id := uuid.NewString()
	b, err := New(id, p.controlURL, make(state.Files))
	if err != nil {
		return nil, err
	}
	p.boxes[id] = b
	return b, nil
}

func (p *Provider) Delete(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.boxes[sandboxID]
	if !ok {
		return nil
	}
	delete(p.boxes, sandboxID)
	return b.Close()
}
