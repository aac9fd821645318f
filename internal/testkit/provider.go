package testkit

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
)

// ScriptedProvider is a deterministic providers.Provider whose Chat/
// ChatStream responses are drawn from a pre-seeded queue, letting property
// tests drive the kernel loop through exact tool-call/response sequences
// without a live model.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []providers.ChatResponse
	calls     []providers.ChatRequest
	model     string
}

// NewScriptedProvider returns a provider that yields responses in order,
// one per Chat/ChatStream call. Calling past the end of the script panics
// with a clear message rather than silently returning zero values, since a
// test that exhausts its script has a bug in its expected call count.
func NewScriptedProvider(responses ...providers.ChatResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses, model: "testkit-model"}
}

func (p *ScriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.responses) == 0 {
		panic("testkit.ScriptedProvider: Chat called with no scripted responses remaining")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return &resp, nil
}

func (p *ScriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(providers.StreamChunk{Content: resp.Content, Done: true})
	}
	return resp, nil
}

func (p *ScriptedProvider) DefaultModel() string { return p.model }
func (p *ScriptedProvider) Name() string         { return "testkit" }

// Calls returns every ChatRequest received so far, for assertions about
// what the kernel actually sent (system prompt contents, message history,
// tool schemas offered).
func (p *ScriptedProvider) Calls() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]providers.ChatRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Remaining reports how many scripted responses are left unconsumed, so a
// test can assert it drained the whole script.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}
