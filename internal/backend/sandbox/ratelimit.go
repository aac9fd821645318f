package sandbox

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
)

// RateLimitedProvider wraps a Provider and throttles both sandbox
// provisioning (GetOrCreate) and command execution (Execute) against
// independent token buckets, so a runaway sub-agent fan-out can't exhaust
// whatever quota the underlying sandbox host enforces.
type RateLimitedProvider struct {
	inner        Provider
	provisionLim *rate.Limiter
	execLim      *rate.Limiter
}

// NewRateLimitedProvider limits sandbox creation to provisionPerSec (burst 1)
// and command execution to execPerSec (burst execBurst) per process.
func NewRateLimitedProvider(inner Provider, provisionPerSec, execPerSec rate.Limit, execBurst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:        inner,
		provisionLim: rate.NewLimiter(provisionPerSec, 1),
		execLim:      rate.NewLimiter(execPerSec, execBurst),
	}
}

func (p *RateLimitedProvider) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return p.inner.List(ctx, opts)
}

func (p *RateLimitedProvider) GetOrCreate(ctx context.Context, opts GetOrCreateOptions) (SandboxBackend, error) {
	if err := p.provisionLim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sandbox provisioning throttled: %w", err)
	}
	sb, err := p.inner.GetOrCreate(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &rateLimitedBackend{SandboxBackend: sb, execLim: p.execLim}, nil
}

func (p *RateLimitedProvider) Delete(ctx context.Context, sandboxID string) error {
	return p.inner.Delete(ctx, sandboxID)
}

type rateLimitedBackend struct {
	SandboxBackend
	execLim *rate.Limiter
}

func (b *rateLimitedBackend) Execute(ctx context.Context, command string) (*backend.ExecResult, error) {
	if err := b.execLim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("execute rate limited: %w", err)
	}
	return b.SandboxBackend.Execute(ctx, command)
}
