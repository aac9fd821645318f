package kernel

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

// Command is what a hook returns when it wants to redirect control flow
// instead of falling through to the next pipeline stage — e.g. the
// sub-agent middleware's after_agent sweep asking to jump back to "model"
// rather than letting the run terminate.
type Command struct {
	GoTo string // "model", "tools", "end" — empty means "continue normally"
}

// ModelCallFunc invokes the underlying model runtime; WrapModelCall
// middleware call this to reach the next layer (ultimately the real
// provider).
type ModelCallFunc func(ctx context.Context, messages []providers.Message) (*providers.ChatResponse, error)

// ToolCallFunc executes one tool call; WrapToolCall middleware call this to
// reach the next layer (ultimately the tool's own Call func).
type ToolCallFunc func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error)

// Middleware is the unit of composition the kernel assembles into a
// pipeline around the React-style model-call/tool-call loop. Every hook is
// optional: Base supplies no-op defaults so a concrete middleware only
// overrides what it needs, the same way the teacher pack's hook
// implementations (other_examples wick_agent's agent.BaseHook) only
// implement the phases they participate in.
type Middleware interface {
	Name() string

	// Tools contributes tool definitions visible to the model this turn.
	Tools(s *state.AgentState) []Tool

	// BeforeModel runs immediately before each model call. It may mutate
	// state (returning a replacement) and may request a Command to divert
	// control flow.
	BeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error)

	// WrapModelCall wraps the model invocation itself.
	WrapModelCall(ctx context.Context, s *state.AgentState, messages []providers.Message, next ModelCallFunc) (*providers.ChatResponse, error)

	// AfterModel runs immediately after each model call, before tool
	// dispatch.
	AfterModel(ctx context.Context, s *state.AgentState, resp *providers.ChatResponse) (*state.AgentState, *Command, error)

	// WrapToolCall wraps a single tool invocation.
	WrapToolCall(ctx context.Context, s *state.AgentState, call providers.ToolCall, next ToolCallFunc) (*tools.Result, error)

	// AfterAgent runs once the loop would otherwise terminate. Returning a
	// non-nil Command re-enters the loop instead of finishing.
	AfterAgent(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error)
}

// Base provides no-op implementations of every Middleware hook; embed it
// and override only the phases a given middleware participates in.
type Base struct{}

func (Base) Tools(s *state.AgentState) []Tool { return nil }

func (Base) BeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error) {
	return s, nil, nil
}

func (Base) WrapModelCall(ctx context.Context, s *state.AgentState, messages []providers.Message, next ModelCallFunc) (*providers.ChatResponse, error) {
	return next(ctx, messages)
}

func (Base) AfterModel(ctx context.Context, s *state.AgentState, resp *providers.ChatResponse) (*state.AgentState, *Command, error) {
	return s, nil, nil
}

func (Base) WrapToolCall(ctx context.Context, s *state.AgentState, call providers.ToolCall, next ToolCallFunc) (*tools.Result, error) {
	return next(ctx, s, call)
}

func (Base) AfterAgent(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error) {
	return s, nil, nil
}
