package kernel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/hitl"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/testkit"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

func TestRun_NoToolCalls_ReturnsAfterOneIteration(t *testing.T) {
	provider := testkit.NewScriptedProvider(providers.ChatResponse{
		Content:      "hello there",
		FinishReason: "stop",
	})

	agent := kernel.New(kernel.Config{
		Provider:     provider,
		Model:        "test-model",
		SystemPrompt: "you are a test agent",
	})

	s := state.New()
	s.Messages = []state.Message{{Role: "user", Content: "hi"}}

	final, err := agent.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(final.Messages) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(final.Messages))
	}
	if final.Messages[1].Content != "hello there" {
		t.Fatalf("unexpected assistant content: %q", final.Messages[1].Content)
	}
	if provider.Remaining() != 0 {
		t.Fatalf("expected script fully consumed, %d responses left", provider.Remaining())
	}
}

// echoTool is a minimal kernel.Tool whose middleware contributes it for
// dispatch tests; it ignores arguments and always succeeds.
type echoMiddleware struct {
	kernel.Base
	calls int
}

func (m *echoMiddleware) Name() string { return "echo" }

func (m *echoMiddleware) Tools(s *state.AgentState) []kernel.Tool {
	return []kernel.Tool{{
		Name:        "echo",
		Description: "echoes back",
		Parameters:  map[string]any{"type": "object"},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			m.calls++
			return tools.NewResult("echoed"), nil
		},
	}}
}

func TestRun_DispatchesToolCallsAndFeedsResultsBack(t *testing.T) {
	mw := &echoMiddleware{}
	provider := testkit.NewScriptedProvider(
		providers.ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "call_1", Name: "echo", Arguments: map[string]any{}},
			},
		},
		providers.ChatResponse{
			Content:      "done",
			FinishReason: "stop",
		},
	)

	agent := kernel.New(kernel.Config{
		Provider:   provider,
		Model:      "test-model",
		Middleware: []kernel.Middleware{mw},
	})

	s := state.New()
	s.Messages = []state.Message{{Role: "user", Content: "go"}}

	final, err := agent.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if mw.calls != 1 {
		t.Fatalf("expected echo tool called once, got %d", mw.calls)
	}

	var sawToolResult bool
	for _, m := range final.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" && m.Content == "echoed" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a tool-result message for call_1, got messages: %+v", final.Messages)
	}
}

// abcMiddleware contributes three tools, "a", "b", "c", each recording
// that it ran and returning a fixed result — used to drive scenario S6
// (mixed HITL-guarded/unguarded tools dispatched in parallel).
type abcMiddleware struct {
	kernel.Base
	ran map[string]bool
}

func newABCMiddleware() *abcMiddleware { return &abcMiddleware{ran: map[string]bool{}} }

func (m *abcMiddleware) Name() string { return "abc" }

func (m *abcMiddleware) Tools(s *state.AgentState) []kernel.Tool {
	mk := func(name string) kernel.Tool {
		return kernel.Tool{
			Name:       name,
			Parameters: map[string]any{"type": "object"},
			Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
				m.ran[name] = true
				return tools.NewResult(name + " done"), nil
			},
		}
	}
	return []kernel.Tool{mk("a"), mk("b"), mk("c")}
}

// TestRun_MixedHITLAndUnguardedParallelCalls_CombinesInterruptAndKeepsUnguardedResult
// covers SPEC_FULL.md §8 scenario S6: tools "a" and "c" are HITL-guarded,
// "b" is not; all three are dispatched in parallel in one assistant turn.
// Run must surface a single combined interrupt naming both "a" and "c", and
// the state it returns alongside that interrupt must already contain "b"'s
// tool-result message — "b" ran to completion and must not be discarded
// just because its siblings interrupted.
func TestRun_MixedHITLAndUnguardedParallelCalls_CombinesInterruptAndKeepsUnguardedResult(t *testing.T) {
	abc := newABCMiddleware()
	guard := hitl.New(hitl.InterruptOn{"a": {}, "c": {}})
	provider := testkit.NewScriptedProvider(
		providers.ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "call_a", Name: "a"},
				{ID: "call_b", Name: "b"},
				{ID: "call_c", Name: "c"},
			},
		},
		providers.ChatResponse{Content: "all done", FinishReason: "stop"},
	)

	agent := kernel.New(kernel.Config{
		Provider:   provider,
		Model:      "test-model",
		Middleware: []kernel.Middleware{abc, guard, hitl.NewPatchMiddleware()},
	})

	s := state.New()
	s.Messages = []state.Message{{Role: "user", Content: "go"}}

	paused, err := agent.Run(context.Background(), s)

	var interrupt *hitl.Interrupt
	if !errors.As(err, &interrupt) {
		t.Fatalf("expected a combined *hitl.Interrupt, got %v", err)
	}
	if len(interrupt.ActionRequests) != 2 {
		t.Fatalf("expected 2 combined action requests (a, c), got %d: %+v", len(interrupt.ActionRequests), interrupt.ActionRequests)
	}
	gotNames := map[string]bool{}
	for _, ar := range interrupt.ActionRequests {
		gotNames[ar.Name] = true
	}
	if !gotNames["a"] || !gotNames["c"] {
		t.Fatalf("expected action requests for both a and c, got %+v", interrupt.ActionRequests)
	}

	if !abc.ran["b"] {
		t.Fatalf("expected unguarded tool b to have run")
	}
	if abc.ran["a"] || abc.ran["c"] {
		t.Fatalf("guarded tools a/c must not run before a decision is supplied")
	}

	var sawBResult bool
	for _, m := range paused.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_b" && m.Content == "b done" {
			sawBResult = true
		}
	}
	if !sawBResult {
		t.Fatalf("expected b's tool-result message to be merged into the paused state, got: %+v", paused.Messages)
	}

	// Resume with decisions for a (approve) and c (reject), positionally
	// matching the combined interrupt's ActionRequests order.
	ctx := hitl.WithDecisions(context.Background(), []hitl.Decision{
		{Type: hitl.DecisionApprove},
		{Type: hitl.DecisionReject, Reason: "not today"},
	})
	final, err := agent.Resume(ctx, paused)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}

	if !abc.ran["a"] {
		t.Fatalf("expected a to run after approval")
	}
	if abc.ran["c"] {
		t.Fatalf("c must not run after rejection")
	}

	resultFor := map[string]string{}
	for _, m := range final.Messages {
		if m.Role == "tool" {
			resultFor[m.ToolCallID] = m.Content
		}
	}
	if resultFor["call_a"] != "a done" {
		t.Fatalf("expected call_a's real result after approval, got %q", resultFor["call_a"])
	}
	if resultFor["call_b"] != "b done" {
		t.Fatalf("expected call_b's result to survive the resume unchanged, got %q", resultFor["call_b"])
	}
	if resultFor["call_c"] != "not today" {
		t.Fatalf("expected call_c's rejection reason as its tool-result content, got %q", resultFor["call_c"])
	}
	if final.Messages[len(final.Messages)-1].Content != "all done" {
		t.Fatalf("expected the loop to continue to a final assistant message, got: %+v", final.Messages)
	}
	if provider.Remaining() != 0 {
		t.Fatalf("expected script fully consumed, %d responses left", provider.Remaining())
	}
}

func TestRun_UnknownToolProducesErrorResultInsteadOfFailingRun(t *testing.T) {
	provider := testkit.NewScriptedProvider(
		providers.ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "call_1", Name: "does_not_exist", Arguments: map[string]any{}},
			},
		},
		providers.ChatResponse{Content: "done", FinishReason: "stop"},
	)

	agent := kernel.New(kernel.Config{Provider: provider, Model: "test-model"})

	s := state.New()
	s.Messages = []state.Message{{Role: "user", Content: "go"}}

	final, err := agent.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var found bool
	for _, m := range final.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error tool-result message for the unknown tool call")
	}
}
