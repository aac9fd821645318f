package hitl_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/hitl"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

func TestWrapToolCall_RaisesInterruptOnFirstEncounter(t *testing.T) {
	m := hitl.New(hitl.InterruptOn{"delete_file": {}})
	s := state.New()
	call := providers.ToolCall{ID: "call_1", Name: "delete_file", Arguments: map[string]any{"path": "/tmp/x"}}

	_, err := m.WrapToolCall(context.Background(), s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		t.Fatalf("next should not be invoked before a decision is supplied")
		return nil, nil
	})

	var interrupt *hitl.Interrupt
	if !errors.As(err, &interrupt) {
		t.Fatalf("expected a *hitl.Interrupt, got %v", err)
	}
	if len(interrupt.ActionRequests) != 1 || interrupt.ActionRequests[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected action requests: %+v", interrupt.ActionRequests)
	}
}

func TestWrapToolCall_ApproveRunsNext(t *testing.T) {
	m := hitl.New(hitl.InterruptOn{"delete_file": {}})
	s := state.New()
	call := providers.ToolCall{ID: "call_1", Name: "delete_file"}

	ctx := hitl.WithDecisions(context.Background(), []hitl.Decision{{Type: hitl.DecisionApprove}})
	var invoked bool
	result, err := m.WrapToolCall(ctx, s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		invoked = true
		return tools.NewResult("deleted"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invoked {
		t.Fatalf("expected next to be invoked on approve")
	}
	if result.ForLLM != "deleted" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWrapToolCall_RejectReturnsErrorResultWithoutInvokingNext(t *testing.T) {
	m := hitl.New(hitl.InterruptOn{"delete_file": {}})
	s := state.New()
	call := providers.ToolCall{ID: "call_1", Name: "delete_file"}

	ctx := hitl.WithDecisions(context.Background(), []hitl.Decision{{Type: hitl.DecisionReject, Reason: "too risky"}})
	result, err := m.WrapToolCall(ctx, s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		t.Fatalf("next should not run on reject")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || result.ForLLM != "too risky" {
		t.Fatalf("unexpected rejection result: %+v", result)
	}
}

func TestWrapToolCall_EditMergesArgsBeforeInvokingNext(t *testing.T) {
	m := hitl.New(hitl.InterruptOn{"write_file": {}})
	s := state.New()
	call := providers.ToolCall{ID: "call_1", Name: "write_file", Arguments: map[string]any{"path": "/a", "content": "orig"}}

	ctx := hitl.WithDecisions(context.Background(), []hitl.Decision{
		{Type: hitl.DecisionEdit, Args: map[string]any{"content": "edited"}},
	})
	var gotArgs map[string]any
	_, err := m.WrapToolCall(ctx, s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		gotArgs = call.Arguments
		return tools.NewResult("ok"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs["content"] != "edited" || gotArgs["path"] != "/a" {
		t.Fatalf("expected merged args, got %+v", gotArgs)
	}
}

func TestWrapToolCall_UninterceptedToolPassesThrough(t *testing.T) {
	m := hitl.New(hitl.InterruptOn{"delete_file": {}})
	s := state.New()
	call := providers.ToolCall{ID: "call_1", Name: "read_file"}

	var invoked bool
	_, err := m.WrapToolCall(context.Background(), s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		invoked = true
		return tools.NewResult("ok"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invoked {
		t.Fatalf("expected an uninterrupted tool to pass straight through")
	}
}

func TestInterrupt_CombineConcatenatesBothInOrder(t *testing.T) {
	first := &hitl.Interrupt{
		ActionRequests: []hitl.ActionRequest{{Name: "a", ToolCallID: "call_a"}},
		ReviewConfigs:  []hitl.ReviewConfig{{ActionName: "a"}},
	}
	second := &hitl.Interrupt{
		ActionRequests: []hitl.ActionRequest{{Name: "c", ToolCallID: "call_c"}},
		ReviewConfigs:  []hitl.ReviewConfig{{ActionName: "c"}},
	}

	combined := first.Combine(second).(*hitl.Interrupt)
	if len(combined.ActionRequests) != 2 {
		t.Fatalf("expected 2 combined action requests, got %d", len(combined.ActionRequests))
	}
	if combined.ActionRequests[0].ToolCallID != "call_a" || combined.ActionRequests[1].ToolCallID != "call_c" {
		t.Fatalf("expected combined requests in order a, c: %+v", combined.ActionRequests)
	}
	if len(combined.ReviewConfigs) != 2 {
		t.Fatalf("expected 2 combined review configs, got %d", len(combined.ReviewConfigs))
	}

	// first/second are untouched by Combine.
	if len(first.ActionRequests) != 1 || len(second.ActionRequests) != 1 {
		t.Fatalf("Combine must not mutate its receiver or argument")
	}
}

func TestPatchMiddleware_SynthesizesResultForDanglingToolCall(t *testing.T) {
	m := hitl.NewPatchMiddleware()
	s := state.New()
	s.Messages = []state.Message{
		{Role: "assistant", Content: "", ToolCalls: []state.ToolCall{{ID: "call_1", Name: "x"}}},
	}

	next, _, err := m.AfterModel(context.Background(), s, &providers.ChatResponse{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(next.Messages) != 2 {
		t.Fatalf("expected a synthesized tool-result message, got %d messages", len(next.Messages))
	}
	if next.Messages[1].ToolCallID != "call_1" {
		t.Fatalf("unexpected synthesized message: %+v", next.Messages[1])
	}
}

func TestPatchMiddleware_NoOpWhenAllCallsSatisfied(t *testing.T) {
	m := hitl.NewPatchMiddleware()
	s := state.New()
	s.Messages = []state.Message{
		{Role: "assistant", Content: "", ToolCalls: []state.ToolCall{{ID: "call_1", Name: "x"}}},
		{Role: "tool", Content: "done", ToolCallID: "call_1"},
	}

	next, _, err := m.AfterModel(context.Background(), s, &providers.ChatResponse{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(next.Messages) != 2 {
		t.Fatalf("expected no change, got %d messages", len(next.Messages))
	}
}

func TestCommandGate_DenyPatternShortCircuitsWithoutAsking(t *testing.T) {
	gate := hitl.NewCommandGate([]*regexp.Regexp{regexp.MustCompile(`rm -rf /`)}, func(ctx context.Context, command, agentID string, timeout time.Duration) (hitl.GateDecision, error) {
		t.Fatalf("should not ask for an obviously dangerous command")
		return hitl.GateAllow, nil
	}, time.Second)

	if got := gate.CheckCommand("rm -rf /"); got != hitl.GateDeny {
		t.Fatalf("expected GateDeny, got %s", got)
	}
}

func TestCommandGate_AsksForNonDeniedCommand(t *testing.T) {
	gate := hitl.NewCommandGate(nil, nil, time.Second)
	if got := gate.CheckCommand("ls -la"); got != hitl.GateAsk {
		t.Fatalf("expected GateAsk, got %s", got)
	}
}

func TestCommandGate_RequestApprovalDeniesOnNilRequestFn(t *testing.T) {
	gate := hitl.NewCommandGate(nil, nil, time.Second)
	decision, err := gate.RequestApproval(context.Background(), "ls", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != hitl.GateDeny {
		t.Fatalf("expected GateDeny with no requester configured, got %s", decision)
	}
}
