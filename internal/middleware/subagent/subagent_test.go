package subagent_test

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/subagent"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/testkit"
)

func waitForIdle(t *testing.T, s *state.AgentState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allDone := true
		for _, v := range s.Tasks {
			if v.IsPending() {
				allDone = false
				break
			}
		}
		if allDone {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("tasks never reached completion")
}

func TestTaskTool_SpawnsAndRegistersAPendingExecution(t *testing.T) {
	runner := testkit.NewScriptedRunner([]subagent.RunChunk{})
	registry := subagent.NewRegistry(nil, false, nil, nil, "")
	m := subagent.New(subagent.Config{Registry: registry, Runner: runner})

	s := state.New()
	tool := m.Tools(s)[0]

	result, err := tool.Call(context.Background(), s, providers.ToolCall{
		ID:   "call_1",
		Name: "task",
		Arguments: map[string]any{
			"description":   "look into something",
			"subagent_type": "general-purpose",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Async {
		t.Fatalf("expected an async result from the task tool")
	}
	if len(s.Tasks) != 1 {
		t.Fatalf("expected 1 registered task, got %d", len(s.Tasks))
	}
	if len(runner.Calls()) != 1 || runner.Calls()[0].Name != "general-purpose" {
		t.Fatalf("expected the runner to be invoked with the general-purpose spec, got %+v", runner.Calls())
	}
}

func TestTaskTool_UnknownSubagentTypeIsRaisedAsError(t *testing.T) {
	runner := testkit.NewScriptedRunner()
	registry := subagent.NewRegistry(nil, false, nil, nil, "")
	m := subagent.New(subagent.Config{Registry: registry, Runner: runner})

	s := state.New()
	tool := m.Tools(s)[0]

	_, err := tool.Call(context.Background(), s, providers.ToolCall{
		ID:   "call_1",
		Name: "task",
		Arguments: map[string]any{
			"description":   "x",
			"subagent_type": "does-not-exist",
		},
	})
	if err == nil {
		t.Fatalf("expected an error for an unknown subagent_type")
	}
}

func TestBeforeModel_SweepsCompletedTaskIntoParent(t *testing.T) {
	final := state.New()
	final.Messages = []state.Message{{Role: "assistant", Content: "all done"}}

	runner := testkit.NewScriptedRunner([]subagent.RunChunk{
		{Values: final, Done: true},
	})
	registry := subagent.NewRegistry(nil, false, nil, nil, "")
	m := subagent.New(subagent.Config{Registry: registry, Runner: runner})

	s := state.New()
	tool := m.Tools(s)[0]
	_, err := tool.Call(context.Background(), s, providers.ToolCall{
		ID:   "call_1",
		Name: "task",
		Arguments: map[string]any{
			"description":   "look into something",
			"subagent_type": "general-purpose",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForIdle(t, s)

	next, cmd, err := m.BeforeModel(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != nil {
		t.Fatalf("BeforeModel should never return a Command, got %+v", cmd)
	}
	if len(next.Tasks) != 0 {
		t.Fatalf("expected the completed task to be swept out of Tasks, got %d remaining", len(next.Tasks))
	}

	var sawResultMessage bool
	for _, msg := range next.Messages {
		if msg.Role == "user" && msg.ToolCallID == "" {
			sawResultMessage = true
		}
	}
	if !sawResultMessage {
		t.Fatalf("expected a synthesized [Task Result] message, got %+v", next.Messages)
	}
}

func TestAfterAgent_RequestsModelReentryWhenATaskCompletes(t *testing.T) {
	final := state.New()
	runner := testkit.NewScriptedRunner([]subagent.RunChunk{
		{Values: final, Done: true},
	})
	registry := subagent.NewRegistry(nil, false, nil, nil, "")
	m := subagent.New(subagent.Config{Registry: registry, Runner: runner})

	s := state.New()
	tool := m.Tools(s)[0]
	_, _ = tool.Call(context.Background(), s, providers.ToolCall{
		ID:   "call_1",
		Name: "task",
		Arguments: map[string]any{
			"description":   "x",
			"subagent_type": "general-purpose",
		},
	})

	waitForIdle(t, s)

	next, cmd, err := m.AfterAgent(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd == nil || cmd.GoTo != "model" {
		t.Fatalf("expected a GoTo:model command after reconciling a completed task, got %+v", cmd)
	}
	if len(next.Tasks) != 0 {
		t.Fatalf("expected task to be removed after sweep")
	}
}

func TestRegistry_DefaultGeneralPurposeEntryExistsUnlessDisabled(t *testing.T) {
	r := subagent.NewRegistry(nil, false, nil, nil, "")
	if _, err := r.Lookup(subagent.DefaultGeneralPurposeType); err != nil {
		t.Fatalf("expected the default general-purpose entry to exist: %v", err)
	}

	disabled := subagent.NewRegistry(nil, true, nil, nil, "")
	if _, err := disabled.Lookup(subagent.DefaultGeneralPurposeType); err == nil {
		t.Fatalf("expected no general-purpose entry when disabled")
	}
}
