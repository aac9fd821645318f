package state

import "testing"

func TestPatchDanglingToolCalls_Invariant1(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "do things"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "tc1", Name: "a"}, {ID: "tc2", Name: "b"}, {ID: "tc3", Name: "c"}}},
		{Role: "tool", ToolCallID: "tc2", Content: "b result"},
	}

	patched := PatchDanglingToolCalls(messages, "Tool call rejected by user")

	lastAssistant := 1
	expected := map[string]bool{"tc1": true, "tc2": true, "tc3": true}
	found := map[string]bool{}
	for i := lastAssistant + 1; i < len(patched); i++ {
		if patched[i].Role == "tool" {
			found[patched[i].ToolCallID] = true
		}
	}
	for id := range expected {
		if !found[id] {
			t.Fatalf("tool-call id %s has no matching result after patching: %+v", id, patched)
		}
	}
}

func TestPatchDanglingToolCalls_NoOpWhenComplete(t *testing.T) {
	messages := []Message{
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "tc1"}}},
		{Role: "tool", ToolCallID: "tc1", Content: "ok"},
	}
	patched := PatchDanglingToolCalls(messages, "cancelled")
	if len(patched) != len(messages) {
		t.Fatalf("expected no synthetic messages, got %+v", patched)
	}
}

func TestSafeCutoff_NeverSplitsToolPair(t *testing.T) {
	messages := []Message{
		{Role: "system"},
		{Role: "user"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "tc1"}}},
		{Role: "tool", ToolCallID: "tc1"},
		{Role: "user"},
		{Role: "assistant"},
		{Role: "user"},
	}

	// Raw cutoff lands exactly on the orphaned tool-result half of the pair.
	rawCutoff := 3
	adjusted := SafeCutoff(messages, rawCutoff)

	if adjusted != 2 {
		t.Fatalf("expected cutoff pulled back to the assistant tool-call message (index 2), got %d", adjusted)
	}
}

func TestSafeCutoff_OrphanAdvancesForward(t *testing.T) {
	messages := []Message{
		{Role: "tool", ToolCallID: "orphan"},
		{Role: "user"},
	}
	adjusted := SafeCutoff(messages, 0)
	if adjusted != 1 {
		t.Fatalf("expected cutoff advanced past orphan tool result, got %d", adjusted)
	}
}
