package filesystem_test

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/filesystem"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/testkit"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

func find(t *testing.T, tools []kernel.Tool, name string) kernel.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("no tool named %q", name)
	return kernel.Tool{}
}

func TestWriteThenReadFile_RoundTrips(t *testing.T) {
	backend := testkit.NewMemoryBackend()
	m := filesystem.New(filesystem.Config{Backend: backend})
	s := state.New()

	writeTool := find(t, m.Tools(s), "write_file")
	_, err := writeTool.Call(context.Background(), s, providers.ToolCall{
		Arguments: map[string]any{"file_path": "/notes.txt", "content": "line one\nline two"},
	})
	if err != nil {
		t.Fatalf("write_file returned error: %v", err)
	}

	readTool := find(t, m.Tools(s), "read_file")
	result, err := readTool.Call(context.Background(), s, providers.ToolCall{
		Arguments: map[string]any{"file_path": "/notes.txt"},
	})
	if err != nil {
		t.Fatalf("read_file returned error: %v", err)
	}
	if !strings.Contains(result.ForLLM, "line one") || !strings.Contains(result.ForLLM, "line two") {
		t.Fatalf("unexpected read_file output: %q", result.ForLLM)
	}
}

func TestWriteFile_FailsIfFileAlreadyExists(t *testing.T) {
	backend := testkit.NewMemoryBackend()
	m := filesystem.New(filesystem.Config{Backend: backend})
	s := state.New()
	writeTool := find(t, m.Tools(s), "write_file")

	args := map[string]any{"file_path": "/a.txt", "content": "x"}
	if _, err := writeTool.Call(context.Background(), s, providers.ToolCall{Arguments: args}); err != nil {
		t.Fatalf("unexpected error on first write: %v", err)
	}
	result, err := writeTool.Call(context.Background(), s, providers.ToolCall{Arguments: args})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result for overwriting an existing file")
	}
}

func TestEditFile_ReplacesUniqueOccurrence(t *testing.T) {
	backend := testkit.NewMemoryBackend()
	m := filesystem.New(filesystem.Config{Backend: backend})
	s := state.New()

	writeTool := find(t, m.Tools(s), "write_file")
	_, _ = writeTool.Call(context.Background(), s, providers.ToolCall{
		Arguments: map[string]any{"file_path": "/a.txt", "content": "hello world"},
	})

	editTool := find(t, m.Tools(s), "edit_file")
	result, err := editTool.Call(context.Background(), s, providers.ToolCall{
		Arguments: map[string]any{"file_path": "/a.txt", "old_string": "world", "new_string": "there"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.ForLLM)
	}

	readTool := find(t, m.Tools(s), "read_file")
	readResult, _ := readTool.Call(context.Background(), s, providers.ToolCall{
		Arguments: map[string]any{"file_path": "/a.txt"},
	})
	if !strings.Contains(readResult.ForLLM, "hello there") {
		t.Fatalf("expected edited content, got %q", readResult.ForLLM)
	}
}

func TestWrapToolCall_EvictsOversizeResultToBackend(t *testing.T) {
	backend := testkit.NewMemoryBackend()
	m := filesystem.New(filesystem.Config{Backend: backend, ToolTokenLimit: 1})
	s := state.New()

	call := providers.ToolCall{ID: "call_1", Name: "grep_file"}
	bigResult := tools.NewResult(strings.Repeat("a very large tool result body ", 200))

	result, err := m.WrapToolCall(context.Background(), s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		return bigResult, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result.ForLLM, "a very large tool result body") {
		t.Fatalf("expected the oversize result to be replaced with an eviction notice")
	}
	if !strings.Contains(result.ForLLM, "large_tool_results/call_1") {
		t.Fatalf("expected the eviction notice to reference the evicted path, got %q", result.ForLLM)
	}
}

func TestWrapToolCall_PassesThroughUnderLimit(t *testing.T) {
	backend := testkit.NewMemoryBackend()
	m := filesystem.New(filesystem.Config{Backend: backend, ToolTokenLimit: 100000})
	s := state.New()

	call := providers.ToolCall{ID: "call_1", Name: "grep_file"}
	result, err := m.WrapToolCall(context.Background(), s, call, func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		return tools.NewResult("small"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ForLLM != "small" {
		t.Fatalf("expected passthrough result, got %q", result.ForLLM)
	}
}
