package todo_test

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/todo"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

func TestWriteTodos_AssignsIDsAndAutoUpgradesPending(t *testing.T) {
	m := todo.New()
	s := state.New()

	tool := m.Tools(s)[0]
	result, err := tool.Call(context.Background(), s, providers.ToolCall{
		ID:   "call_1",
		Name: "write_todos",
		Arguments: map[string]any{
			"todos": []any{
				map[string]any{"content": "write the docs", "status": "pending"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.ForLLM)
	}
	if len(s.Todos) != 1 {
		t.Fatalf("expected 1 todo, got %d", len(s.Todos))
	}
	if s.Todos[0].ID == "" {
		t.Fatalf("expected an auto-assigned id")
	}
	if s.Todos[0].Status != state.TodoInProgress {
		t.Fatalf("expected pending to auto-upgrade to in_progress, got %s", s.Todos[0].Status)
	}
}

func TestWriteTodos_MissingArgumentIsAnErrorResult(t *testing.T) {
	m := todo.New()
	s := state.New()
	tool := m.Tools(s)[0]

	result, err := tool.Call(context.Background(), s, providers.ToolCall{Name: "write_todos", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result for missing todos argument")
	}
}

func TestWriteTodos_NeverDowngradesACompletedEntry(t *testing.T) {
	m := todo.New()
	s := state.New()
	s.Todos = []state.Todo{{ID: "t1", Content: "ship it", Status: state.TodoCompleted}}
	tool := m.Tools(s)[0]

	_, err := tool.Call(context.Background(), s, providers.ToolCall{
		Name: "write_todos",
		Arguments: map[string]any{
			"todos": []any{
				map[string]any{"id": "t1", "content": "ship it", "status": "in_progress"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Todos[0].Status != state.TodoCompleted {
		t.Fatalf("expected completed status to survive a stale in_progress write, got %s", s.Todos[0].Status)
	}
}
