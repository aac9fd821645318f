// Package todo implements the Todo Middleware (SPEC_FULL.md §4.C): the
// write_todos tool plus the priority-preserving merge reducer that protects
// completions from stale parallel writes. The reducer itself lives in
// internal/state/todo.go; this package is the tool-contributing wrapper
// around it.
package todo

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

// Middleware is the Todo Middleware.
type Middleware struct {
	kernel.Base
}

func New() *Middleware { return &Middleware{} }

func (m *Middleware) Name() string { return "todo" }

func (m *Middleware) Tools(s *state.AgentState) []kernel.Tool {
	return []kernel.Tool{
		{
			Name: "write_todos",
			Description: "Replace or update the current todo list. Pass the full desired list; " +
				"an empty list clears all todos. Use this to plan multi-step work and track progress.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"todos": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":      map[string]any{"type": "string"},
								"content": map[string]any{"type": "string"},
								"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
							},
							"required": []string{"content", "status"},
						},
					},
				},
				"required": []string{"todos"},
			},
			Call: m.writeTodos,
		},
	}
}

func (m *Middleware) writeTodos(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
	raw, ok := call.Arguments["todos"]
	if !ok {
		return tools.ErrorResult("write_todos requires a todos argument"), nil
	}

	update, err := decodeTodos(raw)
	if err != nil {
		return tools.ErrorResult("invalid todos: " + err.Error()), nil
	}

	update = state.AssignIDs(update)
	autoUpgrade(update)

	s.Todos = state.MergeTodos(s.Todos, update, true)
	return tools.SilentResult("Todos updated."), nil
}

// autoUpgrade promotes any pending entry in the incoming update to
// in_progress in place: a model that writes a todo at all is declaring
// intent to work on it (§4.C).
func autoUpgrade(update []state.Todo) {
	for i := range update {
		if update[i].Status == state.TodoPending {
			update[i].Status = state.TodoInProgress
		}
	}
}

// decodeTodos accepts either a []state.Todo already decoded by a
// structured-output layer, or the raw []any/map[string]any shape a JSON
// tool-call argument typically arrives as.
func decodeTodos(raw any) ([]state.Todo, error) {
	if todos, ok := raw.([]state.Todo); ok {
		return todos, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var todos []state.Todo
	if err := json.Unmarshal(b, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}
