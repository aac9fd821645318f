package kernel

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

// Tool is a single callable the model may invoke. Middleware contribute
// tools via Middleware.Tools rather than a global registry, so the set of
// tools available in a run is exactly the union the assembled stack
// declares — grounded on the teacher's FuncTool/Registry shape
// (internal/tools/result.go, internal/tools/subagent.go) generalized away
// from a process-global registry.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error)
}

func (t Tool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}
