// Package subagent implements the Sub-Agent Middleware & Scheduler
// (SPEC_FULL.md §4.D): the task tool, the registry of spawnable sub-agent
// types, the eagerly-consuming streaming execution object, and the
// before_model/after_agent completion sweeps.
//
// Grounded in internal/tools/subagent.go's SubagentConfig/SubagentManager
// (depth limit, max-children-per-parent, archive TTL) generalized from a
// single flat config into a per-type registry, and in
// internal/tools/policy.go's deny-list pipeline for per-type tool filtering.
package subagent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// DefaultGeneralPurposeType is the always-available fallback sub-agent type
// unless a registry opts out via Config.DisableGeneralPurpose.
const DefaultGeneralPurposeType = "general-purpose"

// Spec describes one entry in the sub-agent registry. A custom Spec may
// override SystemPrompt, Tools, Model, and Middleware; it does
// not inherit the parent's skills by default (§4.D).
type Spec struct {
	Name         string
	Description  string
	SystemPrompt string
	// Tools, when nil, inherits the parent's fully assembled tool set
	// (general-purpose default). Custom types that set Tools replace it
	// entirely rather than extend it.
	Tools []kernel.Tool
	// Middleware, when nil, inherits the parent's default middleware stack.
	Middleware []kernel.Middleware
	Model      string // empty = inherit parent's model
	// InheritsSkills controls whether the skills/memory middleware's
	// content is seeded into this sub-agent type's system prompt. Only the
	// default general-purpose entry inherits by default.
	InheritsSkills bool
}

// Registry is the set of spawnable sub-agent types, built once at
// middleware construction (§4.D "Subagent registry").
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds a registry from user-supplied specs, adding the
// default general-purpose entry unless disableGeneralPurpose is set. A
// user-supplied "general-purpose" entry overrides the built-in default.
func NewRegistry(specs []Spec, disableGeneralPurpose bool, parentTools []kernel.Tool, parentMiddleware []kernel.Middleware, parentModel string) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs)+1)}
	if !disableGeneralPurpose {
		r.specs[DefaultGeneralPurposeType] = Spec{
			Name:           DefaultGeneralPurposeType,
			Description:    "General-purpose agent for researching complex questions, searching, and executing multi-step tasks. Inherits the parent's full tool set.",
			Tools:          parentTools,
			Middleware:     parentMiddleware,
			Model:          parentModel,
			InheritsSkills: true,
		}
	}
	for _, spec := range specs {
		r.specs[spec.Name] = spec
	}
	return r
}

// Lookup validates subagentType against the registry; an unknown type is a
// hard, raised error per §7's fatal-error classification (invalid sub-agent
// type), not a per-item result error.
func (r *Registry) Lookup(subagentType string) (Spec, error) {
	spec, ok := r.specs[subagentType]
	if !ok {
		return Spec{}, fmt.Errorf("subagent: unknown subagent_type %q", subagentType)
	}
	return spec, nil
}

// Names returns the registered type names, used to build the task tool's
// JSON schema enum.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// Descriptions returns a name->description map for the task tool's prompt
// guidance.
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.specs))
	for name, spec := range r.specs {
		out[name] = spec.Description
	}
	return out
}

// Runner is the collaborator the task tool delegates to in order to start a
// sub-agent's stream: it is the graph-engine seam (§6) the runtime never
// looks inside of. Implementations live in internal/engine.
type Runner interface {
	// Stream starts a sub-agent run and returns a channel of RunChunks
	// (full-state snapshots, node updates, or a terminal Err) that is
	// closed when the stream ends; the error reports a failure to start.
	Stream(ctx context.Context, spec Spec, input *RunInput) (<-chan RunChunk, error)
}

// RunInput is the filtered, seeded state handed to a new sub-agent run.
// Seed carries forward the parent's Files/Tasks/Extra (§4.D step 2, the
// same state.FilterForSubagent view the task tool uses for the Execution's
// pre-first-chunk snapshot) so a Runner can initialize the sub-agent's
// state from it instead of starting blank.
type RunInput struct {
	Spec    Spec
	Message string
	Seed    *state.AgentState
	Extra   map[string]any
}

// RunChunk is one item from a sub-agent's output stream.
type RunChunk struct {
	// Values carries the full state snapshot in "values" stream mode.
	Values any
	// NodeUpdates carries a node-name -> partial-state map in "updates"
	// stream mode; Execution merges these into a rolling snapshot.
	NodeUpdates map[string]any
	Err         error
	Done        bool
}
