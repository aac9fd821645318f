// Package engine provides a minimal in-process graph-execution engine: the
// collaborator the core's design explicitly treats as external (§1,
// "Deliberately out of scope"). It exists only so the sub-agent scheduler
// has a concrete Runner to drive in this repo and in tests — a real
// deployment may swap in any engine satisfying
// internal/middleware/subagent.Runner.
package engine

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/subagent"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// AgentFactory builds a fresh *kernel.DeepAgent for a given sub-agent spec,
// letting the engine construct per-type model/tool/middleware wiring
// without needing to know kernel assembly details itself.
type AgentFactory func(spec subagent.Spec) (*kernel.DeepAgent, error)

// Engine is the in-process Runner: Stream spawns a goroutine that runs the
// assembled kernel to completion (or interruption) and emits state
// snapshots in "values" stream mode, matching the execution object's
// expected chunk shape (subagent.RunChunk.Values holding a *state.AgentState).
type Engine struct {
	factory AgentFactory
}

func New(factory AgentFactory) *Engine {
	return &Engine{factory: factory}
}

// Stream implements subagent.Runner. The returned channel receives exactly
// one chunk: the final state (or error) once the sub-agent's kernel run
// completes — a real engine with intermediate node-level streaming would
// emit many; this reference implementation only has one "node" (the
// kernel's own loop) so there is nothing finer-grained to stream.
func (e *Engine) Stream(ctx context.Context, spec subagent.Spec, input *subagent.RunInput) (<-chan subagent.RunChunk, error) {
	agent, err := e.factory(spec)
	if err != nil {
		return nil, err
	}

	// Start from the parent's filtered view (Files/Tasks/Extra, §4.D step 2)
	// when the scheduler supplied one, rather than a blank state — a
	// sub-agent otherwise never sees the parent's virtual filesystem.
	var seed *state.AgentState
	if input.Seed != nil {
		seed = input.Seed.Clone()
	} else {
		seed = state.New()
	}
	seed.Messages = []state.Message{{Role: "user", Content: input.Message}}
	seed.Todos = nil
	seed.StructuredResponse = nil
	if seed.Extra == nil {
		seed.Extra = make(map[string]any)
	}
	seed.Extra["subagent_type"] = spec.Name

	out := make(chan subagent.RunChunk, 1)
	go func() {
		defer close(out)
		final, runErr := agent.Run(ctx, seed)
		if runErr != nil {
			out <- subagent.RunChunk{Err: runErr}
			return
		}
		out <- subagent.RunChunk{Values: final, Done: true}
	}()
	return out, nil
}
