package testkit

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/subagent"
)

// ScriptedRunner is a deterministic subagent.Runner: each Stream call pops
// the next scripted chunk sequence off the queue and emits it, letting
// scheduler tests (depth limits, parallel dispatch, first-done-wins racing)
// run without a real graph engine.
type ScriptedRunner struct {
	scripts [][]subagent.RunChunk
	calls   []subagent.Spec
}

func NewScriptedRunner(scripts ...[]subagent.RunChunk) *ScriptedRunner {
	return &ScriptedRunner{scripts: scripts}
}

func (r *ScriptedRunner) Stream(ctx context.Context, spec subagent.Spec, input *subagent.RunInput) (<-chan subagent.RunChunk, error) {
	r.calls = append(r.calls, spec)

	var chunks []subagent.RunChunk
	if len(r.scripts) > 0 {
		chunks, r.scripts = r.scripts[0], r.scripts[1:]
	}

	out := make(chan subagent.RunChunk, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Calls returns the specs every Stream invocation was made with, in order.
func (r *ScriptedRunner) Calls() []subagent.Spec { return r.calls }
