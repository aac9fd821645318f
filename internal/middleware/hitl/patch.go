package hitl

import (
	"context"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

const danglingCancellationReason = "Tool call cancelled"

// PatchMiddleware is the sibling dangling-id-patching middleware (§4.E
// step 4): it runs after every turn and synthesizes a cancellation
// tool-result for any tool-call id in the last assistant message that
// didn't get one, guaranteeing invariant #1 even when HITL rejected only
// some of a batch of parallel calls.
//
// Grounded directly in internal/agent/loop_history.go's sanitizeHistory:
// the same expected-ids-then-synthesize-missing logic, generalized from a
// one-shot history-repair pass into a standing turn-ending middleware.
type PatchMiddleware struct {
	kernel.Base
}

func NewPatchMiddleware() *PatchMiddleware { return &PatchMiddleware{} }

func (m *PatchMiddleware) Name() string { return "tool_call_patch" }

func (m *PatchMiddleware) AfterModel(ctx context.Context, s *state.AgentState, resp *providers.ChatResponse) (*state.AgentState, *kernel.Command, error) {
	_, span := tracing.StartPhaseSpan(ctx, m.Name(), "after_model")
	defer span.End()

	patched := state.PatchDanglingToolCalls(s.Messages, danglingCancellationReason)
	if len(patched) == len(s.Messages) {
		return s, nil, nil
	}
	next := s.Clone()
	next.Messages = patched
	return next, nil, nil
}
