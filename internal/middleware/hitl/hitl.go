// Package hitl implements the Human-in-the-Loop Middleware (SPEC_FULL.md
// §4.E): intercepting configured tool calls, raising structured interrupts,
// and resuming on decisions (approve/edit/reject). A sibling
// dangling-id-patching middleware guarantees invariant #1 even when HITL
// rejects a subset of parallel calls.
package hitl

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// DecisionType is the resume payload's decision kind.
type DecisionType string

const (
	DecisionApprove DecisionType = "approve"
	DecisionEdit    DecisionType = "edit"
	DecisionReject  DecisionType = "reject"
)

// AllowedDecisions configures which decisions a given tool name accepts.
// Default, per §4.E, is all three.
type AllowedDecisions struct {
	Approve bool
	Edit    bool
	Reject  bool
}

var defaultAllowed = AllowedDecisions{Approve: true, Edit: true, Reject: true}

// InterruptOn maps tool name -> allowed decisions. A `true` entry in the
// conceptual spec maps to the zero AllowedDecisions{}, which
// Middleware.allowedFor resolves to defaultAllowed.
type InterruptOn map[string]AllowedDecisions

// ActionRequest is one tool call awaiting a human decision.
type ActionRequest struct {
	Name       string
	Args       map[string]any
	ToolCallID string
}

// ReviewConfig accompanies an ActionRequest, naming which decisions are valid for it.
type ReviewConfig struct {
	ActionName       string
	AllowedDecisions AllowedDecisions
}

// Interrupt is the structured control-flow signal raised when a turn
// contains one or more configured tool calls. It is not an error: callers
// catch it, collect human decisions, and resume via Decisions.
type Interrupt struct {
	ActionRequests []ActionRequest
	ReviewConfigs  []ReviewConfig
}

func (i *Interrupt) Error() string {
	return fmt.Sprintf("hitl: %d tool call(s) awaiting approval", len(i.ActionRequests))
}

// Combine implements kernel.Interrupt: it folds another interrupt raised by
// a sibling tool call in the same turn into this one, concatenating both
// ActionRequests and ReviewConfigs in call order. A non-*Interrupt other
// (never expected in practice, since hitl is the only interrupt source in
// this stack) is ignored rather than panicking.
func (i *Interrupt) Combine(other kernel.Interrupt) kernel.Interrupt {
	o, ok := other.(*Interrupt)
	if !ok {
		return i
	}
	return &Interrupt{
		ActionRequests: append(append([]ActionRequest{}, i.ActionRequests...), o.ActionRequests...),
		ReviewConfigs:  append(append([]ReviewConfig{}, i.ReviewConfigs...), o.ReviewConfigs...),
	}
}

// Decision is one entry in a resume payload, positionally matched to
// Interrupt.ActionRequests.
type Decision struct {
	Type   DecisionType
	Args   map[string]any // only used for DecisionEdit
	Reason string         // only used for DecisionReject
}

// decisionsKey is the context key under which a resume's decisions are
// threaded through WrapToolCall; the caller sets it via WithDecisions
// before calling kernel.Resume after an Interrupt.
type decisionsKey struct{}

// WithDecisions returns a context carrying resume decisions, consumed
// positionally as WrapToolCall encounters each configured tool call in the
// same order the original turn raised them.
func WithDecisions(ctx context.Context, decisions []Decision) context.Context {
	return context.WithValue(ctx, decisionsKey{}, &decisionCursor{decisions: decisions})
}

type decisionCursor struct {
	decisions []Decision
	pos       int
}

func (c *decisionCursor) next() (Decision, bool) {
	if c == nil || c.pos >= len(c.decisions) {
		return Decision{}, false
	}
	d := c.decisions[c.pos]
	c.pos++
	return d, true
}

// Middleware is the HITL Middleware.
type Middleware struct {
	kernel.Base
	interruptOn InterruptOn
}

func New(interruptOn InterruptOn) *Middleware {
	return &Middleware{interruptOn: interruptOn}
}

func (m *Middleware) Name() string { return "hitl" }

func (m *Middleware) allowedFor(name string) (AllowedDecisions, bool) {
	allowed, ok := m.interruptOn[name]
	if !ok {
		return AllowedDecisions{}, false
	}
	if allowed == (AllowedDecisions{}) {
		return defaultAllowed, true
	}
	return allowed, true
}

// WrapToolCall intercepts configured tool calls. With no decision left in
// the context it does not execute the call; it returns a one-call
// *Interrupt as its error, and the kernel's dispatchToolCalls folds the
// interrupts of all of a turn's calls into one (via Combine) before
// suspending.
func (m *Middleware) WrapToolCall(ctx context.Context, s *state.AgentState, call providers.ToolCall, next kernel.ToolCallFunc) (*tools.Result, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "wrap_tool_call")
	defer span.End()

	allowed, intercepted := m.allowedFor(call.Name)
	if !intercepted {
		return next(ctx, s, call)
	}

	cursor, _ := ctx.Value(decisionsKey{}).(*decisionCursor)
	decision, has := cursor.next()
	if !has {
		// No resume decision available yet for this call: the kernel must
		// raise an Interrupt for the whole turn before tool dispatch
		// reaches here again. Returning the interrupt as an error lets the
		// kernel's dispatch loop catch it by type and suspend.
		return nil, &Interrupt{
			ActionRequests: []ActionRequest{{Name: call.Name, Args: call.Arguments, ToolCallID: call.ID}},
			ReviewConfigs:  []ReviewConfig{{ActionName: call.Name, AllowedDecisions: allowed}},
		}
	}

	switch decision.Type {
	case DecisionApprove:
		return next(ctx, s, call)
	case DecisionEdit:
		if !allowed.Edit {
			return nil, fmt.Errorf("hitl: edit decision not allowed for %q", call.Name)
		}
		merged := call
		merged.Arguments = mergeArgs(call.Arguments, decision.Args)
		return next(ctx, s, merged)
	case DecisionReject:
		if !allowed.Reject {
			return nil, fmt.Errorf("hitl: reject decision not allowed for %q", call.Name)
		}
		reason := decision.Reason
		if reason == "" {
			reason = "Tool call rejected by user"
		}
		return tools.ErrorResult(reason), nil
	default:
		return nil, fmt.Errorf("hitl: unknown decision type %q", decision.Type)
	}
}

func mergeArgs(original, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(original)+len(overrides))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
