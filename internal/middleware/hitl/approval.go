package hitl

import (
	"context"
	"regexp"
	"time"
)

// GateDecision is the three-state verdict a CommandGate returns ahead of a
// human being asked at all.
type GateDecision string

const (
	GateAllow GateDecision = "allow"
	GateAsk   GateDecision = "ask"
	GateDeny  GateDecision = "deny"
)

// CommandGate is the reference decision-protocol grounded in
// internal/tools/shell.go's ExecApprovalManager call-site contract
// (CheckCommand(command) -> "deny"|"ask"|allow, RequestApproval(command,
// agentID, timeout) -> (decision, error)). The teacher's retrieved slice
// references but never defines this manager's body, so it is built fresh
// here as the default HITL decision source an interrupt-map configuration
// may wire in ahead of raising an Interrupt to a human.
type CommandGate struct {
	denyPatterns []*regexp.Regexp
	requestFn    func(ctx context.Context, command, agentID string, timeout time.Duration) (GateDecision, error)
	timeout      time.Duration
}

// NewCommandGate builds a gate from the caller's deny patterns (modelled on
// shell.go's defaultDenyPatterns; no default set is added, so a nil slice
// denies nothing) and a caller-supplied approval requester (e.g. a
// Slack/CLI prompt, or — in tests — a canned response).
func NewCommandGate(denyPatterns []*regexp.Regexp, requestFn func(ctx context.Context, command, agentID string, timeout time.Duration) (GateDecision, error), timeout time.Duration) *CommandGate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandGate{denyPatterns: denyPatterns, requestFn: requestFn, timeout: timeout}
}

// CheckCommand runs the regex deny-pattern pre-filter, returning GateDeny
// immediately for an obviously-dangerous command without ever asking a
// human, GateAsk otherwise.
func (g *CommandGate) CheckCommand(command string) GateDecision {
	for _, pattern := range g.denyPatterns {
		if pattern.MatchString(command) {
			return GateDeny
		}
	}
	return GateAsk
}

// RequestApproval asks the configured human-approval source, bounded by
// the gate's timeout. A timed-out request resolves to GateDeny rather than
// blocking the turn indefinitely.
func (g *CommandGate) RequestApproval(ctx context.Context, command, agentID string) (GateDecision, error) {
	if g.requestFn == nil {
		return GateDeny, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	decision, err := g.requestFn(ctx, command, agentID, g.timeout)
	if err != nil {
		return GateDeny, err
	}
	return decision, nil
}
