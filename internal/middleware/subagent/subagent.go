package subagent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// Config configures the middleware.
type Config struct {
	Registry *Registry
	Runner   Runner
}

// Middleware is the Sub-Agent Middleware & Scheduler.
type Middleware struct {
	kernel.Base
	cfg Config
}

func New(cfg Config) *Middleware {
	return &Middleware{cfg: cfg}
}

func (m *Middleware) Name() string { return "subagent" }

func (m *Middleware) Tools(s *state.AgentState) []kernel.Tool {
	return []kernel.Tool{
		{
			Name: "task",
			Description: "Delegate a task to a sub-agent. The sub-agent runs independently with a " +
				"filtered view of the current state (no conversation history, todos, or prior " +
				"structured output) and returns its result once complete.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description":   map[string]any{"type": "string"},
					"subagent_type": map[string]any{"type": "string", "enum": m.cfg.Registry.Names()},
				},
				"required": []string{"description", "subagent_type"},
			},
			Call: m.taskTool,
		},
	}
}

func (m *Middleware) taskTool(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
	description, _ := call.Arguments["description"].(string)
	subagentType, _ := call.Arguments["subagent_type"].(string)

	spec, err := m.cfg.Registry.Lookup(subagentType)
	if err != nil {
		// Fatal per §7: invalid sub-agent type is raised, not returned as a
		// per-item tool error.
		return nil, err
	}

	seed := state.FilterForSubagent(s)
	seed.Messages = []state.Message{{Role: "user", Content: description}}

	runCtx, cancel := context.WithCancel(ctx)
	chunks, err := m.cfg.Runner.Stream(runCtx, spec, &RunInput{Spec: spec, Message: description, Seed: seed})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subagent: failed to start %q: %w", subagentType, err)
	}

	exec := New(subagentType, seed, chunks, cancel)
	if s.Tasks == nil {
		s.Tasks = make(state.Tasks)
	}
	s.Tasks = state.MergeTasks(s.Tasks, map[string]state.TaskOp{
		call.ID: {Kind: state.TaskOpAdd, Execution: exec},
	})

	return tools.AsyncResult("Task initiated"), nil
}

// BeforeModel runs the completion sweep: any task that has finished is
// reconciled into the parent and removed.
func (m *Middleware) BeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *kernel.Command, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "before_model")
	defer span.End()
	next, _ := m.sweep(s)
	return next, nil, nil
}

// AfterAgent awaits the first unfinished task (a non-blocking no-op if one
// has already completed), sweeps, and — if anything was reconciled —
// requests a jump back to "model" instead of letting the run terminate, so
// the parent agent gets a chance to react.
func (m *Middleware) AfterAgent(ctx context.Context, s *state.AgentState) (*state.AgentState, *kernel.Command, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "after_agent")
	defer span.End()

	pendingExecs := pendingExecutions(s)
	if len(pendingExecs) > 0 {
		if err := raceFirstDone(ctx, pendingExecs); err != nil && !errors.Is(err, errFirstDone) {
			return s, nil, err
		}
	}

	next, reconciled := m.sweep(s)
	if reconciled {
		return next, &kernel.Command{GoTo: "model"}, nil
	}
	return next, nil, nil
}

func pendingExecutions(s *state.AgentState) []*Execution {
	var out []*Execution
	for _, v := range s.Tasks {
		if e, ok := v.(*Execution); ok && e.IsPending() {
			out = append(out, e)
		}
	}
	return out
}

// errFirstDone is the sentinel raceFirstDone's winning goroutine returns to
// trigger the errgroup's context cancellation, giving "first done wins"
// semantics on top of errgroup's "first error wins" cancellation contract
// (design note on parallel tool-call ordering / no hand-rolled select
// fan-in, §4.D).
var errFirstDone = errors.New("subagent: first execution finished")

func raceFirstDone(ctx context.Context, execs []*Execution) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range execs {
		e := e
		g.Go(func() error {
			select {
			case <-e.Done():
				return errFirstDone
			case <-gctx.Done():
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errFirstDone) {
		return err
	}
	return nil
}

// sweep applies the completion-sweep logic shared by BeforeModel and
// AfterAgent: collect non-pending executions, merge their filtered final
// state into the parent, synthesize a "[Task Result]" message, and remove
// the entry from Tasks. Returns whether anything was reconciled.
func (m *Middleware) sweep(s *state.AgentState) (*state.AgentState, bool) {
	var toRemove []string
	next := s
	reconciled := false

	for id, v := range s.Tasks {
		e, ok := v.(*Execution)
		if !ok || e.IsPending() {
			continue
		}

		final := e.Snapshot()
		if err := e.Err(); err != nil {
			next = next.Clone()
			next.Messages = append(next.Messages, state.Message{
				Role:       "tool",
				Content:    fmt.Sprintf("[Task Result] Task failed: %s", err.Error()),
				ToolCallID: id,
			})
			toRemove = append(toRemove, id)
			reconciled = true
			continue
		}

		filtered := state.FilterForSubagent(final)
		next = state.MergeChildIntoParent(next, filtered)
		next.Messages = append(next.Messages, state.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Task Result] The %q task has completed.\n\n%s", subagentTypeOf(final), lastAssistantText(final)),
		})
		toRemove = append(toRemove, id)
		reconciled = true
	}

	if len(toRemove) == 0 {
		return s, false
	}

	removeOps := make(map[string]state.TaskOp, len(toRemove))
	for _, id := range toRemove {
		removeOps[id] = state.TaskOp{Kind: state.TaskOpRemove}
	}
	next.Tasks = state.MergeTasks(next.Tasks, removeOps)
	return next, reconciled
}

func subagentTypeOf(s *state.AgentState) string {
	if s == nil || s.Extra == nil {
		return "subagent"
	}
	if t, ok := s.Extra["subagent_type"].(string); ok {
		return t
	}
	return "subagent"
}

func lastAssistantText(s *state.AgentState) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			return s.Messages[i].Content
		}
	}
	return ""
}
