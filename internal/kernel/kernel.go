// Package kernel assembles the Agent Kernel (SPEC_FULL.md §4.G): the
// default middleware stack, wired to a model, tool set, sub-agent
// scheduler, and optional checkpointer/store, driving the React-style
// model-call/tool-call loop every middleware phase wraps.
//
// Grounded in internal/agent/loop.go's Loop/LoopConfig/Run/runLoop
// assembly order and per-phase tracing (loop_tracing.go's
// emitLLMSpan/emitToolSpan/emitAgentSpan), generalized from a single
// hardcoded channel-bot loop into a pluggable middleware pipeline.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// Checkpointer is the opaque collaborator interface the kernel forwards to
// middleware without introspection (§6).
type Checkpointer interface {
	Save(ctx context.Context, threadID string, s *state.AgentState) error
	Load(ctx context.Context, threadID string) (*state.AgentState, error)
}

// Config assembles the kernel per §4.G's ordering.
type Config struct {
	Provider providers.Provider
	Model    string

	SystemPrompt string

	// Middleware is the complete, already-ordered stack the kernel runs;
	// deepagent.CreateDeepAgent assembles it in §4.G order, with
	// user-supplied middleware at step 6.
	Middleware []Middleware

	Checkpointer  Checkpointer
	MaxIterations int

	// ToolFilter, when set, narrows the tool names the model is offered and
	// may call this run — the deep-agent-scoped replacement for the
	// teacher's registry-wide tool policy pipeline (internal/tools/policy.go).
	// Middleware still contribute every tool they always did; this only
	// trims what's exposed to the model and dispatchable per call.
	ToolFilter func(names []string) []string
}

// DeepAgent is the assembled kernel: a fixed middleware pipeline plus the
// model/tool wiring to drive it.
type DeepAgent struct {
	cfg   Config
	stack []Middleware
}

// New wraps an already-assembled middleware stack: it runs
// Config.Middleware in the order given and does not reorder it. Callers
// construct each middleware (summarize.New, filesystem.New, todo.New,
// skills.New, subagent.New, hitl.New, hitl.NewPatchMiddleware) and place
// it in §4.G order themselves, since the concrete middleware types live in
// sibling packages this one cannot import without a cycle (subagent
// depends on kernel.Tool/Middleware).
func New(cfg Config) *DeepAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	return &DeepAgent{cfg: cfg, stack: cfg.Middleware}
}

// Interrupt is the error type middleware raise to suspend the loop
// cooperatively (e.g. hitl.Interrupt). The kernel's Run treats any error
// satisfying this interface as a control-flow signal to propagate
// unchanged to the caller, not a fatal error.
//
// Combine folds another interrupt raised by a sibling tool call dispatched
// in the same turn into this one. Parallel tool calls can each
// independently raise an interrupt (§4.E scenario S6: tools "a" and "c"
// both configured for HITL, dispatched alongside unguarded "b"); the
// kernel combines every interrupt encountered in one turn before
// suspending, so a single resume decision list can cover the whole batch
// rather than losing all but the first.
type Interrupt interface {
	error
	Combine(other Interrupt) Interrupt
}

func (a *DeepAgent) allTools(s *state.AgentState) []Tool {
	var all []Tool
	for _, mw := range a.stack {
		all = append(all, mw.Tools(s)...)
	}
	if a.cfg.ToolFilter == nil {
		return all
	}
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name
	}
	allowed := make(map[string]bool)
	for _, n := range a.cfg.ToolFilter(names) {
		allowed[n] = true
	}
	filtered := all[:0:0]
	for _, t := range all {
		if allowed[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (a *DeepAgent) toolByName(s *state.AgentState, name string) (Tool, bool) {
	for _, t := range a.allTools(s) {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Run drives one React-style agent loop to completion: model call → parse
// tool calls → execute tools (wrapped through the stack) → feed results
// back → repeat until the model stops requesting tools or MaxIterations is
// reached. The run, each model call and each tool call get OpenTelemetry
// spans (tracing.StartAgentSpan/StartLLMSpan/StartToolSpan); a middleware
// phase gets a span only where that middleware opens one with
// tracing.StartPhaseSpan.
func (a *DeepAgent) Run(ctx context.Context, s *state.AgentState) (*state.AgentState, error) {
	ctx, rootSpan := tracing.StartAgentSpan(ctx, a.cfg.Model)
	defer rootSpan.End()
	return a.loop(ctx, s, rootSpan, 0)
}

// Resume continues a turn that previously suspended with an Interrupt
// (§4.E point 2). The caller threads the human's decisions through ctx via
// hitl.WithDecisions before calling Resume. Unlike Run, Resume does not
// start with a fresh model call — the assistant message that requested the
// interrupted tool calls already exists in s.Messages; issuing a new model
// call here would silently discard it and ask the model to decide again
// from scratch, which is not what "resume with a human decision" means.
// Instead Resume re-enters dispatchToolCalls against exactly the tool
// calls from the last assistant message that have no tool-result message
// yet — the ones the prior turn left pending — and only then falls
// through to the normal after_agent/model loop.
func (a *DeepAgent) Resume(ctx context.Context, s *state.AgentState) (*state.AgentState, error) {
	ctx, rootSpan := tracing.StartAgentSpan(ctx, a.cfg.Model)
	defer rootSpan.End()

	pending := pendingToolCalls(s.Messages)
	if len(pending) == 0 {
		// Nothing left unresolved on the last assistant message (e.g. a
		// caller invokes Resume defensively); behave like a fresh Run.
		return a.loop(ctx, s, rootSpan, 0)
	}

	s, err := a.dispatchToolCalls(ctx, s, pending)
	if err != nil {
		var interrupt Interrupt
		if errors.As(err, &interrupt) {
			return s, interrupt
		}
		return s, err
	}

	// Mirrors loop's own post-dispatch step: after_agent runs, and the
	// React loop always proceeds back to a model call next regardless of
	// whether after_agent requested "model" explicitly — the model must
	// see the tool results that were just produced before the turn can end.
	s, _, err = a.runAfterAgent(ctx, s)
	if err != nil {
		return s, err
	}
	return a.loop(ctx, s, rootSpan, 1)
}

// pendingToolCalls returns the subset of the last assistant message's tool
// calls that have no matching tool-result message yet, in original order —
// exactly the calls an Interrupt left dangling. Returns nil if the last
// message isn't an assistant tool-call message, or if every call already
// has a result (nothing to resume).
func pendingToolCalls(messages []state.Message) []providers.ToolCall {
	lastAssistant := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			lastAssistant = i
			break
		}
	}
	if lastAssistant == -1 || len(messages[lastAssistant].ToolCalls) == 0 {
		return nil
	}

	satisfied := make(map[string]bool)
	for i := lastAssistant + 1; i < len(messages); i++ {
		if messages[i].Role == "tool" && messages[i].ToolCallID != "" {
			satisfied[messages[i].ToolCallID] = true
		}
	}

	var pending []providers.ToolCall
	for _, tc := range messages[lastAssistant].ToolCalls {
		if !satisfied[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// loop runs the model-call/tool-call React loop starting at iteration
// startIteration, shared between a fresh Run (startIteration 0) and a
// Resume that has already dispatched the turn's pending tool calls and
// simply continues the loop from the next model call (startIteration 1).
func (a *DeepAgent) loop(ctx context.Context, s *state.AgentState, rootSpan trace.Span, startIteration int) (*state.AgentState, error) {
	var err error
	for iteration := startIteration; iteration < a.cfg.MaxIterations; iteration++ {
		var cmd *Command
		s, cmd, err = a.runBeforeModel(ctx, s)
		if err != nil {
			return s, err
		}
		if cmd != nil && cmd.GoTo == "end" {
			break
		}

		resp, err := a.callModel(ctx, s, iteration)
		if err != nil {
			var interrupt Interrupt
			if errors.As(err, &interrupt) {
				return s, interrupt
			}
			tracing.EndAgentSpan(rootSpan, 0, err)
			return s, err
		}

		s, cmd, err = a.runAfterModel(ctx, s, resp)
		if err != nil {
			return s, err
		}
		if cmd != nil && cmd.GoTo == "end" {
			break
		}

		if len(resp.ToolCalls) == 0 {
			s = appendMessage(s, state.Message{Role: "assistant", Content: resp.Content})
			// The loop would terminate here; after_agent may still request
			// another model call (e.g. to react to a reconciled sub-agent).
			final, cmd, err := a.runAfterAgent(ctx, s)
			s = final
			if err != nil {
				return s, err
			}
			if cmd != nil && cmd.GoTo == "model" {
				continue
			}
			tracing.EndAgentSpan(rootSpan, len(s.Messages), nil)
			return s, nil
		}

		s = appendMessage(s, state.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		s, err = a.dispatchToolCalls(ctx, s, resp.ToolCalls)
		if err != nil {
			var interrupt Interrupt
			if errors.As(err, &interrupt) {
				return s, interrupt
			}
			return s, err
		}

		final, cmd, err := a.runAfterAgent(ctx, s)
		s = final
		if err != nil {
			return s, err
		}
		if cmd != nil && cmd.GoTo == "model" {
			continue
		}
	}

	// A final after_agent pass after the loop exits on iteration budget (or
	// on an "end" command from before_model/after_model): if
	// it requests "model" (a sub-agent finished just as the budget ran out)
	// the result is still returned as-is — the loop does not continue
	// unboundedly beyond MaxIterations, callers needing another pass
	// re-invoke Run/Resume.
	s, _, err = a.runAfterAgent(ctx, s)
	if err != nil {
		return s, err
	}

	tracing.EndAgentSpan(rootSpan, len(s.Messages), nil)
	return s, nil
}

func (a *DeepAgent) runBeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error) {
	for _, mw := range a.stack {
		next, cmd, err := mw.BeforeModel(ctx, s)
		if err != nil {
			return s, nil, err
		}
		s = next
		if cmd != nil {
			return s, cmd, nil
		}
	}
	return s, nil, nil
}

func (a *DeepAgent) runAfterModel(ctx context.Context, s *state.AgentState, resp *providers.ChatResponse) (*state.AgentState, *Command, error) {
	for _, mw := range a.stack {
		next, cmd, err := mw.AfterModel(ctx, s, resp)
		if err != nil {
			return s, nil, err
		}
		s = next
		if cmd != nil {
			return s, cmd, nil
		}
	}
	return s, nil, nil
}

func (a *DeepAgent) runAfterAgent(ctx context.Context, s *state.AgentState) (*state.AgentState, *Command, error) {
	for _, mw := range a.stack {
		next, cmd, err := mw.AfterAgent(ctx, s)
		if err != nil {
			return s, nil, err
		}
		s = next
		if cmd != nil {
			return s, cmd, nil
		}
	}
	return s, nil, nil
}

func (a *DeepAgent) callModel(ctx context.Context, s *state.AgentState, iteration int) (*providers.ChatResponse, error) {
	ctx, span := tracing.StartLLMSpan(ctx, a.cfg.Provider.Name(), a.cfg.Model, iteration)
	defer span.End()

	var defs []providers.ToolDefinition
	for _, t := range a.allTools(s) {
		defs = append(defs, t.Definition())
	}

	messages := a.buildMessages(s)

	invoke := func(ctx context.Context, messages []providers.Message) (*providers.ChatResponse, error) {
		resp, err := a.cfg.Provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    defs,
			Model:    a.cfg.Model,
		})
		tracing.EndLLMSpan(span, resp, err)
		return resp, err
	}

	// wrap_model_call composes outside-in: the first middleware in the
	// stack is the outermost wrapper, matching the order user-supplied and
	// built-in middleware are assembled in (§4.G).
	wrapped := invoke
	for i := len(a.stack) - 1; i >= 0; i-- {
		mw := a.stack[i]
		next := wrapped
		wrapped = func(ctx context.Context, messages []providers.Message) (*providers.ChatResponse, error) {
			return mw.WrapModelCall(ctx, s, messages, next)
		}
	}
	return wrapped(ctx, messages)
}

// buildMessages prepends the system prompt (augmented by any skills/memory
// Extra entries middleware have contributed) to the effective message list.
func (a *DeepAgent) buildMessages(s *state.AgentState) []providers.Message {
	prompt := a.cfg.SystemPrompt
	if s.Extra != nil {
		if skillsIdx, ok := s.Extra["skills_metadata"].(string); ok && skillsIdx != "" {
			prompt = skillsIdx + "\n\n" + prompt
		}
		if memory, ok := s.Extra["memory_contents"].(string); ok && memory != "" {
			prompt = memory + "\n\n" + prompt
		}
	}
	messages := make([]providers.Message, 0, len(s.Messages)+1)
	if prompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: prompt})
	}
	messages = append(messages, s.Messages...)
	return messages
}

// dispatchToolCalls executes each tool call wrapped through
// WrapToolCall, in parallel when the turn has more than one call (§5.2,
// grounded in loop.go's goroutine+errgroup parallel-dispatch idiom), and
// appends the resulting tool-result messages. State mutations from
// parallel calls are serialized after every goroutine has finished so the
// per-key reducers (files/todos/tasks) apply deterministically regardless
// of completion order.
//
// Every call always runs to completion: an Interrupt raised by one call
// (e.g. HITL intercepting it) never cancels or discards a sibling call's
// already-computed result (§4.E scenario S6 — an unguarded call dispatched
// alongside two guarded ones must still produce its tool-result message).
// If one or more calls interrupt, their ActionRequests/ReviewConfigs are
// combined into a single Interrupt and returned alongside a state that
// already has every non-interrupted call's result merged in.
func (a *DeepAgent) dispatchToolCalls(ctx context.Context, s *state.AgentState, calls []providers.ToolCall) (*state.AgentState, error) {
	type outcome struct {
		call      providers.ToolCall
		result    *tools.Result
		err       error
		state     *state.AgentState
		interrupt Interrupt
	}
	outcomes := make([]outcome, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			// Each goroutine operates on its own shallow clone so
			// concurrent tool handlers never race on the shared struct;
			// the caller merges files/todos/tasks back via the per-key
			// reducers below. The goroutine never returns a non-nil error
			// here — every outcome, interrupted or not, must be collected
			// before the batch is decided, so Wait never cancels siblings
			// early via errgroup's first-error semantics.
			localState := s.Clone()
			result, err := a.dispatchOne(ctx, localState, call)
			o := outcome{call: call, result: result, state: localState}
			var interrupt Interrupt
			if err != nil && errors.As(err, &interrupt) {
				o.interrupt = interrupt
			} else {
				o.err = err
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	var combined Interrupt
	var fatal error
	next := s.Clone()
	for _, o := range outcomes {
		if o.interrupt != nil {
			if combined == nil {
				combined = o.interrupt
			} else {
				combined = combined.Combine(o.interrupt)
			}
			continue
		}
		if o.result == nil {
			// A call that failed without producing a result (e.g. an
			// unknown sub-agent type) is a fatal error raised to the caller.
			if o.err != nil && fatal == nil {
				fatal = o.err
			}
			continue
		}
		next.Files = state.MergeFiles(next.Files, state.DiffFiles(s.Files, o.state.Files))
		next.Todos = state.MergeTodos(next.Todos, o.state.Todos, true)
		next.Tasks = mergeTaskAdds(next.Tasks, s.Tasks, o.state.Tasks)

		content := o.result.ForLLM
		if o.err != nil {
			content = fmt.Sprintf("tool error: %s", o.err.Error())
		}
		next.Messages = append(next.Messages, state.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: o.call.ID,
		})
	}
	if fatal != nil {
		return next, fatal
	}
	if combined != nil {
		return next, combined
	}
	return next, nil
}

// mergeTaskAdds folds whichever new task entries a single tool call's local
// clone introduced (i.e. not present in pre) into next, without
// reintroducing entries another concurrent call already tombstoned.
func mergeTaskAdds(next, pre, localTasks state.Tasks) state.Tasks {
	adds := make(map[string]state.TaskOp)
	for id, exec := range localTasks {
		if _, existed := pre[id]; !existed {
			adds[id] = state.TaskOp{Kind: state.TaskOpAdd, Execution: exec}
		}
	}
	return state.MergeTasks(next, adds)
}

func (a *DeepAgent) dispatchOne(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
	ctx, span := tracing.StartToolSpan(ctx, call.Name, call.ID)
	defer span.End()

	tool, ok := a.toolByName(s, call.Name)
	if !ok {
		result := tools.ErrorResult(fmt.Sprintf("unknown tool %q", call.Name))
		tracing.EndToolSpan(span, result, nil)
		return result, nil
	}

	invoke := tool.Call
	wrapped := func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
		return invoke(ctx, s, call)
	}
	for i := len(a.stack) - 1; i >= 0; i-- {
		mw := a.stack[i]
		next := wrapped
		wrapped = func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			return mw.WrapToolCall(ctx, s, call, next)
		}
	}

	result, err := wrapped(ctx, s, call)
	tracing.EndToolSpan(span, result, err)
	return result, err
}

func appendMessage(s *state.AgentState, msg state.Message) *state.AgentState {
	next := s.Clone()
	next.Messages = append(next.Messages, msg)
	return next
}
