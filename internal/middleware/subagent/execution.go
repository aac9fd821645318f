package subagent

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// Execution wraps a sub-agent run's output stream, beginning eager
// consumption in a goroutine started by New, which runs concurrently with
// the parent loop. It satisfies state.Execution so it can live in
// AgentState.Tasks without that package depending on this one.
//
// Grounded in other_examples' wick_agent agent-loop.go StreamEvent channel
// pattern and the teacher's own goroutine+sync.WaitGroup parallel-dispatch
// idiom in loop.go, generalized into a standing handle instead of a
// fire-and-forget dispatch.
type Execution struct {
	subagentType string

	snapshot atomic.Pointer[state.AgentState]
	pending  atomic.Bool

	done   chan struct{}
	err    atomic.Pointer[error]
	cancel context.CancelFunc
}

// New starts consuming chunks from the given channel eagerly in a
// background goroutine and returns immediately; cancel is the sub-agent
// run's own context cancellation, invoked by Kill.
func New(subagentType string, seed *state.AgentState, chunks <-chan RunChunk, cancel context.CancelFunc) *Execution {
	e := &Execution{
		subagentType: subagentType,
		done:         make(chan struct{}),
		cancel:       cancel,
	}
	e.pending.Store(true)
	e.snapshot.Store(seed)
	go e.pump(chunks)
	return e
}

func (e *Execution) pump(chunks <-chan RunChunk) {
	defer close(e.done)
	defer e.pending.Store(false)

	rolling := e.snapshot.Load()
	for chunk := range chunks {
		if chunk.Err != nil {
			e.setErr(chunk.Err)
			return
		}
		if s, ok := chunk.Values.(*state.AgentState); ok && s != nil {
			rolling = s
			e.snapshot.Store(rolling)
			continue
		}
		if chunk.NodeUpdates != nil {
			rolling = mergeNodeUpdates(rolling, chunk.NodeUpdates)
			e.snapshot.Store(rolling)
		}
		if chunk.Done {
			return
		}
	}
}

func (e *Execution) setErr(err error) {
	e.err.Store(&err)
}

// mergeNodeUpdates folds a node-name -> partial-state update map into a
// rolling snapshot for "updates" stream mode. Each partial update is itself
// an *state.AgentState representing that node's contribution; files/todos
// merge through the same reducers the top-level engine would apply.
func mergeNodeUpdates(rolling *state.AgentState, updates map[string]any) *state.AgentState {
	next := rolling.Clone()
	for _, v := range updates {
		partial, ok := v.(*state.AgentState)
		if !ok || partial == nil {
			continue
		}
		if len(partial.Messages) > 0 {
			next.Messages = append(next.Messages, partial.Messages...)
		}
		if partial.Files != nil {
			next.Files = state.MergeFiles(next.Files, state.DiffFiles(rolling.Files, partial.Files))
		}
		if partial.Todos != nil {
			next.Todos = state.MergeTodos(next.Todos, partial.Todos, true)
		}
	}
	return next
}

// IsPending reports whether the execution is still running.
func (e *Execution) IsPending() bool { return e.pending.Load() }

// Snapshot returns the latest known state without blocking.
func (e *Execution) Snapshot() *state.AgentState { return e.snapshot.Load() }

// Err returns the stream's terminal error, if any.
func (e *Execution) Err() error {
	if p := e.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Result blocks until the execution finishes (or ctx is cancelled),
// returning the final snapshot and any stream error.
func (e *Execution) Result(ctx context.Context) (*state.AgentState, error) {
	select {
	case <-e.done:
		return e.snapshot.Load(), e.Err()
	case <-ctx.Done():
		return e.snapshot.Load(), ctx.Err()
	}
}

// Done exposes the completion channel for callers (e.g. the after_agent
// race) that need to select across multiple executions.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Kill cancels the execution's underlying run context and marks it errored
// with a cancellation error once the stream observes the cancellation.
func (e *Execution) Kill() {
	if e.cancel != nil {
		e.cancel()
	}
}
