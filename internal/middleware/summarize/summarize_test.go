package summarize_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/deepagent/internal/middleware/summarize"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/testkit"
)

func newConfig(backend *testkit.MemoryBackend) summarize.Config {
	cfg := summarize.DefaultConfig(0)
	cfg.Trigger = []summarize.Policy{{Kind: summarize.PolicyMessages, Value: 4}}
	cfg.Keep = summarize.Policy{Kind: summarize.PolicyMessages, Value: 1}
	cfg.Backend = backend
	cfg.SummarizeFn = func(ctx context.Context, buffer string) (string, error) {
		return fmt.Sprintf("summary of %d chars", len(buffer)), nil
	}
	return cfg
}

func TestSummarize_RecordsEventAndShrinksEffectiveMessages(t *testing.T) {
	s := state.New()
	s.SummarizationSessionID = "session-1"
	s.Messages = []state.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
		{Role: "user", Content: "five"},
	}

	mw := summarize.New(newConfig(testkit.NewMemoryBackend()))

	next, err := mw.Summarize(context.Background(), s, true)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if next.SummarizationEvent == nil {
		t.Fatalf("expected a summarization event to be recorded")
	}

	effective := summarize.EffectiveMessages(next)
	if len(effective) >= len(s.Messages) {
		t.Fatalf("expected effective messages to shrink, got %d (original %d)", len(effective), len(s.Messages))
	}
	if effective[0].Content == "" {
		t.Fatalf("expected the summary message to be first in the effective view")
	}
}

func TestSummarize_CutoffNeverSplitsAToolCallPair(t *testing.T) {
	s := state.New()
	s.SummarizationSessionID = "session-2"
	s.Messages = []state.Message{
		{Role: "user", Content: "do something"},
		{Role: "assistant", Content: "", ToolCalls: []state.ToolCall{{ID: "call_1", Name: "echo"}}},
		{Role: "tool", Content: "result", ToolCallID: "call_1"},
		{Role: "assistant", Content: "final answer"},
	}

	cfg := newConfig(testkit.NewMemoryBackend())
	cfg.Keep = summarize.Policy{Kind: summarize.PolicyMessages, Value: 2}
	mw := summarize.New(cfg)

	next, err := mw.Summarize(context.Background(), s, true)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if next.SummarizationEvent == nil {
		t.Skip("nothing to summarize with this keep budget")
	}

	cutoff := next.SummarizationEvent.CutoffIndex
	if cutoff > 0 && cutoff < len(s.Messages) && s.Messages[cutoff].Role == "tool" {
		t.Fatalf("cutoff %d lands on a tool-result message, splitting a call/result pair", cutoff)
	}
}

func TestSummarize_CutoffIsStrictlyIncreasingAcrossRepeatedCalls(t *testing.T) {
	s := state.New()
	s.SummarizationSessionID = "session-3"
	for i := 0; i < 20; i++ {
		s.Messages = append(s.Messages, state.Message{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}

	mw := summarize.New(newConfig(testkit.NewMemoryBackend()))

	first, err := mw.Summarize(context.Background(), s, true)
	if err != nil {
		t.Fatalf("first Summarize returned error: %v", err)
	}
	if first.SummarizationEvent == nil {
		t.Fatalf("expected a summarization event on first call")
	}

	for i := 0; i < 20; i++ {
		first.Messages = append(first.Messages, state.Message{Role: "user", Content: fmt.Sprintf("more-%d", i)})
	}

	second, err := mw.Summarize(context.Background(), first, true)
	if err != nil {
		t.Fatalf("second Summarize returned error: %v", err)
	}
	if second.SummarizationEvent == nil {
		t.Fatalf("expected a summarization event on second call")
	}
	if second.SummarizationEvent.CutoffIndex <= first.SummarizationEvent.CutoffIndex {
		t.Fatalf("expected cutoff to strictly increase: first=%d second=%d",
			first.SummarizationEvent.CutoffIndex, second.SummarizationEvent.CutoffIndex)
	}
}
