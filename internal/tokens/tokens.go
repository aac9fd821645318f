// Package tokens provides the rough token-count estimation shared by the
// filesystem middleware's oversize-eviction threshold and the summarization
// middleware's trigger/keep policies. Grounded in
// internal/agent/loop_tracing.go's EstimateTokens (rune-count/3 heuristic);
// generalized here into a standalone package so both middleware can depend
// on it without pulling in the teacher's full agent.Loop.
package tokens

import (
	"unicode/utf8"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
)

// EstimateString returns a rough token estimate for a single string.
func EstimateString(s string) int {
	return utf8.RuneCountInString(s) / 3
}

// EstimateMessages returns a rough token estimate for a slice of messages,
// counting content plus a small fixed overhead per tool call to approximate
// its JSON-encoded arguments.
func EstimateMessages(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateString(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateString(tc.Name) + 8
			for k, v := range tc.Arguments {
				total += EstimateString(k) + EstimateString(toText(v)) + 2
			}
		}
	}
	return total
}

// EstimateToolSchemas returns a rough token estimate for a set of tool
// definitions, counting toward the "messages + system prompt + tool
// schemas" total the fraction/tokens trigger policies require (§4.F).
func EstimateToolSchemas(defs []providers.ToolDefinition) int {
	total := 0
	for _, d := range defs {
		total += EstimateString(d.Function.Name) + EstimateString(d.Function.Description)
	}
	return total
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}
