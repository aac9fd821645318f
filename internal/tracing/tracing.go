// Package tracing wraps go.opentelemetry.io/otel for the kernel's per-phase
// spans. It replaces the teacher's internal/agent/loop_tracing.go, which
// wrote an ad hoc store.SpanData straight to Postgres: the span
// *taxonomy* here is the same (one root agent span parenting llm_call and
// tool_call children per iteration, emitted at emitLLMSpan/emitToolSpan/
// emitAgentSpan's call sites) but spans are real OpenTelemetry spans
// exported via OTLP rather than a bespoke collector, so any standard OTel
// backend can consume them.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

const instrumentationName = "github.com/nextlevelbuilder/deepagent/internal/kernel"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartAgentSpan opens the root span for one agent run; every llm_call and
// tool_call span started against the returned context nests under it.
func StartAgentSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("deepagent.agent_id", agentID),
	))
}

// EndAgentSpan records the final assistant content length and outcome.
func EndAgentSpan(span trace.Span, contentLen int, err error) {
	span.SetAttributes(attribute.Int("deepagent.output_chars", contentLen))
	finish(span, err)
}

// StartLLMSpan opens a span for one model call within an iteration.
func StartLLMSpan(ctx context.Context, provider, model string, iteration int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.system", provider),
		attribute.String("gen_ai.request.model", model),
		attribute.Int("deepagent.iteration", iteration),
	))
}

// EndLLMSpan records usage and finish reason, mirroring emitLLMSpan's
// token/finish-reason attributes.
func EndLLMSpan(span trace.Span, resp *providers.ChatResponse, err error) {
	if resp != nil {
		span.SetAttributes(attribute.String("gen_ai.response.finish_reason", resp.FinishReason))
		if resp.Usage != nil {
			span.SetAttributes(
				attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
				attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
			)
		}
	}
	finish(span, err)
}

// StartToolSpan opens a span for one tool invocation.
func StartToolSpan(ctx context.Context, toolName, toolCallID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("deepagent.tool_name", toolName),
		attribute.String("deepagent.tool_call_id", toolCallID),
	))
}

// EndToolSpan records the tool result, mirroring emitToolSpan's error and
// inner-LLM usage capture (e.g. a tool that itself calls a model).
func EndToolSpan(span trace.Span, result *tools.Result, err error) {
	if result != nil {
		span.SetAttributes(attribute.Bool("deepagent.tool_is_error", result.IsError))
		if result.Usage != nil {
			span.SetAttributes(
				attribute.Int("gen_ai.usage.input_tokens", result.Usage.PromptTokens),
				attribute.Int("gen_ai.usage.output_tokens", result.Usage.CompletionTokens),
				attribute.String("gen_ai.system", result.Provider),
				attribute.String("gen_ai.request.model", result.Model),
			)
		}
		if result.IsError && err == nil {
			span.SetStatus(codes.Error, truncate(result.ForLLM, 200))
		}
	}
	finish(span, err)
}

// StartPhaseSpan opens a span for a middleware pipeline phase (before_model,
// after_model, after_agent, wrap_model_call, wrap_tool_call). The kernel
// does not call it; a middleware calls it around the phase it traces.
func StartPhaseSpan(ctx context.Context, middlewareName, phase string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "middleware."+phase, trace.WithAttributes(
		attribute.String("deepagent.middleware", middlewareName),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Duration is a convenience for middleware that want to log alongside
// tracing without importing time directly at call sites.
func Duration(start time.Time) time.Duration { return time.Since(start) }
