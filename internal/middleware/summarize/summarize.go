// Package summarize implements the Summarization Middleware (SPEC_FULL.md
// §4.F): trigger/keep policies, safe cutoff, history offload to backend,
// model-generated summaries, and the context-overflow retry fallback.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tokens"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// PolicyKind selects among the three trigger/keep policy forms §4.F allows.
type PolicyKind string

const (
	PolicyMessages PolicyKind = "messages"
	PolicyTokens   PolicyKind = "tokens"
	PolicyFraction PolicyKind = "fraction"
)

// Policy is one trigger or keep condition. Multiple Policies passed to
// Config.Trigger are OR'd together (any match triggers); Config.Keep uses
// only its first entry.
type Policy struct {
	Kind  PolicyKind
	Value float64 // message count, token count, or fraction depending on Kind
}

const summaryTag = "deepagent:summary"

const defaultHistoryPathPrefix = "/conversation_history"

// Config configures the middleware.
type Config struct {
	Backend        backend.Backend
	BackendFactory backend.Factory
	Store          any

	Trigger []Policy
	Keep    Policy

	// MaxInputTokens is the model profile's context window, required for
	// PolicyFraction triggers/keeps. Zero means profile-blind.
	MaxInputTokens int

	HistoryPathPrefix      string
	TrimTokensToSummarize  int
	SummarizeFn            func(ctx context.Context, buffer string) (string, error)
}

// DefaultConfig resolves the profile-aware/profile-blind defaults from
// §4.F: fraction 0.85/0.10 when MaxInputTokens is known, else 170k tokens
// trigger / 6 messages keep.
func DefaultConfig(maxInputTokens int) Config {
	cfg := Config{MaxInputTokens: maxInputTokens, TrimTokensToSummarize: 8000}
	if maxInputTokens > 0 {
		cfg.Trigger = []Policy{{Kind: PolicyFraction, Value: 0.85}}
		cfg.Keep = Policy{Kind: PolicyFraction, Value: 0.10}
	} else {
		cfg.Trigger = []Policy{{Kind: PolicyTokens, Value: 170_000}}
		cfg.Keep = Policy{Kind: PolicyMessages, Value: 6}
	}
	return cfg
}

// overflowPatterns matches recognizable context-overflow error messages
// from model providers, used by the overflow fallback (§4.F).
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)context.?length`),
	regexp.MustCompile(`(?i)maximum context`),
	regexp.MustCompile(`(?i)too many tokens`),
	regexp.MustCompile(`(?i)prompt is too long`),
	regexp.MustCompile(`(?i)request.*too large`),
}

func isOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range overflowPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// Middleware is the Summarization Middleware.
type Middleware struct {
	kernel.Base
	cfg   Config
	group singleflight.Group // per-session summarization mutual exclusion
}

func New(cfg Config) *Middleware {
	if cfg.HistoryPathPrefix == "" {
		cfg.HistoryPathPrefix = defaultHistoryPathPrefix
	}
	if cfg.TrimTokensToSummarize <= 0 {
		cfg.TrimTokensToSummarize = 8000
	}
	return &Middleware{cfg: cfg}
}

func (m *Middleware) Name() string { return "summarize" }

func (m *Middleware) resolveBackend(s *state.AgentState) backend.Backend {
	if m.cfg.Backend != nil {
		return m.cfg.Backend
	}
	return m.cfg.BackendFactory(s, m.cfg.Store)
}

// EffectiveMessages reconstructs the message list the model should see:
// when a prior summarization event exists, it is [summary_message] +
// state.Messages[cutoff_index:] instead of the full history, avoiding a
// state rewrite on every turn.
func EffectiveMessages(s *state.AgentState) []state.Message {
	if s.SummarizationEvent == nil {
		return s.Messages
	}
	ev := s.SummarizationEvent
	cutoff := ev.CutoffIndex
	if cutoff < 0 {
		cutoff = 0
	}
	if cutoff > len(s.Messages) {
		cutoff = len(s.Messages)
	}
	out := make([]state.Message, 0, len(s.Messages)-cutoff+1)
	out = append(out, ev.SummaryMessage)
	out = append(out, s.Messages[cutoff:]...)
	return out
}

func (m *Middleware) shouldSummarize(messages []state.Message, systemPromptTokens, toolSchemaTokens int) bool {
	total := tokens.EstimateMessages(toProviderMessages(messages)) + systemPromptTokens + toolSchemaTokens
	for _, p := range m.cfg.Trigger {
		switch p.Kind {
		case PolicyMessages:
			if len(messages) >= int(p.Value) {
				return true
			}
		case PolicyTokens:
			if total >= int(p.Value) {
				return true
			}
		case PolicyFraction:
			if m.cfg.MaxInputTokens > 0 && total >= int(float64(m.cfg.MaxInputTokens)*p.Value) {
				return true
			}
		}
	}
	return false
}

func (m *Middleware) keepCount(messages []state.Message) int {
	switch m.cfg.Keep.Kind {
	case PolicyMessages:
		return int(m.cfg.Keep.Value)
	case PolicyTokens, PolicyFraction:
		// Walk backward accumulating tokens until the budget is spent;
		// translate a token/fraction keep-budget into a message count.
		budget := int(m.cfg.Keep.Value)
		if m.cfg.Keep.Kind == PolicyFraction && m.cfg.MaxInputTokens > 0 {
			budget = int(float64(m.cfg.MaxInputTokens) * m.cfg.Keep.Value)
		}
		spent := 0
		for i := len(messages) - 1; i >= 0; i-- {
			spent += tokens.EstimateString(messages[i].Content)
			if spent > budget {
				return len(messages) - i - 1
			}
		}
		return len(messages)
	default:
		return 6
	}
}

// WrapModelCall implements the trigger flow and the overflow fallback.
func (m *Middleware) WrapModelCall(ctx context.Context, s *state.AgentState, messages []providers.Message, next kernel.ModelCallFunc) (*providers.ChatResponse, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "wrap_model_call")
	defer span.End()

	resp, err := next(ctx, messages)
	if err == nil {
		return resp, nil
	}
	if !isOverflowError(err) {
		return resp, err
	}

	// Overflow fallback: summarize even though should_summarize was false,
	// then retry once with the summarized view, keeping the system message
	// the kernel put first.
	summarized, serr := m.Summarize(ctx, s, true)
	if serr != nil {
		return resp, err
	}
	retryMessages := toProviderMessages(EffectiveMessages(summarized))
	if len(messages) > 0 && messages[0].Role == "system" {
		retryMessages = append([]providers.Message{messages[0]}, retryMessages...)
	}
	return next(ctx, retryMessages)
}

// BeforeModel runs the proactive trigger check ahead of the model call.
func (m *Middleware) BeforeModel(ctx context.Context, s *state.AgentState) (*state.AgentState, *kernel.Command, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "before_model")
	defer span.End()

	effective := EffectiveMessages(s)
	if !m.shouldSummarize(effective, 0, 0) {
		return s, nil, nil
	}
	next, err := m.Summarize(ctx, s, false)
	if err != nil {
		return s, nil, nil
	}
	return next, nil, nil
}

// Summarize runs the full flow described in §4.F steps 2-5: determine a
// safe cutoff, offload the to-summarize slice to backend, generate a
// summary via the model, and record the new event. force is set by the
// overflow fallback, which summarizes unconditionally regardless of the
// trigger policy.
func (m *Middleware) Summarize(ctx context.Context, s *state.AgentState, force bool) (*state.AgentState, error) {
	sessionID := s.SummarizationSessionID
	if sessionID == "" {
		return s, fmt.Errorf("summarize: state has no summarization_session_id")
	}

	result, err, _ := m.group.Do(sessionID, func() (any, error) {
		return m.summarizeLocked(ctx, s)
	})
	if err != nil {
		return s, err
	}
	return result.(*state.AgentState), nil
}

func (m *Middleware) summarizeLocked(ctx context.Context, s *state.AgentState) (*state.AgentState, error) {
	effective := EffectiveMessages(s)
	rawCutoff := len(effective) - m.keepCount(effective)
	if rawCutoff <= 0 {
		return s, nil
	}
	cutoff := state.SafeCutoff(effective, rawCutoff)
	if cutoff <= 0 || cutoff >= len(effective) {
		return s, nil
	}

	toSummarize := effective[:cutoff]
	toKeep := effective[cutoff:]

	if err := m.offload(ctx, s, toSummarize); err != nil {
		return s, fmt.Errorf("summarize: offload failed: %w", err)
	}

	buffer := renderBuffer(toSummarize, m.cfg.TrimTokensToSummarize)
	summaryText, err := m.cfg.SummarizeFn(ctx, buffer)
	if err != nil {
		return s, fmt.Errorf("summarize: model call failed: %w", err)
	}

	summaryMessage := state.Message{
		Role:    "user",
		Content: fmt.Sprintf("[%s]\n%s", summaryTag, summaryText),
	}

	// The new event's cutoff is expressed against the *full* raw
	// s.Messages, not the effective view, so it keeps strictly increasing
	// (invariant #4) across repeated summarizations.
	absoluteCutoff := len(s.Messages) - len(toKeep)
	if absoluteCutoff < 0 {
		absoluteCutoff = 0
	}

	next := s.Clone()
	next.SummarizationEvent = &state.SummarizationEvent{
		CutoffIndex:    absoluteCutoff,
		SummaryMessage: summaryMessage,
		FilePath:       fmt.Sprintf("%s/%s.md", m.cfg.HistoryPathPrefix, s.SummarizationSessionID),
	}
	return next, nil
}

// offload appends a timestamped section of the to-summarize slice to
// backend at <history_path_prefix>/<session_id>.md, via read-modify-write
// (read_raw + edit, falling back to write for a first-time file).
func (m *Middleware) offload(ctx context.Context, s *state.AgentState, toSummarize []state.Message) error {
	path := fmt.Sprintf("%s/%s.md", m.cfg.HistoryPathPrefix, s.SummarizationSessionID)
	section := fmt.Sprintf("## Summarized at %s\n\n%s\n\n", time.Now().UTC().Format(time.RFC3339), renderBuffer(toSummarize, 0))

	b := m.resolveBackend(s)
	existing, err := b.ReadRaw(ctx, path)
	if err != nil || existing == nil {
		_, werr := b.Write(ctx, path, section)
		return werr
	}
	// Append by replacing the whole existing content with itself plus the
	// new section (an empty old string only succeeds on an empty file).
	old := strings.Join(existing.Content, "\n")
	res, eerr := b.Edit(ctx, path, old, old+"\n"+section, false)
	if eerr != nil {
		return eerr
	}
	if res != nil && res.Error != "" {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

func renderBuffer(messages []state.Message, limitTokens int) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user", "assistant":
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
		case "tool":
			fmt.Fprintf(&sb, "tool[%s]: %s\n", msg.ToolCallID, msg.Content)
		}
		if limitTokens > 0 && tokens.EstimateString(sb.String()) >= limitTokens {
			break
		}
	}
	return sb.String()
}

// toProviderMessages is a type-identity no-op: state.Message is a type
// alias for providers.Message, kept as a named conversion at call sites so
// summarization code reads in terms of its own vocabulary.
func toProviderMessages(messages []state.Message) []providers.Message {
	return messages
}
