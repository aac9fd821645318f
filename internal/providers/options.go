package providers

// Option keys recognized in ChatRequest.Options. These are the generic,
// provider-agnostic knobs a caller (the kernel, or a CLI flag) sets; each
// provider's buildRequestBody translates the ones it understands into its
// own wire format and ignores the rest.
const (
	OptMaxTokens     = "max_tokens"
	OptTemperature   = "temperature"
	OptThinkingLevel = "thinking_level" // "off", "low", "medium", "high"

	// OptReasoningEffort is the OpenAI o-series wire key thinking_level maps
	// to directly (body["reasoning_effort"] = level).
	OptReasoningEffort = "reasoning_effort"

	// OptEnableThinking/OptThinkingBudget are DashScope's native
	// passthrough keys; DashScopeProvider.ChatStream translates
	// OptThinkingLevel into these before delegating to the OpenAI base.
	OptEnableThinking = "enable_thinking"
	OptThinkingBudget = "thinking_budget"
)
