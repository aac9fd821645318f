package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/deepagent/internal/config"
)

// Registry is a name-keyed set of configured providers, built once at
// startup from config.ProvidersConfig. Grounded in the teacher's CLI
// bootstrap pattern (agent_chat_standalone.go's providers.NewRegistry() +
// registerProviders), adapted into this package since no provider registry
// survived in the retrieved slice — every provider constructor it calls
// did.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name(). Re-registering a name
// replaces the previous entry but keeps its original position in List.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns the named provider, or an error if it isn't registered.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// List returns registered provider names in registration order.
func (r *Registry) List() []string {
	return append([]string(nil), r.order...)
}

// NewRegistryFromConfig registers every provider in cfg that has an API key
// set, using each family's documented default base URL/model when the
// config leaves them blank. OpenAI-compatible hosts (OpenRouter, Groq,
// DeepSeek, Mistral, XAI, Cohere, Perplexity, Gemini) all ride the shared
// OpenAIProvider with a distinct name/base/model per §6's provider family
// table; MiniMax rides it too, with its native chat path set through
// WithChatPath. DashScopeProvider is not registered here, since
// ProvidersConfig has no DashScope entry.
func NewRegistryFromConfig(cfg config.ProvidersConfig) *Registry {
	r := NewRegistry()

	if cfg.Anthropic.APIKey != "" {
		var opts []AnthropicOption
		if cfg.Anthropic.APIBase != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.Anthropic.APIBase))
		}
		r.Register(NewAnthropicProvider(cfg.Anthropic.APIKey, opts...))
	}
	if cfg.OpenAI.APIKey != "" {
		r.Register(NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, "gpt-5"))
	}
	if cfg.OpenRouter.APIKey != "" {
		base := cfg.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		r.Register(NewOpenAIProvider("openrouter", cfg.OpenRouter.APIKey, base, "anthropic/claude-sonnet-4-5-20250929"))
	}
	if cfg.Groq.APIKey != "" {
		base := cfg.Groq.APIBase
		if base == "" {
			base = "https://api.groq.com/openai/v1"
		}
		r.Register(NewOpenAIProvider("groq", cfg.Groq.APIKey, base, "llama-3.3-70b-versatile"))
	}
	if cfg.DeepSeek.APIKey != "" {
		base := cfg.DeepSeek.APIBase
		if base == "" {
			base = "https://api.deepseek.com/v1"
		}
		r.Register(NewOpenAIProvider("deepseek", cfg.DeepSeek.APIKey, base, "deepseek-chat"))
	}
	if cfg.Gemini.APIKey != "" {
		base := cfg.Gemini.APIBase
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		r.Register(NewOpenAIProvider("gemini", cfg.Gemini.APIKey, base, "gemini-3-pro"))
	}
	if cfg.Mistral.APIKey != "" {
		base := cfg.Mistral.APIBase
		if base == "" {
			base = "https://api.mistral.ai/v1"
		}
		r.Register(NewOpenAIProvider("mistral", cfg.Mistral.APIKey, base, "mistral-large-latest"))
	}
	if cfg.XAI.APIKey != "" {
		base := cfg.XAI.APIBase
		if base == "" {
			base = "https://api.x.ai/v1"
		}
		r.Register(NewOpenAIProvider("xai", cfg.XAI.APIKey, base, "grok-4"))
	}
	if cfg.Cohere.APIKey != "" {
		base := cfg.Cohere.APIBase
		if base == "" {
			base = "https://api.cohere.ai/compatibility/v1"
		}
		r.Register(NewOpenAIProvider("cohere", cfg.Cohere.APIKey, base, "command-a-03-2025"))
	}
	if cfg.Perplexity.APIKey != "" {
		base := cfg.Perplexity.APIBase
		if base == "" {
			base = "https://api.perplexity.ai"
		}
		r.Register(NewOpenAIProvider("perplexity", cfg.Perplexity.APIKey, base, "sonar-pro"))
	}
	if cfg.MiniMax.APIKey != "" {
		base := cfg.MiniMax.APIBase
		if base == "" {
			base = "https://api.minimax.io/v1"
		}
		mm := NewOpenAIProvider("minimax", cfg.MiniMax.APIKey, base, "MiniMax-M2").WithChatPath("/text/chatcompletion_v2")
		r.Register(mm)
	}

	return r
}
