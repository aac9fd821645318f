package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultAgentID is the agent ID used when no agent in Agents.List is
// marked as default.
const DefaultAgentID = "default"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.deepagent/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   20,
				ContextWindow:       200000,
				Subagents: &SubagentsConfig{
					MaxConcurrent: 20,
					MaxSpawnDepth: 1,
				},
				Compaction: &CompactionConfig{
					TriggerKind:  "fraction",
					TriggerValue: 0.8,
					KeepKind:     "messages",
					KeepValue:    10,
				},
			},
		},
		Tools: ToolsConfig{
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.deepagent/state.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("DEEPAGENT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("DEEPAGENT_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("DEEPAGENT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("DEEPAGENT_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("DEEPAGENT_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("DEEPAGENT_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("DEEPAGENT_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("DEEPAGENT_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("DEEPAGENT_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("DEEPAGENT_MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("DEEPAGENT_COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("DEEPAGENT_PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)

	// Allow overriding default provider/model
	envStr("DEEPAGENT_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("DEEPAGENT_MODEL", &c.Agents.Defaults.Model)
	envStr("DEEPAGENT_WORKSPACE", &c.Agents.Defaults.Workspace)

	// Store
	envStr("DEEPAGENT_STORE_DRIVER", &c.Store.Driver)
	envStr("DEEPAGENT_STORE_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("DEEPAGENT_POSTGRES_DSN", &c.Store.DSN)

	// Telemetry
	envStr("DEEPAGENT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("DEEPAGENT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("DEEPAGENT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("DEEPAGENT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DEEPAGENT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Sandbox
	ensureSandbox := func() {
		if c.Agents.Defaults.Sandbox == nil {
			c.Agents.Defaults.Sandbox = &SandboxConfig{}
		}
	}
	if v := os.Getenv("DEEPAGENT_SANDBOX_MODE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Mode = v
	}
	if v := os.Getenv("DEEPAGENT_SANDBOX_PROVIDER"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Provider = v
	}
	if v := os.Getenv("DEEPAGENT_SANDBOX_ROD_URL"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.RodURL = v
	}
	if v := os.Getenv("DEEPAGENT_SANDBOX_TIMEOUT_SEC"); v != "" {
		ensureSandbox()
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Agents.Defaults.Sandbox.TimeoutSec = sec
		}
	}
	if v := os.Getenv("DEEPAGENT_SANDBOX_RESTRICT"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Restrict = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if spec.Sandbox != nil {
			d.Sandbox = spec.Sandbox
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or DefaultAgentID if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "deepagent"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
