// Package config loads the deep-agent runtime's configuration: provider
// credentials, per-agent model/workspace defaults, sandbox/memory/
// summarization policy, and telemetry export settings.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/backend/sandbox"
	"github.com/nextlevelbuilder/deepagent/internal/backend/sandbox/local"
	"github.com/nextlevelbuilder/deepagent/internal/backend/sandbox/rod"
	"golang.org/x/time/rate"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the deep-agent runtime.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools"`
	Store     StoreConfig     `json:"store,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// StoreConfig selects and configures the checkpoint store backing
// long-running sessions.
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"`       // "sqlite" (default) or "postgres"
	DSN         string `json:"-"`                       // connection string; from env only, never persisted
	SQLitePath  string `json:"sqlite_path,omitempty"`   // default "~/.deepagent/state.db"
}

// SkillsConfig configures where skill/memory source files are discovered.
type SkillsConfig struct {
	SkillsDirs []string `json:"skills_dirs,omitempty"` // directories scanned for SKILL.md
	MemoryDirs []string `json:"memory_dirs,omitempty"` // directories scanned for AGENTS.md
	Watch      bool     `json:"watch,omitempty"`       // enable fsnotify-based cache invalidation
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings applied to every agent run unless
// overridden per-agent.
type AgentDefaults struct {
	Workspace           string              `json:"workspace"`
	RestrictToWorkspace bool                `json:"restrict_to_workspace"`
	Provider            string              `json:"provider"`
	Model               string              `json:"model"`
	MaxTokens           int                 `json:"max_tokens"`
	Temperature         float64             `json:"temperature"`
	MaxToolIterations   int                 `json:"max_tool_iterations"`
	ContextWindow       int                 `json:"context_window"`
	Subagents           *SubagentsConfig    `json:"subagents,omitempty"`
	Sandbox             *SandboxConfig      `json:"sandbox,omitempty"`
	Memory              *MemoryConfig       `json:"memory,omitempty"`
	Compaction          *CompactionConfig   `json:"compaction,omitempty"`
	Skills              *SkillsConfig       `json:"skills,omitempty"`
	HITL                *HITLConfig         `json:"hitl,omitempty"`
}

// HITLConfig configures which tools interrupt for human review.
type HITLConfig struct {
	InterruptOn []string `json:"interrupt_on,omitempty"` // tool names requiring approval
}

// CompactionConfig configures the summarization middleware's trigger/keep
// policy. Matching the spec's fraction/tokens/messages policy kinds.
type CompactionConfig struct {
	TriggerKind string  `json:"trigger_kind,omitempty"` // "fraction", "tokens", "messages"
	TriggerValue float64 `json:"trigger_value,omitempty"`
	KeepKind    string  `json:"keep_kind,omitempty"`
	KeepValue   float64 `json:"keep_value,omitempty"`
}

// MemoryConfig configures long-term memory source discovery.
type MemoryConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default true (nil = enabled)
}

// SandboxConfig configures which concrete sandbox.Provider (§6 "Sandbox
// provider interface") backs the Execute capability for sub-agents whose
// registry entry requests one.
type SandboxConfig struct {
	Mode       string  `json:"mode,omitempty"`        // "off" (default), "non-main", "all"
	Provider   string  `json:"provider,omitempty"`    // "local" (default) or "rod"
	Restrict   bool    `json:"restrict,omitempty"`    // confine file ops to the sandbox workdir
	TimeoutSec int     `json:"timeout_sec,omitempty"` // per-command Execute timeout
	RodURL     string  `json:"rod_url,omitempty"`     // control URL for an already-running browser (rod provider only)
	ProvisionPerSec float64 `json:"provision_per_sec,omitempty"` // rate limit on GetOrCreate
	ExecPerSec      float64 `json:"exec_per_sec,omitempty"`      // rate limit on Execute
	ExecBurst       int     `json:"exec_burst,omitempty"`
}

// SandboxMode reports which sub-agents the sandbox applies to: "off" means
// no sub-agent gets a sandboxed backend, "non-main" means every sub-agent
// except the top-level agent does, "all" means every task including the
// top-level one runs against a sandbox.
func (sc *SandboxConfig) SandboxMode() string {
	if sc == nil || sc.Mode == "" {
		return "off"
	}
	return sc.Mode
}

// NewProvider builds the concrete sandbox.Provider this config selects,
// wrapped in the shared rate-limiting decorator. Returns nil, nil if the
// mode is "off".
func (sc *SandboxConfig) NewProvider() (sandbox.Provider, error) {
	if sc.SandboxMode() == "off" {
		return nil, nil
	}

	var inner sandbox.Provider
	switch sc.Provider {
	case "rod":
		inner = rod.NewProvider(sc.RodURL)
	default:
		inner = local.NewProvider(sc.Restrict)
	}

	provisionPerSec := sc.ProvisionPerSec
	if provisionPerSec <= 0 {
		provisionPerSec = 1
	}
	execPerSec := sc.ExecPerSec
	if execPerSec <= 0 {
		execPerSec = 5
	}
	execBurst := sc.ExecBurst
	if execBurst <= 0 {
		execBurst = 10
	}
	return sandbox.NewRateLimitedProvider(inner, rate.Limit(provisionPerSec), rate.Limit(execPerSec), execBurst), nil
}

// ExecuteTimeout returns the configured per-command timeout, defaulting to
// 60 seconds to match local.Backend's default.
func (sc *SandboxConfig) ExecuteTimeout() time.Duration {
	if sc == nil || sc.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(sc.TimeoutSec) * time.Second
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SubagentsConfig configures the sub-agent scheduler's limits.
type SubagentsConfig struct {
	MaxConcurrent       int    `json:"maxConcurrent,omitempty"`
	MaxSpawnDepth       int    `json:"maxSpawnDepth,omitempty"`
	MaxChildrenPerAgent int    `json:"maxChildrenPerAgent,omitempty"`
	ArchiveAfterMinutes int    `json:"archiveAfterMinutes,omitempty"`
	Model               string `json:"model,omitempty"`
}

// AgentSpec is the per-agent configuration override. All fields optional —
// zero values mean "inherit from defaults".
type AgentSpec struct {
	DisplayName       string          `json:"displayName,omitempty"`
	Provider          string          `json:"provider,omitempty"`
	Model             string          `json:"model,omitempty"`
	MaxTokens         int             `json:"max_tokens,omitempty"`
	Temperature       float64         `json:"temperature,omitempty"`
	MaxToolIterations int             `json:"max_tool_iterations,omitempty"`
	ContextWindow     int             `json:"context_window,omitempty"`
	Tools             *ToolPolicySpec `json:"tools,omitempty"`
	Workspace         string          `json:"workspace,omitempty"`
	Default           bool            `json:"default,omitempty"`
	Sandbox           *SandboxConfig  `json:"sandbox,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Providers = src.Providers
	c.Tools = src.Tools
	c.Store = src.Store
	c.Telemetry = src.Telemetry
}
