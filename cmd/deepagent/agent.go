package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/backend/hostbackend"
	"github.com/nextlevelbuilder/deepagent/internal/config"
	"github.com/nextlevelbuilder/deepagent/internal/deepagent"
	"github.com/nextlevelbuilder/deepagent/internal/engine"
	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/filesystem"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/hitl"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/skills"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/subagent"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/summarize"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/todo"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/store"
	"github.com/nextlevelbuilder/deepagent/internal/store/pg"
	"github.com/nextlevelbuilder/deepagent/internal/store/sqlite"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

const defaultSystemPrompt = "You are deepagent, a careful coding and research assistant. " +
	"Use the filesystem, todo, and delegation tools available to you; ask before taking " +
	"irreversible actions whenever the human-in-the-loop middleware intercepts a call."

// runtime holds the collaborators shared across every agent a single CLI
// invocation builds: the provider registry and the checkpoint store are
// opened once and reused for both the top-level agent and any sub-agents
// it spawns.
type runtime struct {
	cfg      *config.Config
	registry *providers.Registry
	store    store.Store
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	registry := providers.NewRegistryFromConfig(cfg.Providers)
	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no providers configured: set an API key in %s or the environment", resolveConfigPath())
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, registry: registry, store: st}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	ctx := context.Background()
	switch cfg.Store.Driver {
	case "postgres", "pg":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store driver %q requires store.dsn (or DEEPAGENT_POSTGRES_DSN)", cfg.Store.Driver)
		}
		return pg.Open(ctx, cfg.Store.DSN)
	default:
		path := config.ExpandHome(cfg.Store.SQLitePath)
		if path == "" {
			path = "~/.deepagent/state.db"
		}
		return sqlite.Open(ctx, config.ExpandHome(path))
	}
}

// resolveProvider looks up the agent's configured provider, falling back to
// whichever provider was registered first so a CLI with exactly one API
// key configured never has to name it explicitly.
func (rt *runtime) resolveProvider(agentCfg config.AgentDefaults) providers.Provider {
	if p, err := rt.registry.Get(agentCfg.Provider); err == nil {
		return p
	}
	names := rt.registry.List()
	p, _ := rt.registry.Get(names[0])
	return p
}

// buildAgent assembles the top-level *kernel.DeepAgent for agentID, wiring
// every optional middleware CreateDeepAgent understands from the resolved
// AgentDefaults, grounded on cmd/agent_chat_standalone.go's
// bootstrapStandaloneAgent wiring order (provider, then workspace/backend,
// then tools, then skills, then the agent loop itself).
func (rt *runtime) buildAgent(agentID string) (*kernel.DeepAgent, config.AgentDefaults, error) {
	agentCfg := rt.cfg.ResolveAgent(agentID)
	provider := rt.resolveProvider(agentCfg)

	workspace := config.ExpandHome(agentCfg.Workspace)
	if !filepath.IsAbs(workspace) {
		if abs, err := filepath.Abs(workspace); err == nil {
			workspace = abs
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, agentCfg, fmt.Errorf("create workspace: %w", err)
	}

	be := hostbackend.New(workspace, agentCfg.RestrictToWorkspace)

	skillsCfg, memoryCfg := buildSkillsConfig(agentCfg)
	summarizeCfg := buildSummarizeConfig(agentCfg, be, rt.store)
	interruptOn := buildInterruptOn(agentCfg)

	var toolPolicyAgent *config.ToolPolicySpec
	if spec, ok := rt.cfg.Agents.List[agentID]; ok {
		toolPolicyAgent = spec.Tools
	}
	toolPolicy := tools.NewPolicyEngine(&rt.cfg.Tools)

	maxDepth := 1
	if agentCfg.Subagents != nil && agentCfg.Subagents.MaxSpawnDepth > 0 {
		maxDepth = agentCfg.Subagents.MaxSpawnDepth
	}
	parentTools := rt.parentToolSurface(be, skillsCfg, memoryCfg)
	subRegistry := subagent.NewRegistry(nil, false, parentTools, nil, agentCfg.Model)
	subEngine := engine.New(rt.subagentFactory(provider, agentCfg, be, toolPolicy, maxDepth-1))

	cfg := deepagent.Config{
		Provider:        provider,
		Model:           agentCfg.Model,
		SystemPrompt:    defaultSystemPrompt,
		Backend:         be,
		Store:           rt.store,
		ToolTokenLimit:  20000,
		ToolPolicy:      toolPolicy,
		ToolPolicyAgent: toolPolicyAgent,
		Summarize:       summarizeCfg,
		Skills:          skillsCfg,
		Memory:          memoryCfg,
		Subagents:       subagent.Config{Registry: subRegistry, Runner: subEngine},
		InterruptOn:     interruptOn,
		MaxIterations:   agentCfg.MaxToolIterations,
	}

	return deepagent.CreateDeepAgent(cfg), agentCfg, nil
}

// parentToolSurface computes the tool set a "general-purpose" sub-agent
// inherits by constructing the same non-delegating middleware the parent
// uses and reading their contributed Tools. Each Tool closes over its own
// middleware instance, so the resulting []kernel.Tool is independently
// usable by a child agent's state without aliasing the parent's.
func (rt *runtime) parentToolSurface(be backend.Backend, skillsCfg, memoryCfg *skills.Config) []kernel.Tool {
	seed := state.New()
	var out []kernel.Tool
	out = append(out, filesystem.New(filesystem.Config{Backend: be, Store: rt.store, ToolTokenLimit: 20000}).Tools(seed)...)
	out = append(out, todo.New().Tools(seed)...)
	if skillsCfg != nil {
		out = append(out, skills.New(*skillsCfg).Tools(seed)...)
	}
	if memoryCfg != nil {
		out = append(out, skills.New(*memoryCfg).Tools(seed)...)
	}
	return out
}

// subagentFactory returns the engine.AgentFactory a sub-agent scheduler
// drives. A custom registry entry (non-nil Spec.Tools/Middleware) gets a
// minimal kernel built from exactly what it declares; the default
// general-purpose entry gets the same CreateDeepAgent stack as the parent,
// recursively allowed to delegate further up to remainingDepth levels.
func (rt *runtime) subagentFactory(provider providers.Provider, parentCfg config.AgentDefaults, be backend.Backend, toolPolicy *tools.PolicyEngine, remainingDepth int) engine.AgentFactory {
	var factory engine.AgentFactory
	factory = func(spec subagent.Spec) (*kernel.DeepAgent, error) {
		model := spec.Model
		if model == "" {
			model = parentCfg.Model
		}
		systemPrompt := spec.SystemPrompt
		if systemPrompt == "" {
			systemPrompt = defaultSystemPrompt
		}

		childRegistry := subagent.NewRegistry(nil, remainingDepth <= 0, nil, nil, model)
		childEngine := engine.New(rt.subagentFactory(provider, parentCfg, be, toolPolicy, remainingDepth-1))
		childSubagents := subagent.Config{Registry: childRegistry, Runner: childEngine}

		if spec.Tools != nil || spec.Middleware != nil {
			stack := append([]kernel.Middleware{}, spec.Middleware...)
			if spec.Tools != nil {
				stack = append(stack, staticTools(spec.Tools))
			}
			stack = append(stack, subagent.New(childSubagents))
			stack = append(stack, hitl.NewPatchMiddleware())
			return kernel.New(kernel.Config{
				Provider:      provider,
				Model:         model,
				SystemPrompt:  systemPrompt,
				Middleware:    stack,
				MaxIterations: parentCfg.MaxToolIterations,
			}), nil
		}

		cfg := deepagent.Config{
			Provider:       provider,
			Model:          model,
			SystemPrompt:   systemPrompt,
			Backend:        be,
			Store:          rt.store,
			ToolTokenLimit: 20000,
			ToolPolicy:     toolPolicy,
			Subagents:      childSubagents,
			MaxIterations:  parentCfg.MaxToolIterations,
		}
		return deepagent.CreateDeepAgent(cfg), nil
	}
	return factory
}

// staticTools adapts a fixed []kernel.Tool list (a custom sub-agent Spec's
// override) into a kernel.Middleware that contributes exactly those tools
// and nothing else.
type staticToolsMiddleware struct {
	kernel.Base
	tools []kernel.Tool
}

func staticTools(tools []kernel.Tool) kernel.Middleware {
	return &staticToolsMiddleware{tools: tools}
}

func (m *staticToolsMiddleware) Name() string { return "static_tools" }

func (m *staticToolsMiddleware) Tools(s *state.AgentState) []kernel.Tool { return m.tools }

func buildSkillsConfig(agentCfg config.AgentDefaults) (*skills.Config, *skills.Config) {
	if agentCfg.Skills == nil {
		return nil, nil
	}
	var skillsCfg, memoryCfg *skills.Config
	if len(agentCfg.Skills.SkillsDirs) > 0 {
		var sources []skills.Source
		for _, dir := range agentCfg.Skills.SkillsDirs {
			sources = append(sources, skills.Source{Dir: config.ExpandHome(dir), FileName: "SKILL.md"})
		}
		skillsCfg = &skills.Config{Sources: sources, ExtraKey: "skills_metadata", Watch: agentCfg.Skills.Watch}
	}
	if len(agentCfg.Skills.MemoryDirs) > 0 {
		var sources []skills.Source
		for _, dir := range agentCfg.Skills.MemoryDirs {
			sources = append(sources, skills.Source{Dir: config.ExpandHome(dir), FileName: "AGENTS.md", IsMemory: true})
		}
		memoryCfg = &skills.Config{Sources: sources, ExtraKey: "memory_contents", Watch: agentCfg.Skills.Watch}
	}
	return skillsCfg, memoryCfg
}

func buildSummarizeConfig(agentCfg config.AgentDefaults, be backend.Backend, st store.Store) *summarize.Config {
	cfg := summarize.DefaultConfig(agentCfg.ContextWindow)
	if agentCfg.Compaction != nil {
		if p, ok := policyFromKind(agentCfg.Compaction.TriggerKind, agentCfg.Compaction.TriggerValue); ok {
			cfg.Trigger = []summarize.Policy{p}
		}
		if p, ok := policyFromKind(agentCfg.Compaction.KeepKind, agentCfg.Compaction.KeepValue); ok {
			cfg.Keep = p
		}
	}
	cfg.Backend = be
	cfg.Store = st
	return &cfg
}

func policyFromKind(kind string, value float64) (summarize.Policy, bool) {
	switch kind {
	case "fraction":
		return summarize.Policy{Kind: summarize.PolicyFraction, Value: value}, true
	case "tokens":
		return summarize.Policy{Kind: summarize.PolicyTokens, Value: value}, true
	case "messages":
		return summarize.Policy{Kind: summarize.PolicyMessages, Value: value}, true
	default:
		return summarize.Policy{}, false
	}
}

func buildInterruptOn(agentCfg config.AgentDefaults) hitl.InterruptOn {
	if agentCfg.HITL == nil || len(agentCfg.HITL.InterruptOn) == 0 {
		return nil
	}
	out := make(hitl.InterruptOn, len(agentCfg.HITL.InterruptOn))
	for _, name := range agentCfg.HITL.InterruptOn {
		out[name] = hitl.AllowedDecisions{Approve: true, Edit: true, Reject: true}
	}
	return out
}
