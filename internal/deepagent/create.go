// Package deepagent provides CreateDeepAgent, the top-level entry point
// that assembles the kernel's default middleware stack in the exact order
// SPEC_FULL.md §4.G specifies. It is the only package allowed to import
// every middleware package at once, since kernel itself cannot (subagent
// imports kernel.Tool/Middleware, so kernel importing subagent would cycle).
package deepagent

import (
	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/config"
	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/filesystem"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/hitl"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/skills"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/subagent"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/summarize"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/todo"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

// Config mirrors the spec's createDeepAgent parameters. The filesystem,
// todo, sub-agent and tool-call patching middleware are always assembled,
// so a Backend or BackendFactory and a Subagents registry and runner are
// needed; Summarize, Skills, Memory and InterruptOn are optional, and
// leaving one unset omits that step of the assembly.
type Config struct {
	Provider     providers.Provider
	Model        string
	SystemPrompt string

	Backend        backend.Backend
	BackendFactory backend.Factory
	Store          any
	ToolTokenLimit int

	// ToolPolicy, when set, filters the assembled tool set by name per
	// §6's ToolsConfig allow/deny/profile pipeline.
	ToolPolicy     *tools.PolicyEngine
	ToolPolicyAgent *config.ToolPolicySpec

	Summarize *summarize.Config

	Skills *skills.Config
	Memory *skills.Config

	Subagents subagent.Config

	InterruptOn hitl.InterruptOn

	// ExtraMiddleware runs after the built-ins and before the always-last
	// sub-agent/HITL/patch middleware (assembly step 6).
	ExtraMiddleware []kernel.Middleware

	MaxIterations int
}

// CreateDeepAgent assembles the stack per §4.G:
//  1. Summarization (if not disabled)
//  2. Filesystem
//  3. Todo
//  4. Skills (optional)
//  5. Memory (optional)
//  6. User-supplied middleware
//  7. Sub-agent (always last among tool-contributing middleware)
//  8. HITL (if InterruptOn is non-empty; no checkpointer is required or checked for)
//  9. Tool-call patching (always last)
func CreateDeepAgent(cfg Config) *kernel.DeepAgent {
	var stack []kernel.Middleware

	if cfg.Summarize != nil {
		stack = append(stack, summarize.New(*cfg.Summarize))
	}

	stack = append(stack, filesystem.New(filesystem.Config{
		Backend:        cfg.Backend,
		BackendFactory: cfg.BackendFactory,
		Store:          cfg.Store,
		ToolTokenLimit: cfg.ToolTokenLimit,
	}))

	stack = append(stack, todo.New())

	if cfg.Skills != nil {
		stack = append(stack, skills.New(*cfg.Skills))
	}
	if cfg.Memory != nil {
		stack = append(stack, skills.New(*cfg.Memory))
	}

	stack = append(stack, cfg.ExtraMiddleware...)

	stack = append(stack, subagent.New(cfg.Subagents))

	if len(cfg.InterruptOn) > 0 {
		stack = append(stack, hitl.New(cfg.InterruptOn))
	}

	stack = append(stack, hitl.NewPatchMiddleware())

	var filter func(names []string) []string
	if cfg.ToolPolicy != nil {
		providerName := ""
		if cfg.Provider != nil {
			providerName = cfg.Provider.Name()
		}
		filter = func(names []string) []string {
			return cfg.ToolPolicy.Filter(names, providerName, cfg.ToolPolicyAgent)
		}
	}

	return kernel.New(kernel.Config{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		Middleware:    stack,
		MaxIterations: cfg.MaxIterations,
		ToolFilter:    filter,
	})
}
