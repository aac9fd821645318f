// Package tools carries the small pieces of ambient infrastructure shared
// across kernel and middleware packages: the uniform tool Result type
// (result.go) and the tool-name policy engine (this file), adapted from
// the teacher's registry-based policy pipeline to operate directly on the
// flat []kernel.Tool name lists the deep-agent middleware stack produces.
package tools

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/deepagent/internal/config"
)

// toolGroups map group names to tool names, trimmed to the tool surface
// this runtime actually exposes (filesystem/todo/subagent middleware).
var toolGroups = map[string][]string{
	"fs":       {"read_file", "write_file", "edit_file", "ls", "grep_file", "glob_files"},
	"planning": {"write_todos"},
	"delegate": {"task"},
}

// toolProfiles define preset allow sets, matching the "minimal"/"coding"/
// "full" profile names SPEC_FULL.md's ToolsConfig.Profile documents.
var toolProfiles = map[string][]string{
	"minimal": {"group:fs"},
	"coding":  {"group:fs", "group:planning", "group:delegate"},
	"full":    {}, // empty = no restrictions
}

// PolicyEngine evaluates tool-name access based on layered config policies.
type PolicyEngine struct {
	globalPolicy *config.ToolsConfig
}

// NewPolicyEngine creates a policy engine from global config.
func NewPolicyEngine(cfg *config.ToolsConfig) *PolicyEngine {
	return &PolicyEngine{globalPolicy: cfg}
}

// Filter returns the subset of allTools allowed by the policy for the
// given provider and optional per-agent override, preserving allTools'
// order.
func (pe *PolicyEngine) Filter(allTools []string, providerName string, agentToolPolicy *config.ToolPolicySpec) []string {
	allowed := pe.evaluate(allTools, providerName, agentToolPolicy)
	slog.Debug("tool policy applied", "provider", providerName, "total_tools", len(allTools), "allowed", len(allowed))
	return allowed
}

func (pe *PolicyEngine) evaluate(allTools []string, providerName string, agentToolPolicy *config.ToolPolicySpec) []string {
	g := pe.globalPolicy
	if g == nil {
		return copySlice(allTools)
	}

	allowed := pe.applyProfile(allTools, g.Profile)

	if g.ByProvider != nil {
		if pp, ok := g.ByProvider[providerName]; ok && pp.Profile != "" {
			allowed = pe.applyProfile(allTools, pp.Profile)
		}
	}

	if len(g.Allow) > 0 {
		allowed = intersectWithSpec(allowed, g.Allow)
	}
	if g.ByProvider != nil {
		if pp, ok := g.ByProvider[providerName]; ok && len(pp.Allow) > 0 {
			allowed = intersectWithSpec(allowed, pp.Allow)
		}
	}
	if agentToolPolicy != nil && len(agentToolPolicy.Allow) > 0 {
		allowed = intersectWithSpec(allowed, agentToolPolicy.Allow)
	}
	if agentToolPolicy != nil && agentToolPolicy.ByProvider != nil {
		if pp, ok := agentToolPolicy.ByProvider[providerName]; ok && len(pp.Allow) > 0 {
			allowed = intersectWithSpec(allowed, pp.Allow)
		}
	}

	if len(g.Deny) > 0 {
		allowed = subtractSpec(allowed, g.Deny)
	}
	if agentToolPolicy != nil && len(agentToolPolicy.Deny) > 0 {
		allowed = subtractSpec(allowed, agentToolPolicy.Deny)
	}

	if len(g.AlsoAllow) > 0 {
		allowed = unionWithSpec(allowed, allTools, g.AlsoAllow)
	}
	if agentToolPolicy != nil && len(agentToolPolicy.AlsoAllow) > 0 {
		allowed = unionWithSpec(allowed, allTools, agentToolPolicy.AlsoAllow)
	}

	return allowed
}

func (pe *PolicyEngine) applyProfile(allTools []string, profile string) []string {
	if profile == "" || profile == "full" {
		return copySlice(allTools)
	}
	spec, ok := toolProfiles[profile]
	if !ok {
		slog.Warn("unknown tool profile, using full", "profile", profile)
		return copySlice(allTools)
	}
	return expandSpec(allTools, spec)
}

func expandSpec(available []string, spec []string) []string {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			if members, ok := toolGroups[strings.TrimPrefix(s, "group:")]; ok {
				for _, m := range members {
					expanded[m] = true
				}
			}
		} else {
			expanded[s] = true
		}
	}
	var result []string
	for _, t := range available {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

func intersectWithSpec(current []string, spec []string) []string {
	return expandSpec(current, spec)
}

func subtractSpec(current []string, spec []string) []string {
	denied := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			if members, ok := toolGroups[strings.TrimPrefix(s, "group:")]; ok {
				for _, m := range members {
					denied[m] = true
				}
			}
		} else {
			denied[s] = true
		}
	}
	var result []string
	for _, t := range current {
		if !denied[t] {
			result = append(result, t)
		}
	}
	return result
}

func unionWithSpec(current []string, allTools []string, spec []string) []string {
	existing := make(map[string]bool, len(current))
	for _, t := range current {
		existing[t] = true
	}
	for _, t := range expandSpec(allTools, spec) {
		if !existing[t] {
			current = append(current, t)
			existing[t] = true
		}
	}
	return current
}

func copySlice(s []string) []string {
	c := make([]string, len(s))
	copy(c, s)
	return c
}
