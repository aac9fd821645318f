// Package filesystem implements the Filesystem Middleware (SPEC_FULL.md
// §4.B): it contributes the six file tools to the model and intercepts
// oversize tool results for eviction to backend.
package filesystem

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tokens"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
	"github.com/nextlevelbuilder/deepagent/internal/tracing"
)

// Config configures the middleware. Backend takes precedence over
// BackendFactory when both are set; BackendFactory is required for
// state-checkpointed backends that must see the current state snapshot
// (design note "Backend factory vs. instance").
type Config struct {
	Backend            backend.Backend
	BackendFactory     backend.Factory
	Store              any
	ToolTokenLimit     int // tool_token_limit_before_evict; 0 disables eviction
	EvictedResultsPath string
}

const defaultEvictedResultsPath = "/large_tool_results"

// Middleware is the Filesystem Middleware.
type Middleware struct {
	kernel.Base
	cfg Config
}

func New(cfg Config) *Middleware {
	if cfg.EvictedResultsPath == "" {
		cfg.EvictedResultsPath = defaultEvictedResultsPath
	}
	return &Middleware{cfg: cfg}
}

func (m *Middleware) Name() string { return "filesystem" }

func (m *Middleware) resolveBackend(s *state.AgentState) backend.Backend {
	if m.cfg.Backend != nil {
		return m.cfg.Backend
	}
	return m.cfg.BackendFactory(s, m.cfg.Store)
}

func (m *Middleware) Tools(s *state.AgentState) []kernel.Tool {
	return []kernel.Tool{
		m.lsTool(),
		m.readFileTool(),
		m.writeFileTool(),
		m.editFileTool(),
		m.grepFileTool(),
		m.globFilesTool(),
	}
}

func (m *Middleware) lsTool() kernel.Tool {
	return kernel.Tool{
		Name:        "ls",
		Description: "List files and directories, non-recursively, at the given path.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			path, _ := call.Arguments["path"].(string)
			infos, err := m.resolveBackend(s).LsInfo(ctx, path)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			if len(infos) == 0 {
				return tools.NewResult(fmt.Sprintf("No files found in %s", path)), nil
			}
			out := ""
			for _, fi := range infos {
				out += fi.Path + "\n"
			}
			return tools.NewResult(out), nil
		},
	}
}

func (m *Middleware) readFileTool() kernel.Tool {
	return kernel.Tool{
		Name:        "read_file",
		Description: "Read a file's contents with 1-indexed line numbers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"offset":    map[string]any{"type": "integer"},
				"limit":     map[string]any{"type": "integer"},
			},
			"required": []string{"file_path"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			path, _ := call.Arguments["file_path"].(string)
			offset := intArg(call.Arguments, "offset", 0)
			limit := intArg(call.Arguments, "limit", 500)
			out, err := m.resolveBackend(s).Read(ctx, path, offset, limit)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			return tools.NewResult(out), nil
		},
	}
}

func (m *Middleware) writeFileTool() kernel.Tool {
	return kernel.Tool{
		Name:        "write_file",
		Description: "Write a new file. Fails if the file already exists; use edit_file to modify an existing file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
			},
			"required": []string{"file_path", "content"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			path, _ := call.Arguments["file_path"].(string)
			content, _ := call.Arguments["content"].(string)
			res, err := m.resolveBackend(s).Write(ctx, path, content)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			if res.Error != "" {
				return tools.ErrorResult(res.Error), nil
			}
			if res.FilesUpdate != nil {
				s.Files = state.MergeFiles(s.Files, res.FilesUpdate)
			}
			return tools.NewResult(fmt.Sprintf("Wrote %s", res.Path)), nil
		},
	}
}

func (m *Middleware) editFileTool() kernel.Tool {
	return kernel.Tool{
		Name:        "edit_file",
		Description: "Replace an exact substring in a file. Fails if old_string is not found, or matches more than once without replace_all.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path":    map[string]any{"type": "string"},
				"old_string":   map[string]any{"type": "string"},
				"new_string":   map[string]any{"type": "string"},
				"replace_all":  map[string]any{"type": "boolean"},
			},
			"required": []string{"file_path", "old_string", "new_string"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			path, _ := call.Arguments["file_path"].(string)
			oldS, _ := call.Arguments["old_string"].(string)
			newS, _ := call.Arguments["new_string"].(string)
			replaceAll, _ := call.Arguments["replace_all"].(bool)
			res, err := m.resolveBackend(s).Edit(ctx, path, oldS, newS, replaceAll)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			if res.Error != "" {
				return tools.ErrorResult(res.Error), nil
			}
			if res.FilesUpdate != nil {
				s.Files = state.MergeFiles(s.Files, res.FilesUpdate)
			}
			return tools.NewResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", res.Occurrences, res.Path)), nil
		},
	}
}

func (m *Middleware) grepFileTool() kernel.Tool {
	return kernel.Tool{
		Name:        "grep_file",
		Description: "Search file contents for a literal substring.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
				"glob":    map[string]any{"type": "string"},
			},
			"required": []string{"pattern"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			pattern, _ := call.Arguments["pattern"].(string)
			path, _ := call.Arguments["path"].(string)
			glob, _ := call.Arguments["glob"].(string)
			matches, err := m.resolveBackend(s).GrepRaw(ctx, pattern, path, glob)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			out := ""
			for _, mt := range matches {
				out += fmt.Sprintf("%s:%d:%s\n", mt.Path, mt.Line, mt.Text)
			}
			return tools.NewResult(out), nil
		},
	}
}

func (m *Middleware) globFilesTool() kernel.Tool {
	return kernel.Tool{
		Name:        "glob_files",
		Description: "Find files matching a glob pattern (supports *, **, ?, [...]).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
			},
			"required": []string{"pattern"},
		},
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			pattern, _ := call.Arguments["pattern"].(string)
			path, _ := call.Arguments["path"].(string)
			infos, err := m.resolveBackend(s).GlobInfo(ctx, pattern, path)
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			out := ""
			for _, fi := range infos {
				out += fi.Path + "\n"
			}
			return tools.NewResult(out), nil
		},
	}
}

// WrapToolCall implements oversize tool-result interception. The eviction-
// of-an-eviction-notice open question (§9) resolves to passthrough: a
// notice can never itself exceed the limit in practice since it's a fixed
// short template, but if it somehow did, it is not re-evicted.
func (m *Middleware) WrapToolCall(ctx context.Context, s *state.AgentState, call providers.ToolCall, next kernel.ToolCallFunc) (*tools.Result, error) {
	ctx, span := tracing.StartPhaseSpan(ctx, m.Name(), "wrap_tool_call")
	defer span.End()

	result, err := next(ctx, s, call)
	if err != nil || result == nil || m.cfg.ToolTokenLimit <= 0 {
		return result, err
	}
	size := tokens.EstimateString(result.ForLLM)
	if size < m.cfg.ToolTokenLimit {
		return result, nil
	}

	evictPath := fmt.Sprintf("%s/%s", m.cfg.EvictedResultsPath, call.ID)
	b := m.resolveBackend(s)
	original := result.ForLLM
	writeRes, werr := b.Write(ctx, evictPath, original)
	if werr != nil || writeRes.Error != "" {
		// Can't persist the eviction — pass through unevicted rather than
		// lose the tool's actual output.
		return result, nil
	}
	if writeRes.FilesUpdate != nil {
		s.Files = state.MergeFiles(s.Files, writeRes.FilesUpdate)
	}

	evicted := *result
	evicted.ForLLM = fmt.Sprintf(
		"Tool result too large (%d tokens, limit %d). Full content saved to %s; use read_file to inspect it.",
		size, m.cfg.ToolTokenLimit, evictPath,
	)
	return &evicted, nil
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return def
	}
}
