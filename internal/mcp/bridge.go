package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/deepagent/internal/kernel"
	"github.com/nextlevelbuilder/deepagent/internal/providers"
	"github.com/nextlevelbuilder/deepagent/internal/state"
	"github.com/nextlevelbuilder/deepagent/internal/tools"
)

// bridgeTool adapts one MCP-discovered tool into a kernel.Tool, dispatching
// Call through the owning client's CallTool RPC. connected is shared with
// the server's health loop so a call against a server mid-reconnect fails
// fast instead of hanging on a dead transport.
func bridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) kernel.Tool {
	name := mcpTool.Name
	if prefix != "" {
		name = prefix + "_" + name
	}
	name = sanitizeToolName(name)

	return kernel.Tool{
		Name:        name,
		Description: fmt.Sprintf("[mcp:%s] %s", serverName, mcpTool.Description),
		Parameters:  schemaToParameters(mcpTool),
		Call: func(ctx context.Context, s *state.AgentState, call providers.ToolCall) (*tools.Result, error) {
			if !connected.Load() {
				return tools.ErrorResult(fmt.Sprintf("mcp server %q is not connected", serverName)), nil
			}

			callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
			defer cancel()

			req := mcpgo.CallToolRequest{}
			req.Params.Name = mcpTool.Name
			req.Params.Arguments = call.Arguments

			res, err := client.CallTool(callCtx, req)
			if err != nil {
				return tools.ErrorResult(fmt.Sprintf("mcp call %s: %v", mcpTool.Name, err)), nil
			}
			text := renderContent(res)
			if res.IsError {
				return tools.ErrorResult(text), nil
			}
			return tools.NewResult(text), nil
		},
	}
}

// sanitizeToolName keeps MCP tool names compatible with the provider tool
// name charset (some providers reject ':' or '.' in function names).
func sanitizeToolName(name string) string {
	replacer := strings.NewReplacer(":", "_", ".", "_", " ", "_")
	return replacer.Replace(name)
}

// schemaToParameters round-trips the MCP tool's JSON input schema into the
// map[string]any kernel.Tool.Parameters expects, tolerant of whichever
// concrete schema struct this mcp-go version uses.
func schemaToParameters(mcpTool mcpgo.Tool) map[string]any {
	data, err := json.Marshal(mcpTool.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil || params == nil {
		return map[string]any{"type": "object"}
	}
	return params
}

// renderContent flattens an MCP CallToolResult's content blocks into the
// plain-text form kernel.Tool.Call's *tools.Result carries to the model.
func renderContent(res *mcpgo.CallToolResult) string {
	var b strings.Builder
	for i, c := range res.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			fmt.Fprintf(&b, "%v", c)
			continue
		}
		b.Write(data)
	}
	return b.String()
}
