// Package state defines the deep-agent's AgentState shape and the per-field
// reducers middleware use to merge concurrent updates deterministically.
package state

import "github.com/nextlevelbuilder/deepagent/internal/providers"

// Message is the runtime's wire-independent representation of one turn of
// conversation. It mirrors providers.Message (user/assistant/tool/system
// roles, tool calls, tool-call-id linkage) so middleware never need to know
// which concrete model provider produced it.
type Message = providers.Message

// ToolCall mirrors providers.ToolCall.
type ToolCall = providers.ToolCall
