// Package backend defines the agent-backend abstraction the session engine
// drives. The backend is an opaque capability: given a prompt, history, and a
// declared tool set it produces a stream of actions (text deltas, tool-call
// requests, completion, error). The engine never interprets what the agent is
// doing beyond routing those actions.
package backend

import (
	"context"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// StopReason indicates why the backend stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// Message is a single entry in the conversation sent to the backend.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolDefinition describes a tool the backend may request.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is the backend requesting a tool invocation.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult carries a tool's output back to the backend.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Usage tracks token consumption for a single backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read"`
	CacheWrite   int `json:"cache_write"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Request contains the parameters for a backend invocation.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// Result is the backend's complete response to a request.
type Result struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Stop      StopReason `json:"stop_reason"`
	Usage     Usage      `json:"usage"`
}

// ActionType classifies a streamed backend action.
type ActionType string

const (
	ActionText     ActionType = "text"      // incremental text delta
	ActionToolCall ActionType = "tool_call" // the backend announced a tool request
	ActionDone     ActionType = "done"      // turn complete, Result is set
	ActionError    ActionType = "error"     // the stream itself failed, Err is set
)

// Action is one element of the backend's action stream. Exactly one of the
// payload fields is populated, selected by Type.
type Action struct {
	Type     ActionType
	Text     string
	ToolCall *ToolCall
	Result   *Result
	Err      error
}

// Client is the injected agent-backend capability.
type Client interface {
	// Complete sends a request and blocks for the full result.
	Complete(ctx context.Context, req Request) (*Result, error)

	// Stream sends a request and returns an ordered channel of actions.
	// The channel is closed after ActionDone or ActionError.
	Stream(ctx context.Context, req Request) (<-chan Action, error)
}
