// Package providers contains clients for remote agent platforms.
package providers

import "context"

// Provider is the remote model contract: stateful agent lifecycle plus
// streaming turn execution.
type Provider interface {
	// CreateAgent provisions a remote stateful agent and returns its
	// opaque reference. Creating an agent that is never used is wasteful
	// but safe; orphans are deleted best-effort.
	CreateAgent(ctx context.Context, seed AgentSeed) (string, error)

	// DeleteAgent removes a remote agent. Used for orphan cleanup.
	DeleteAgent(ctx context.Context, ref string) error

	// StreamTurn runs one reasoning step against an agent, invoking
	// onDelta for each incremental text fragment, and returns the settled
	// step result (full text, any requested tool calls, usage).
	StreamTurn(ctx context.Context, req TurnRequest, onDelta func(string)) (*TurnResult, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "letta").
	Name() string
}

// AgentSeed is the initial configuration for a new remote agent.
type AgentSeed struct {
	Name   string `json:"name"`
	System string `json:"system,omitempty"`
	Model  string `json:"model,omitempty"`
}

// TurnRequest is the input for one StreamTurn call.
type TurnRequest struct {
	AgentRef string           `json:"agent_ref"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
}

// TurnResult is the settled outcome of one reasoning step.
type TurnResult struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"` // "end_turn", "tool_use", "length"
	Usage      *Usage     `json:"usage,omitempty"`
}

// Message is one context message sent to the model.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage tracks token consumption for one step or one whole turn.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"completion_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Add accumulates another step's usage into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.ResponseTokens += other.ResponseTokens
	u.TotalTokens += other.TotalTokens
}
