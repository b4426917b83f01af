// Package protocol defines the wire contract between the gateway and its
// clients: turn submissions in, stream frames out. The same frame shapes
// flow over SSE data payloads and WebSocket messages.
package protocol

import "github.com/parleyhq/parley/internal/providers"

// TurnRequest is one inbound turn: free text, or a structured message
// history, for an existing conversation. The SSE endpoint takes the
// conversation ID from the URL; the WebSocket surface takes it from the
// frame.
type TurnRequest struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	Content        string              `json:"content,omitempty"`
	Messages       []providers.Message `json:"messages,omitempty"`
}

// TurnFrame is one outbound stream event. Type is EventDelta, EventDone, or
// EventError; the remaining fields are sparse by type.
type TurnFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	State          string `json:"state,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	PromptTokens   int    `json:"prompt_tokens,omitempty"`
	ResponseTokens int    `json:"response_tokens,omitempty"`
	Message        string `json:"message,omitempty"`
}

// DeltaFrame wraps one streamed text fragment.
func DeltaFrame(text string) TurnFrame {
	return TurnFrame{Type: EventDelta, Text: text}
}

// ErrorFrame wraps a client-safe error message.
func ErrorFrame(msg string) TurnFrame {
	return TurnFrame{Type: EventError, Message: msg}
}
