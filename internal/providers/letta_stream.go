package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// lettaStreamEvent is the union of SSE payloads the message-stream endpoint
// emits. Fields are sparse; the message_type discriminates.
type lettaStreamEvent struct {
	MessageType string `json:"message_type"` // "assistant_message", "tool_call_message", "usage_statistics", "stop_reason"
	Content     string `json:"content,omitempty"`

	ToolCall *struct {
		ID        string          `json:"tool_call_id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_call,omitempty"`

	StopReason string `json:"stop_reason,omitempty"`

	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// StreamTurn sends the step's messages to the agent and consumes the SSE
// stream. onDelta fires for each assistant text fragment; tool calls and
// usage accumulate into the returned result. Once streaming has started
// there is no retry; a broken stream surfaces as an error with whatever
// the caller has already buffered.
func (p *LettaProvider) StreamTurn(ctx context.Context, req TurnRequest, onDelta func(string)) (*TurnResult, error) {
	if req.AgentRef == "" {
		return nil, fmt.Errorf("letta: stream turn: empty agent ref")
	}

	body := map[string]any{
		"messages":      req.Messages,
		"stream_tokens": true,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if req.Model != "" {
		body["model"] = req.Model
	}

	respBody, err := p.doJSON(ctx, http.MethodPost,
		"/agents/"+url.PathEscape(req.AgentRef)+"/messages/stream", body)
	if err != nil {
		return nil, fmt.Errorf("letta: stream turn: %w", err)
	}
	defer respBody.Close()

	result := &TurnResult{StopReason: "end_turn"}
	var content strings.Builder

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // large lines for big tool arguments

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev lettaStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			// Tolerate unknown event shapes; the stream keeps going.
			continue
		}

		switch ev.MessageType {
		case "assistant_message":
			if ev.Content != "" {
				content.WriteString(ev.Content)
				if onDelta != nil {
					onDelta(ev.Content)
				}
			}

		case "tool_call_message":
			if ev.ToolCall == nil || ev.ToolCall.Name == "" {
				continue
			}
			args := make(map[string]any)
			if len(ev.ToolCall.Arguments) > 0 {
				if err := json.Unmarshal(ev.ToolCall.Arguments, &args); err != nil {
					return nil, fmt.Errorf("letta: decode tool arguments for %q: %w", ev.ToolCall.Name, err)
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        ev.ToolCall.ID,
				Name:      strings.TrimSpace(ev.ToolCall.Name),
				Arguments: args,
			})
			result.StopReason = "tool_use"

		case "usage_statistics":
			result.Usage = &Usage{
				PromptTokens:   ev.PromptTokens,
				ResponseTokens: ev.CompletionTokens,
				TotalTokens:    ev.TotalTokens,
			}

		case "stop_reason":
			if ev.StopReason != "" && result.StopReason != "tool_use" {
				result.StopReason = ev.StopReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// Respect cancellation over the transport error it usually causes.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("letta: read stream: %w", err)
	}

	result.Content = content.String()
	return result, nil
}
