// Package arcade is the client for the managed tool gateway. Arcade hosts
// pre-integrated tools (mail, calendar, search providers) behind one
// bearer-authenticated HTTP API; a turn merges them with tenant MCP tools.
package arcade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.arcade.dev"
	maxErrorBody      = 1024
	maxToolNameLength = 200
)

// ToolDefinition is one tool exposed by the gateway.
type ToolDefinition struct {
	Name               string          `json:"name"`
	QualifiedName      string          `json:"qualified_name,omitempty"`
	FullyQualifiedName string          `json:"fully_qualified_name,omitempty"`
	Description        string          `json:"description,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
}

type toolsListResponse struct {
	Items      []ToolDefinition `json:"items"`
	TotalCount int              `json:"total_count,omitempty"`
}

// ExecuteResponse is the outcome of one gateway tool execution.
type ExecuteResponse struct {
	ID       string          `json:"id,omitempty"`
	Status   string          `json:"status,omitempty"`
	Success  bool            `json:"success,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Duration float64         `json:"duration,omitempty"`
}

// Client talks to the Arcade gateway on behalf of one gateway user identity.
type Client struct {
	http    *http.Client
	apiKey  string
	baseURL string
	userID  string
}

// NewClient creates an Arcade client. userID is the gateway-side identity
// tools execute as (per-office service identity here).
func NewClient(apiKey, userID string, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // never follow redirects with the bearer token
			},
		},
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		userID:  userID,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// ValidateToolName rejects empty, oversized, or path-unsafe tool names.
// Arcade tool names are dotted identifiers like "Google.ListEmails".
func ValidateToolName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("arcade: tool name must not be empty")
	}
	if len(name) > maxToolNameLength {
		return fmt.Errorf("arcade: tool name exceeds %d characters", maxToolNameLength)
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("arcade: tool name contains invalid characters")
	}
	return nil
}

// ListTools fetches the gateway's tool catalog, optionally filtered by
// toolkit, with limit clamped to the API's 1..100 range.
func (c *Client) ListTools(ctx context.Context, toolkit string, limit int) ([]ToolDefinition, error) {
	q := url.Values{}
	if toolkit != "" {
		q.Set("toolkit", toolkit)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(min(max(limit, 1), 100)))
	}
	path := "/v1/tools"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("arcade: list tools: %w", err)
	}
	defer respBody.Close()

	var resp toolsListResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("arcade: decode tools list: %w", err)
	}
	return resp.Items, nil
}

// ExecuteTool runs one gateway tool with the given input.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, input map[string]any) (*ExecuteResponse, error) {
	if err := ValidateToolName(toolName); err != nil {
		return nil, err
	}

	body := map[string]any{
		"tool_name": toolName,
		"user_id":   c.userID,
	}
	if input != nil {
		body["input"] = input
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/tools/execute", body)
	if err != nil {
		return nil, fmt.Errorf("arcade: execute %s: %w", toolName, err)
	}
	defer respBody.Close()

	var resp ExecuteResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("arcade: decode execute response: %w", err)
	}
	return &resp, nil
}

// do issues a request. Error text carries a bounded body excerpt and never
// the bearer token.
func (c *Client) do(ctx context.Context, method, path string, body any) (io.ReadCloser, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return resp.Body, nil
}
