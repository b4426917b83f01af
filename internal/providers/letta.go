package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultLettaModel = "openai/gpt-4.1"
	lettaAPIBase      = "https://api.letta.com/v1"
	maxErrorBody      = 1024
)

// LettaProvider implements Provider against the Letta agents API via net/http.
// Letta agents hold server-side conversation state; one agent backs one
// conversation for its whole life.
type LettaProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewLettaProvider creates a new Letta provider.
func NewLettaProvider(apiKey string, opts ...LettaOption) *LettaProvider {
	p := &LettaProvider{
		apiKey:       apiKey,
		baseURL:      lettaAPIBase,
		defaultModel: defaultLettaModel,
		client:       &http.Client{Timeout: 180 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type LettaOption func(*LettaProvider)

func WithLettaModel(model string) LettaOption {
	return func(p *LettaProvider) { p.defaultModel = model }
}

func WithLettaBaseURL(baseURL string) LettaOption {
	return func(p *LettaProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithLettaHTTPClient(c *http.Client) LettaOption {
	return func(p *LettaProvider) { p.client = c }
}

func (p *LettaProvider) Name() string         { return "letta" }
func (p *LettaProvider) DefaultModel() string { return p.defaultModel }

type lettaAgentResponse struct {
	ID string `json:"id"`
}

func (p *LettaProvider) CreateAgent(ctx context.Context, seed AgentSeed) (string, error) {
	model := seed.Model
	if model == "" {
		model = p.defaultModel
	}
	body := map[string]any{
		"name":  seed.Name,
		"model": model,
	}
	if seed.System != "" {
		body["system"] = seed.System
	}

	respBody, err := p.doJSON(ctx, http.MethodPost, "/agents", body)
	if err != nil {
		return "", fmt.Errorf("letta: create agent: %w", err)
	}
	defer respBody.Close()

	var resp lettaAgentResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("letta: decode agent: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("letta: create agent: empty id in response")
	}
	return resp.ID, nil
}

func (p *LettaProvider) DeleteAgent(ctx context.Context, ref string) error {
	respBody, err := p.doJSON(ctx, http.MethodDelete, "/agents/"+url.PathEscape(ref), nil)
	if err != nil {
		return fmt.Errorf("letta: delete agent: %w", err)
	}
	respBody.Close()
	return nil
}

// doJSON issues a request and returns the response body, or an error with a
// bounded body excerpt on non-2xx. Never includes the API key in error text.
func (p *LettaProvider) doJSON(ctx context.Context, method, path string, body any) (io.ReadCloser, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
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
