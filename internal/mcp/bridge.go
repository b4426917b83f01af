package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

const defaultToolTimeout = 60 * time.Second

// mcpConn wraps one initialized MCP client.
type mcpConn struct {
	name    string
	client  *mcpclient.Client
	timeout time.Duration
}

// connectServer dials one registered MCP server, runs the MCP handshake, and
// returns the open connection. credential, when present, is sent as a bearer
// header (sse / streamable-http) or injected into the child environment
// (stdio).
func connectServer(ctx context.Context, srv store.ToolServerData, credential string) (Conn, error) {
	client, err := createClient(srv, credential)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	// SSE and streamable-http need an explicit transport start; stdio
	// auto-starts with the child process.
	if srv.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "parley",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	timeout := time.Duration(srv.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &mcpConn{name: srv.Name, client: client, timeout: timeout}, nil
}

func createClient(srv store.ToolServerData, credential string) (*mcpclient.Client, error) {
	switch srv.Transport {
	case "stdio":
		var env []string
		if credential != "" {
			env = append(env, "PARLEY_SHARED_SECRET="+credential)
		}
		return mcpclient.NewStdioMCPClient(srv.Command, env, srv.Args...)

	case "sse":
		var opts []transport.ClientOption
		if credential != "" {
			opts = append(opts, mcpclient.WithHeaders(map[string]string{
				"Authorization": "Bearer " + credential,
			}))
		}
		return mcpclient.NewSSEMCPClient(srv.URL, opts...)

	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if credential != "" {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + credential,
			}))
		}
		return mcpclient.NewStreamableHttpClient(srv.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", srv.Transport)
	}
}

// Tools discovers the server's capabilities and bridges each one.
func (c *mcpConn) Tools(ctx context.Context) ([]tools.Tool, error) {
	result, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	out := make([]tools.Tool, 0, len(result.Tools))
	for _, mt := range result.Tools {
		out = append(out, c.bridge(mt))
	}
	return out, nil
}

// bridge wraps one discovered MCP tool as a turn tool. Execution applies the
// server's per-call timeout and flattens text content for the model.
func (c *mcpConn) bridge(mt mcpgo.Tool) tools.Tool {
	name := mt.Name
	return tools.Tool{
		Name:        name,
		Description: mt.Description,
		InputSchema: schemaToMap(mt.InputSchema),
		Source:      "mcp:" + c.name,
		Execute: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			req := mcpgo.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = args

			res, err := c.client.CallTool(callCtx, req)
			if err != nil {
				return nil, fmt.Errorf("call %s: %w", name, err)
			}

			text := flattenContent(res.Content)
			if res.IsError {
				return tools.ErrorResult(text), nil
			}
			return tools.NewResult(text), nil
		},
	}
}

func (c *mcpConn) Close() error {
	return c.client.Close()
}

func schemaToMap(s mcpgo.ToolInputSchema) map[string]any {
	m := map[string]any{"type": s.Type}
	if len(s.Properties) > 0 {
		m["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

func flattenContent(content []mcpgo.Content) string {
	var b strings.Builder
	for _, item := range content {
		if tc, ok := item.(mcpgo.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
