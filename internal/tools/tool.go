// Package tools models the capabilities offered to the model during a turn:
// a uniform value type regardless of source (built-in, managed gateway, or
// tenant MCP server) and a merged, collision-checked set per turn.
package tools

import (
	"context"

	"github.com/parleyhq/parley/internal/providers"
)

// ExecuteFunc runs a tool with the model-supplied arguments.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Tool is one callable capability. All sources produce this same shape.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Source      string // "builtin", "arcade", or the MCP server name
	Builtin     bool
	Execute     ExecuteFunc
}

// Definition converts the tool to the shape sent to the model.
func (t Tool) Definition() providers.ToolDefinition {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return providers.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}
