package arcade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/tools"
)

// Tools lists the gateway catalog and wraps each entry as a turn tool.
// Execution goes back through the gateway; the model never sees Arcade
// directly.
func (c *Client) Tools(ctx context.Context) ([]tools.Tool, error) {
	defs, err := c.ListTools(ctx, "", 100)
	if err != nil {
		return nil, err
	}

	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		name := def.FullyQualifiedName
		if name == "" {
			name = def.QualifiedName
		}
		if name == "" {
			name = def.Name
		}
		if err := ValidateToolName(name); err != nil {
			continue // skip catalog entries we could never execute
		}

		var schema map[string]any
		if len(def.Input) > 0 {
			if err := json.Unmarshal(def.Input, &schema); err != nil {
				schema = nil
			}
		}

		toolName := name
		out = append(out, tools.Tool{
			Name:        toolName,
			Description: def.Description,
			InputSchema: schema,
			Source:      "arcade",
			Execute: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
				resp, err := c.ExecuteTool(ctx, toolName, args)
				if err != nil {
					return nil, err
				}
				if !resp.Success && resp.Status != "" && resp.Status != "success" {
					return tools.ErrorResult(fmt.Sprintf("arcade tool %s failed (status %s)", toolName, resp.Status)), nil
				}
				if len(resp.Output) == 0 {
					return tools.NewResult(""), nil
				}
				return tools.NewResult(string(resp.Output)), nil
			},
		})
	}
	return out, nil
}
