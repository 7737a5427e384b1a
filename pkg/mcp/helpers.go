package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/mcpagent/pkg/toolexecutor"
)

const maxToolNameLength = 64

// sanitizeToolName maps name onto the character set model APIs accept for
// tool names.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxToolNameLength {
		out = out[:maxToolNameLength]
	}
	return out
}

// prefixedName is the name a tool is exposed under when its own name is taken.
func prefixedName(server, tool string) string {
	return sanitizeToolName(server + "_" + tool)
}

// helperTools builds tools that expose a server's resources and prompts to a
// model. Only the feature groups the server declared are covered.
func (p *ToolProvider) helperTools(ctx context.Context, adapter *ServerAdapter) ([]toolexecutor.ToolDefinition, error) {
	caps, err := adapter.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	server := adapter.Name()
	base := sanitizeToolName("mcp_" + server)
	var defs []toolexecutor.ToolDefinition

	if caps.Resources {
		defs = append(defs,
			toolexecutor.ToolDefinition{
				Name:        base + "_resources_list",
				Description: fmt.Sprintf("List resources exposed by MCP server %s", server),
				Server:      server,
				Category:    toolexecutor.CategoryResource,
				Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
					return adapter.ListResources(ctx)
				},
			},
			toolexecutor.ToolDefinition{
				Name:        base + "_resource_read",
				Description: fmt.Sprintf("Read a resource exposed by MCP server %s", server),
				Server:      server,
				Category:    toolexecutor.CategoryResource,
				Parameters: []toolexecutor.ToolParameter{{
					Name:        "uri",
					Type:        "string",
					Description: "Resource URI",
					Required:    true,
				}},
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
					uri, _ := params["uri"].(string)
					if strings.TrimSpace(uri) == "" {
						return nil, fmt.Errorf("uri parameter is required")
					}
					contents, err := adapter.ReadResource(ctx, uri)
					if err != nil {
						return nil, err
					}
					parts := make([]string, 0, len(contents))
					for _, c := range contents {
						parts = append(parts, c.String())
					}
					return strings.Join(parts, "\n"), nil
				},
			},
		)
	}

	if caps.Prompts {
		defs = append(defs,
			toolexecutor.ToolDefinition{
				Name:        base + "_prompts_list",
				Description: fmt.Sprintf("List prompt templates exposed by MCP server %s", server),
				Server:      server,
				Category:    toolexecutor.CategoryPrompt,
				Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
					return adapter.ListPrompts(ctx)
				},
			},
			toolexecutor.ToolDefinition{
				Name:        base + "_prompt_get",
				Description: fmt.Sprintf("Render a prompt template exposed by MCP server %s", server),
				Server:      server,
				Category:    toolexecutor.CategoryPrompt,
				Parameters: []toolexecutor.ToolParameter{
					{Name: "name", Type: "string", Description: "Prompt name", Required: true},
					{Name: "arguments", Type: "object", Description: "Prompt arguments as string values"},
				},
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
					name, _ := params["name"].(string)
					if strings.TrimSpace(name) == "" {
						return nil, fmt.Errorf("name parameter is required")
					}
					args := map[string]string{}
					if raw, ok := params["arguments"].(map[string]interface{}); ok {
						for k, v := range raw {
							args[k] = fmt.Sprintf("%v", v)
						}
					}
					messages, err := adapter.GetPrompt(ctx, name, args)
					if err != nil {
						return nil, err
					}
					lines := make([]string, 0, len(messages))
					for _, m := range messages {
						lines = append(lines, m.Role+": "+m.Text)
					}
					return strings.Join(lines, "\n"), nil
				},
			},
		)
	}

	return defs, nil
}
