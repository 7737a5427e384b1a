package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is a tool advertised by a server.
type Tool struct {
	Server      string                 `json:"server"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// Resource is a resource advertised by a server.
type Resource struct {
	Server      string `json:"server"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// ResourceContent is one part of a read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitempty"`
}

// PromptArgument is a named prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a prompt template advertised by a server.
type Prompt struct {
	Server      string           `json:"server"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptMessage is one rendered prompt message.
type PromptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// CallResult is the flattened outcome of a tool call.
type CallResult struct {
	Text       string      `json:"text"`
	Structured interface{} `json:"structured,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
}

// String returns the text content, falling back to the structured content.
func (r *CallResult) String() string {
	if r == nil {
		return ""
	}
	if r.Text != "" || r.Structured == nil {
		return r.Text
	}
	data, err := json.Marshal(r.Structured)
	if err != nil {
		return fmt.Sprintf("%v", r.Structured)
	}
	return string(data)
}

// Capabilities lists the feature groups a server declared at initialization.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

func toolFromSDK(server string, t *sdkmcp.Tool) Tool {
	return Tool{
		Server:      server,
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schemaMap(t.InputSchema),
	}
}

// schemaMap normalizes a decoded schema into a generic map.
func schemaMap(schema any) map[string]interface{} {
	switch s := schema.(type) {
	case nil:
		return map[string]interface{}{"type": "object"}
	case map[string]interface{}:
		return s
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return out
}

func resourceFromSDK(server string, r *sdkmcp.Resource) Resource {
	name := r.Name
	if name == "" {
		name = r.Title
	}
	return Resource{
		Server:      server,
		URI:         r.URI,
		Name:        name,
		Description: r.Description,
		MIMEType:    r.MIMEType,
	}
}

func promptFromSDK(server string, p *sdkmcp.Prompt) Prompt {
	args := make([]PromptArgument, 0, len(p.Arguments))
	for _, a := range p.Arguments {
		if a == nil {
			continue
		}
		args = append(args, PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
	}
	return Prompt{Server: server, Name: p.Name, Description: p.Description, Arguments: args}
}

// flattenContent renders content blocks as text for a model.
func flattenContent(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource %s]", v.URI))
		case *sdkmcp.EmbeddedResource:
			if v.Resource == nil {
				continue
			}
			if v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource %s, %d bytes]", v.Resource.URI, len(v.Resource.Blob)))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// String renders resource content as text, base64-encoding binary blobs.
func (c ResourceContent) String() string {
	if c.Text != "" || len(c.Blob) == 0 {
		return c.Text
	}
	return base64.StdEncoding.EncodeToString(c.Blob)
}
