package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/mcpagent/internal/observability"
)

const (
	// DefaultTimeout bounds a single tool call when the execution context sets none.
	DefaultTimeout = 30 * time.Second

	// MaxOutputSize is the largest tool output handed back to the model.
	MaxOutputSize = 10 * 1024
)

// ToolParameter defines a parameter for a locally implemented tool.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler.
//
// Tools either declare Parameters, from which a schema is generated, or carry
// a ready-made InputSchema as advertised by a remote MCP server.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  []ToolParameter        `json:"parameters,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	Server      string                 `json:"server,omitempty"`
	Category    ToolCategory           `json:"category,omitempty"`
	Handler     ToolHandler            `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolSpec is the provider-neutral description of a tool sent to a model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	RunID      string
	AgentID    string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// String renders the result the way it is fed back to a model.
func (r ToolResult) String() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// RegisterTool registers a new tool, replacing any tool with the same name.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.compileSchema(def)
	if err != nil {
		if def.InputSchema == nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}
		// Remote schemas may use keywords the validator does not know; the
		// server validates its own input in that case.
		log.Warn().Str("tool", def.Name).Err(err).Msg("Tool schema not compilable, skipping local validation")
		schema = nil
	}

	if def.Category == "" {
		def.Category = CategoryGeneral
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("server", def.Server).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// HasTool reports whether name is registered.
func (te *ToolExecutor) HasTool(name string) bool {
	return te.GetTool(name) != nil
}

// ListTools returns all registered tool names in sorted order.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Specs returns model-facing tool descriptions sorted by name. When names is
// non-empty only those tools are included; a nil policy admits every tool.
func (te *ToolExecutor) Specs(names []string, policy *ToolPolicy) []ToolSpec {
	te.mu.RLock()
	defer te.mu.RUnlock()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	specs := make([]ToolSpec, 0, len(te.tools))
	for name, def := range te.tools {
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		if !policy.IsToolAllowed(name) {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: def.Description,
			InputSchema: schemaFor(*def),
		})
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	if execCtx != nil && execCtx.ToolPolicy != nil {
		if !execCtx.ToolPolicy.IsToolAllowed(toolName) {
			log.Warn().
				Str("tool", toolName).
				Str("agent_id", execCtx.AgentID).
				Msg("Tool execution blocked by policy")
			return ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName),
				Metadata: map[string]interface{}{
					"policy_violation": true,
					"agent_id":         execCtx.AgentID,
				},
			}
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := te.validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	log.Debug().Str("tool", toolName).Str("server", tool.Server).Msg("Executing tool")

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool %s panicked: %v", toolName, r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		observability.RecordToolExecution(toolName, duration, true)

		output, truncated := te.truncateOutput(result)

		log.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata:  resultMetadata(tool, duration),
		}

	case err := <-errChan:
		duration := time.Since(startTime)
		observability.RecordToolExecution(toolName, duration, false)

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: resultMetadata(tool, duration),
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		observability.RecordToolExecution(toolName, duration, false)

		if ctx.Err() != nil {
			log.Warn().Str("tool", toolName).Msg("Tool execution cancelled")
			return ToolResult{
				Success:  false,
				Error:    fmt.Sprintf("tool execution cancelled: %v", ctx.Err()),
				Metadata: resultMetadata(tool, duration),
			}
		}

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: resultMetadata(tool, duration),
		}
	}
}

func resultMetadata(tool *ToolDefinition, duration time.Duration) map[string]interface{} {
	meta := map[string]interface{}{
		"duration": duration.Milliseconds(),
	}
	if tool.Server != "" {
		meta["server"] = tool.Server
	}
	return meta
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.InputSchema != nil && len(def.Parameters) > 0 {
		return fmt.Errorf("tool %s declares both parameters and an input schema", def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// schemaFor returns the JSON Schema describing a tool's input.
func schemaFor(def ToolDefinition) map[string]interface{} {
	if def.InputSchema != nil {
		schema := make(map[string]interface{}, len(def.InputSchema)+1)
		for k, v := range def.InputSchema {
			schema[k] = v
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		return schema
	}

	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema builds the validator for a tool's input.
func (te *ToolExecutor) compileSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := schemaFor(def)
	// The validator only knows drafts 4 to 7.
	delete(schemaMap, "$schema")

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	str, ok := output.(string)
	if !ok {
		str = ToolResult{Success: true, Output: output}.String()
	}

	if len(str) <= MaxOutputSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", MaxOutputSize).
		Msg("Output truncated")

	cut := MaxOutputSize
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}
