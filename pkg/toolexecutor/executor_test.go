package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo the input back",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := New()

	require.NoError(t, te.RegisterTool(echoTool()))

	tool := te.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, CategoryGeneral, tool.Category)
	assert.True(t, te.HasTool("echo"))
	assert.Equal(t, 1, te.GetToolCount())
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := New()
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{
			name: "bad parameter type",
			def: ToolDefinition{
				Name: "test", Description: "Test", Handler: noop,
				Parameters: []ToolParameter{{Name: "x", Type: "float", Description: "x"}},
			},
		},
		{
			name: "parameters and schema",
			def: ToolDefinition{
				Name: "test", Description: "Test", Handler: noop,
				Parameters:  []ToolParameter{{Name: "x", Type: "string", Description: "x"}},
				InputSchema: map[string]interface{}{"type": "object"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Execute_Success(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": "hello"}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, "hello", result.String())
	assert.Contains(t, result.Metadata, "duration")
}

func TestToolExecutor_Execute_ValidationFailure(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	result := te.Execute(context.Background(), "echo", map[string]interface{}{}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "parameter validation failed")

	result = te.Execute(context.Background(), "echo", map[string]interface{}{"text": "a", "extra": 1}, nil)
	assert.False(t, result.Success)
}

func TestToolExecutor_Execute_InputSchema(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "fetch",
		Description: "Fetch a URL",
		Server:      "fetch-service",
		Category:    CategoryMCP,
		InputSchema: map[string]interface{}{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type":    "object",
			"properties": map[string]interface{}{
				"url":        map[string]interface{}{"type": "string"},
				"max_length": map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"url"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "fetched " + params["url"].(string), nil
		},
	}))

	ok := te.Execute(context.Background(), "fetch", map[string]interface{}{"url": "https://example.com", "max_length": float64(100)}, nil)
	assert.True(t, ok.Success)
	assert.Equal(t, "fetched https://example.com", ok.Output)
	assert.Equal(t, "fetch-service", ok.Metadata["server"])

	bad := te.Execute(context.Background(), "fetch", map[string]interface{}{"max_length": float64(1)}, nil)
	assert.False(t, bad.Success)
	assert.Contains(t, bad.Error, "url")
}

func TestToolExecutor_Execute_UncompilableSchemaSkipsValidation(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "odd",
		Description: "Tool with a broken schema",
		InputSchema: map[string]interface{}{"type": "object", "properties": "not-an-object"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "ran", nil
		},
	}))

	result := te.Execute(context.Background(), "odd", nil, nil)
	assert.True(t, result.Success)
}

func TestToolExecutor_Execute_HandlerError(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}))

	result := te.Execute(context.Background(), "fail", nil, nil)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
	assert.Equal(t, "Error: boom", result.String())
}

func TestToolExecutor_Execute_Panic(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panic",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("unexpected")
		},
	}))

	result := te.Execute(context.Background(), "panic", nil, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
}

func TestToolExecutor_Execute_Timeout(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Slow tool",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		},
	}))

	result := te.Execute(context.Background(), "slow", nil, &ExecutionContext{Timeout: 20 * time.Millisecond})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")
}

func TestToolExecutor_Execute_Cancelled(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Slow tool",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := te.Execute(ctx, "slow", nil, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "cancelled")
}

func TestToolExecutor_Execute_NotFound(t *testing.T) {
	te := New()

	result := te.Execute(context.Background(), "missing", nil, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found")
}

func TestToolExecutor_Execute_PolicyBlocks(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	result := te.Execute(context.Background(), "echo", map[string]interface{}{"text": "x"}, &ExecutionContext{
		AgentID:    "assistant",
		ToolPolicy: &ToolPolicy{Allow: []string{"*"}, Deny: []string{"echo"}},
	})

	assert.False(t, result.Success)
	assert.Equal(t, true, result.Metadata["policy_violation"])
}

func TestToolExecutor_Execute_ExecContextVisibleToHandler(t *testing.T) {
	te := New()
	var seen *ExecutionContext
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "peek",
		Description: "Reads the execution context",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = ExecContextFromContext(ctx)
			return nil, nil
		},
	}))

	te.Execute(context.Background(), "peek", nil, &ExecutionContext{RunID: "run-1"})
	require.NotNil(t, seen)
	assert.Equal(t, "run-1", seen.RunID)
}

func TestToolExecutor_Execute_Truncates(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "big",
		Description: "Large output",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return strings.Repeat("x", MaxOutputSize*2), nil
		},
	}))

	result := te.Execute(context.Background(), "big", nil, nil)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.True(t, strings.HasSuffix(result.Output.(string), "[output truncated]"))
}

func TestToolExecutor_Execute_TruncatesOnRuneBoundary(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "wide",
		Description: "Multi-byte output",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return strings.Repeat("漢", MaxOutputSize), nil
		},
	}))

	result := te.Execute(context.Background(), "wide", nil, nil)
	require.True(t, result.Truncated)
	out := result.Output.(string)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("漢", MaxOutputSize/3)))
}

func TestToolExecutor_StructuredOutputString(t *testing.T) {
	r := ToolResult{Success: true, Output: map[string]interface{}{"voices": 2}}
	assert.JSONEq(t, `{"voices":2}`, r.String())
}

func TestToolExecutor_Specs(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "say",
		Description: "Speak text",
		InputSchema: map[string]interface{}{"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}}},
		Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
	}))

	specs := te.Specs(nil, nil)
	require.Len(t, specs, 2)
	assert.Equal(t, "echo", specs[0].Name)
	assert.Equal(t, "say", specs[1].Name)
	assert.Equal(t, "object", specs[1].InputSchema["type"])
	assert.Equal(t, []string{"text"}, specs[0].InputSchema["required"])

	only := te.Specs([]string{"say"}, nil)
	require.Len(t, only, 1)
	assert.Equal(t, "say", only[0].Name)

	filtered := te.Specs(nil, &ToolPolicy{Allow: []string{"*"}, Deny: []string{"say"}})
	require.Len(t, filtered, 1)
	assert.Equal(t, "echo", filtered[0].Name)
}

func TestToolExecutor_UnregisterAndList(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	def := echoTool()
	def.Name = "alpha"
	require.NoError(t, te.RegisterTool(def))

	assert.Equal(t, []string{"alpha", "echo"}, te.ListTools())

	te.UnregisterTool("echo")
	assert.Equal(t, []string{"alpha"}, te.ListTools())
	assert.Nil(t, te.GetTool("echo"))
}
