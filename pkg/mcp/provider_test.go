package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/pkg/toolexecutor"
)

func newTestProvider(t *testing.T, mem *inMemory, names []string, opts ...ProviderOption) *ToolProvider {
	t.Helper()
	servers := make([]ServerConfig, 0, len(names))
	for _, n := range names {
		servers = append(servers, stdioConfig(n))
	}
	opts = append([]ProviderOption{
		WithProviderLogger(zerolog.Nop()),
		WithAdapterOptions(WithTransportFactory(mem.factory)),
	}, opts...)

	p, err := NewToolProvider(servers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewToolProvider_Validation(t *testing.T) {
	_, err := NewToolProvider(nil)
	assert.ErrorIs(t, err, ErrNoServers)

	_, err = NewToolProvider([]ServerConfig{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = NewToolProvider([]ServerConfig{{Name: "a"}})
	require.Error(t, err)

	_, err = NewToolProvider([]ServerConfig{{Name: "a", Command: "x"}}, WithDefaultServer("b"))
	assert.ErrorIs(t, err, ErrUnknownServer)

	p, err := NewToolProvider([]ServerConfig{{Name: "a", Command: "x"}, {Name: "b", Command: "y"}})
	require.NoError(t, err)
	assert.Equal(t, "a", p.DefaultServer())
	assert.Len(t, p.Servers(), 2)
}

func TestToolProvider_ToolsFromServer(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{
		"say-service":   newToolsOnlyServer("say-service", "say"),
		"fetch-service": newToolsOnlyServer("fetch-service", "fetch"),
	})
	p := newTestProvider(t, mem, []string{"say-service", "fetch-service"})

	defs, err := p.ToolsFromServer(ctx, "")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "say", defs[0].Name)
	assert.Equal(t, "say-service", defs[0].Server)
	assert.Equal(t, toolexecutor.CategoryMCP, defs[0].Category)

	defs, err = p.ToolsFromServer(ctx, "fetch-service")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "fetch", defs[0].Name)

	out, err := defs[0].Handler(ctx, map[string]interface{}{"text": "x"})
	require.NoError(t, err)
	assert.Equal(t, "fetch-service:x", out)

	_, err = p.ToolsFromServer(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestToolProvider_AllToolsPrefixesCollisions(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{
		"first":  newToolsOnlyServer("first", "lookup"),
		"second": newToolsOnlyServer("second", "lookup"),
	})
	p := newTestProvider(t, mem, []string{"first", "second"})

	defs, err := p.AllTools(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "lookup", defs[0].Name)
	assert.Equal(t, "second_lookup", defs[1].Name)

	out, err := defs[1].Handler(ctx, map[string]interface{}{"text": "q"})
	require.NoError(t, err)
	assert.Equal(t, "second:q", out)
}

func TestToolProvider_SessionsAreCached(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{"s": newEchoServer("s")})
	p := newTestProvider(t, mem, []string{"s"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ToolsFromServer(ctx, "s")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), mem.connects.Load())
}

func TestToolProvider_RegisterAddsHelpers(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{"notes": newEchoServer("notes")})
	p := newTestProvider(t, mem, []string{"notes"})
	executor := toolexecutor.New()

	names, err := p.Register(ctx, executor, "notes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"echo", "fail",
		"mcp_notes_resources_list", "mcp_notes_resource_read",
		"mcp_notes_prompts_list", "mcp_notes_prompt_get",
	}, names)

	result := executor.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "notes:hi", result.Output)

	result = executor.Execute(ctx, "echo", map[string]interface{}{}, nil)
	assert.False(t, result.Success)

	result = executor.Execute(ctx, "fail", nil, nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "mcp tool error (fail)")
	assert.Contains(t, result.Error, "something broke")

	result = executor.Execute(ctx, "mcp_notes_resource_read", map[string]interface{}{"uri": "notes://today"}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "remember the milk", result.Output)

	result = executor.Execute(ctx, "mcp_notes_resources_list", nil, nil)
	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.String(), "notes://today")

	result = executor.Execute(ctx, "mcp_notes_prompt_get", map[string]interface{}{
		"name":      "greet",
		"arguments": map[string]interface{}{"who": "Ada"},
	}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "user: Hello Ada", result.Output)

	assert.Equal(t, []string{"mcp_notes_resource_read", "mcp_notes_resources_list"},
		executor.FilterByCategory(toolexecutor.CategoryResource))
}

func TestToolProvider_RegisterWithoutResourceCapability(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{"say-service": newToolsOnlyServer("say-service", "say")})
	p := newTestProvider(t, mem, []string{"say-service"})
	executor := toolexecutor.New()

	names, err := p.Register(ctx, executor, "say-service")
	require.NoError(t, err)
	assert.Equal(t, []string{"say"}, names)
}

func TestToolProvider_ExposedNamesAreSanitized(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{"web": newToolsOnlyServer("web", "web.search")})
	p := newTestProvider(t, mem, []string{"web"})

	defs, err := p.ToolsFromServer(ctx, "web")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "web_search", defs[0].Name)

	all, err := p.AllTools(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "web_search", all[0].Name)

	executor := toolexecutor.New()
	names, err := p.Register(ctx, executor, "web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search"}, names)

	// The server still receives its own name.
	out, err := executor.GetTool("web_search").Handler(ctx, map[string]interface{}{"text": "go"})
	require.NoError(t, err)
	assert.Equal(t, "web:go", out)
}

func TestToolProvider_RegisterAllPrefixesExistingNames(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{
		"first":  newToolsOnlyServer("first", "lookup"),
		"second": newToolsOnlyServer("second", "lookup"),
	})
	p := newTestProvider(t, mem, []string{"first", "second"})
	executor := toolexecutor.New()

	names, err := p.RegisterAll(ctx, executor)
	require.NoError(t, err)
	assert.Equal(t, []string{"lookup", "second_lookup"}, names)
	assert.Equal(t, "first", executor.GetTool("lookup").Server)
	assert.Equal(t, "second", executor.GetTool("second_lookup").Server)

	// Registering the same server again replaces its tools in place.
	again, err := p.Register(ctx, executor, "first")
	require.NoError(t, err)
	assert.Equal(t, []string{"lookup"}, again)
}

func TestToolProvider_CloseStopsAdapters(t *testing.T) {
	ctx := context.Background()
	mem := newInMemory(t, map[string]*sdkmcp.Server{"s": newEchoServer("s")})
	p := newTestProvider(t, mem, []string{"s"})

	adapter, err := p.Adapter(ctx, "s")
	require.NoError(t, err)
	require.True(t, adapter.Running())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.False(t, adapter.Running())

	_, err = p.ToolsFromServer(ctx, "s")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestToolProvider_FailedStartIsRetried(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	mem := newInMemory(t, map[string]*sdkmcp.Server{"s": newEchoServer("s")})
	flaky := func(ctx context.Context, cfg ServerConfig, logger zerolog.Logger) (sdkmcp.Transport, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("not yet")
		}
		return mem.factory(ctx, cfg, logger)
	}

	p, err := NewToolProvider([]ServerConfig{stdioConfig("s")},
		WithProviderLogger(zerolog.Nop()),
		WithAdapterOptions(WithTransportFactory(flaky)))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.ToolsFromServer(ctx, "s")
	require.Error(t, err)

	defs, err := p.ToolsFromServer(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "say-service_say", prefixedName("say-service", "say"))
	assert.Equal(t, "my_server_tool", prefixedName("my.server", "tool"))
	long := sanitizeToolName(string(make([]byte, 100)))
	assert.Len(t, long, maxToolNameLength)
}
