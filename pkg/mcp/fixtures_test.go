package mcp

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

type noInput struct{}

// newEchoServer builds a server with an echo tool, a failing tool, a
// resource and a prompt.
func newEchoServer(name string) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: "test"}, nil)

	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "echo", Description: "Echo text back"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in echoInput) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: name + ":" + in.Text}}}, nil, nil
		})

	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "fail", Description: "Always reports an error"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in noInput) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{
				IsError: true,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "something broke"}},
			}, nil, nil
		})

	server.AddResource(&sdkmcp.Resource{URI: "notes://today", Name: "today", MIMEType: "text/plain"},
		func(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			return &sdkmcp.ReadResourceResult{Contents: []*sdkmcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     "remember the milk",
			}}}, nil
		})

	server.AddPrompt(&sdkmcp.Prompt{
		Name:        "greet",
		Description: "Greet someone",
		Arguments:   []*sdkmcp.PromptArgument{{Name: "who", Required: true}},
	}, func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		return &sdkmcp.GetPromptResult{Messages: []*sdkmcp.PromptMessage{{
			Role:    "user",
			Content: &sdkmcp.TextContent{Text: "Hello " + req.Params.Arguments["who"]},
		}}}, nil
	})

	return server
}

// newToolsOnlyServer builds a server exposing a single tool.
func newToolsOnlyServer(name, tool string) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: "test"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: tool, Description: "Tool " + tool},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in echoInput) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: name + ":" + in.Text}}}, nil, nil
		})
	return server
}

// inMemory connects each configured server name to an in-process server and
// counts how many sessions were opened.
type inMemory struct {
	t        *testing.T
	servers  map[string]*sdkmcp.Server
	connects atomic.Int32
}

func newInMemory(t *testing.T, servers map[string]*sdkmcp.Server) *inMemory {
	return &inMemory{t: t, servers: servers}
}

func (m *inMemory) factory(ctx context.Context, cfg ServerConfig, _ zerolog.Logger) (sdkmcp.Transport, error) {
	server, ok := m.servers[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("no test server named %s", cfg.Name)
	}
	m.connects.Add(1)

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	session, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, err
	}
	m.t.Cleanup(func() { _ = session.Close() })
	return clientTransport, nil
}

func stdioConfig(name string) ServerConfig {
	return ServerConfig{Name: name, Command: "unused"}
}

// recordSpans installs a tracer provider that keeps finished spans for the
// duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}
