package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
)

const (
	clientName    = "mcpagent"
	clientVersion = "0.1.0"
	tracerName    = "mcpagent.mcp"
)

// ServerAdapter owns the client session with one MCP server. The session is
// opened lazily by Start and reused until Stop.
type ServerAdapter struct {
	cfg       ServerConfig
	transport TransportFactory
	client    *sdkmcp.Client
	logger    zerolog.Logger

	mu      sync.Mutex
	session *sdkmcp.ClientSession
	closed  bool
}

// AdapterOption configures a ServerAdapter.
type AdapterOption func(*ServerAdapter)

// WithTransportFactory replaces the transport used to reach the server.
func WithTransportFactory(f TransportFactory) AdapterOption {
	return func(a *ServerAdapter) {
		if f != nil {
			a.transport = f
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *ServerAdapter) {
		a.logger = logger
	}
}

// NewServerAdapter validates cfg and returns an unstarted adapter.
func NewServerAdapter(cfg ServerConfig, opts ...AdapterOption) (*ServerAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &ServerAdapter{
		cfg:       cfg,
		transport: DefaultTransport,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("mcp_server", cfg.Name).Logger()
	a.client = sdkmcp.NewClient(&sdkmcp.Implementation{Name: clientName, Version: clientVersion}, nil)

	return a, nil
}

// Name returns the configured server name.
func (a *ServerAdapter) Name() string { return a.cfg.Name }

// Config returns the server configuration.
func (a *ServerAdapter) Config() ServerConfig { return a.cfg }

// Start connects to the server. It is safe to call repeatedly and
// concurrently; only the first successful call opens a session.
func (a *ServerAdapter) Start(ctx context.Context) error {
	_, err := a.connect(ctx)
	return err
}

// Running reports whether a session is open.
func (a *ServerAdapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *ServerAdapter) connect(ctx context.Context) (*sdkmcp.ClientSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.session != nil {
		return a.session, nil
	}

	transportName := string(a.cfg.Transport())
	transport, err := a.transport(ctx, a.cfg, a.logger)
	if err != nil {
		observability.RecordMCPConnect(a.cfg.Name, transportName, false)
		return nil, &ServerError{Server: a.cfg.Name, Op: "connect", Err: err}
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout())
	defer cancel()

	session, err := a.client.Connect(connectCtx, transport, nil)
	if err != nil {
		observability.RecordMCPConnect(a.cfg.Name, transportName, false)
		return nil, &ServerError{Server: a.cfg.Name, Op: "connect", Err: err}
	}
	observability.RecordMCPConnect(a.cfg.Name, transportName, true)

	a.session = session
	event := a.logger.Info().Str("transport", transportName)
	if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
		event = event.Str("server_name", init.ServerInfo.Name).Str("server_version", init.ServerInfo.Version)
	}
	event.Msg("MCP server connected")

	return session, nil
}

// Capabilities reports what the server declared during initialization.
func (a *ServerAdapter) Capabilities(ctx context.Context) (Capabilities, error) {
	session, err := a.connect(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	init := session.InitializeResult()
	if init == nil || init.Capabilities == nil {
		return Capabilities{}, nil
	}
	return Capabilities{
		Tools:     init.Capabilities.Tools != nil,
		Resources: init.Capabilities.Resources != nil,
		Prompts:   init.Capabilities.Prompts != nil,
	}, nil
}

// call runs fn against the session with the request timeout applied and
// records a span and metrics for the method.
func (a *ServerAdapter) call(ctx context.Context, method string, fn func(context.Context, *sdkmcp.ClientSession) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, spanName(method),
		attribute.String("mcp.server", a.cfg.Name),
		attribute.String("mcp.method", method),
	)
	defer func() { tracing.EndSpan(span, err) }()

	session, err := a.connect(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(tracing.WithServer(ctx, a.cfg.Name), a.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	err = fn(callCtx, session)
	observability.RecordMCPCall(a.cfg.Name, method, time.Since(start), err == nil)
	if err != nil {
		return &ServerError{Server: a.cfg.Name, Op: method, Err: err}
	}
	return nil
}

// spanName maps an MCP method to a span name: "tools/call" becomes
// "mcp.call_tool" and "tools/list" becomes "mcp.list_tools".
func spanName(method string) string {
	noun, verb, ok := strings.Cut(method, "/")
	if !ok {
		return "mcp." + method
	}
	if verb != "list" {
		noun = strings.TrimSuffix(noun, "s")
	}
	return "mcp." + verb + "_" + noun
}

// Tools lists every tool the server exposes, following pagination.
func (a *ServerAdapter) Tools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	err := a.call(ctx, "tools/list", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		params := &sdkmcp.ListToolsParams{}
		for {
			res, err := cs.ListTools(ctx, params)
			if err != nil {
				return err
			}
			for _, t := range res.Tools {
				if t != nil {
					tools = append(tools, toolFromSDK(a.cfg.Name, t))
				}
			}
			if res.NextCursor == "" {
				return nil
			}
			params.Cursor = res.NextCursor
		}
	})
	return tools, err
}

// CallTool invokes a tool. A result flagged isError is returned together
// with a *ToolCallError.
func (a *ServerAdapter) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	var result *CallResult
	err := a.call(ctx, "tools/call", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("mcp.tool", name))
		res, err := cs.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return err
		}
		result = &CallResult{
			Text:       flattenContent(res.Content),
			Structured: res.StructuredContent,
			IsError:    res.IsError,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug().Str("tool", name).Bool("is_error", result.IsError).Msg("MCP tool called")
	if result.IsError {
		return result, &ToolCallError{Server: a.cfg.Name, Tool: name, Message: result.String()}
	}
	return result, nil
}

// ListResources lists the server's resources, following pagination.
func (a *ServerAdapter) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	err := a.call(ctx, "resources/list", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		params := &sdkmcp.ListResourcesParams{}
		for {
			res, err := cs.ListResources(ctx, params)
			if err != nil {
				return err
			}
			for _, r := range res.Resources {
				if r != nil {
					resources = append(resources, resourceFromSDK(a.cfg.Name, r))
				}
			}
			if res.NextCursor == "" {
				return nil
			}
			params.Cursor = res.NextCursor
		}
	})
	return resources, err
}

// ReadResource reads a resource by URI.
func (a *ServerAdapter) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	if uri == "" {
		return nil, fmt.Errorf("resource uri is required")
	}

	var contents []ResourceContent
	err := a.call(ctx, "resources/read", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		res, err := cs.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
		if err != nil {
			return err
		}
		for _, c := range res.Contents {
			if c == nil {
				continue
			}
			contents = append(contents, ResourceContent{URI: c.URI, MIMEType: c.MIMEType, Text: c.Text, Blob: c.Blob})
		}
		return nil
	})
	return contents, err
}

// ListPrompts lists the server's prompts, following pagination.
func (a *ServerAdapter) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	err := a.call(ctx, "prompts/list", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		params := &sdkmcp.ListPromptsParams{}
		for {
			res, err := cs.ListPrompts(ctx, params)
			if err != nil {
				return err
			}
			for _, p := range res.Prompts {
				if p != nil {
					prompts = append(prompts, promptFromSDK(a.cfg.Name, p))
				}
			}
			if res.NextCursor == "" {
				return nil
			}
			params.Cursor = res.NextCursor
		}
	})
	return prompts, err
}

// GetPrompt renders a prompt with the given arguments.
func (a *ServerAdapter) GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	var messages []PromptMessage
	err := a.call(ctx, "prompts/get", func(ctx context.Context, cs *sdkmcp.ClientSession) error {
		res, err := cs.GetPrompt(ctx, &sdkmcp.GetPromptParams{Name: name, Arguments: args})
		if err != nil {
			return err
		}
		for _, m := range res.Messages {
			if m == nil {
				continue
			}
			messages = append(messages, PromptMessage{
				Role: string(m.Role),
				Text: flattenContent([]sdkmcp.Content{m.Content}),
			})
		}
		return nil
	})
	return messages, err
}

// Stop closes the session. The adapter cannot be restarted afterwards.
func (a *ServerAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.session == nil {
		return nil
	}
	err := a.session.Close()
	a.session = nil
	observability.RecordMCPDisconnect()

	if err != nil {
		a.logger.Warn().Err(err).Msg("MCP session close failed")
		return &ServerError{Server: a.cfg.Name, Op: "close", Err: err}
	}
	a.logger.Info().Msg("MCP server disconnected")
	return nil
}
