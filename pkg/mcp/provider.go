package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/pkg/toolexecutor"
)

// ToolProvider manages sessions with a fixed set of MCP servers and turns
// their tools into executor tool definitions. Sessions are opened on first
// use and cached until Close.
type ToolProvider struct {
	servers       []ServerConfig
	byName        map[string]ServerConfig
	defaultServer string
	adapterOpts   []AdapterOption
	logger        zerolog.Logger

	mu       sync.Mutex
	adapters map[string]*ServerAdapter
	closed   bool
}

// ProviderOption configures a ToolProvider.
type ProviderOption func(*ToolProvider)

// WithDefaultServer sets the server used when no name is given.
func WithDefaultServer(name string) ProviderOption {
	return func(p *ToolProvider) {
		p.defaultServer = name
	}
}

// WithAdapterOptions applies opts to every server adapter.
func WithAdapterOptions(opts ...AdapterOption) ProviderOption {
	return func(p *ToolProvider) {
		p.adapterOpts = append(p.adapterOpts, opts...)
	}
}

// WithProviderLogger sets the provider logger. Adapters inherit it.
func WithProviderLogger(logger zerolog.Logger) ProviderOption {
	return func(p *ToolProvider) {
		p.logger = logger
	}
}

// NewToolProvider validates servers and returns a provider. No server is
// contacted until its tools are requested.
func NewToolProvider(servers []ServerConfig, opts ...ProviderOption) (*ToolProvider, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	p := &ToolProvider{
		byName:   make(map[string]ServerConfig, len(servers)),
		adapters: make(map[string]*ServerAdapter, len(servers)),
		logger:   log.Logger,
	}
	for _, s := range servers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.byName[s.Name]; dup {
			return nil, &ConfigError{Server: s.Name, Msg: "duplicate server name"}
		}
		p.byName[s.Name] = s
		p.servers = append(p.servers, s)
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.defaultServer == "" {
		p.defaultServer = servers[0].Name
	}
	if _, ok := p.byName[p.defaultServer]; !ok {
		return nil, fmt.Errorf("%w: default server %q", ErrUnknownServer, p.defaultServer)
	}

	return p, nil
}

// Servers returns the configured servers in order.
func (p *ToolProvider) Servers() []ServerConfig {
	out := make([]ServerConfig, len(p.servers))
	copy(out, p.servers)
	return out
}

// DefaultServer returns the name used when none is given.
func (p *ToolProvider) DefaultServer() string { return p.defaultServer }

// Adapter returns the started adapter for name, connecting on first use.
// An empty name selects the default server.
func (p *ToolProvider) Adapter(ctx context.Context, name string) (*ServerAdapter, error) {
	if name == "" {
		name = p.defaultServer
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	cfg, ok := p.byName[name]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	adapter := p.adapters[name]
	if adapter == nil {
		opts := append([]AdapterOption{WithLogger(p.logger)}, p.adapterOpts...)
		var err error
		adapter, err = NewServerAdapter(cfg, opts...)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.adapters[name] = adapter
	}
	p.mu.Unlock()

	// A failed start leaves the adapter cached so the next call retries.
	if err := adapter.Start(ctx); err != nil {
		observability.RecordMCPAudit(ctx, name, "connect", "error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	return adapter, nil
}

// ToolsFromServer returns executor definitions for one server's tools.
func (p *ToolProvider) ToolsFromServer(ctx context.Context, name string) ([]toolexecutor.ToolDefinition, error) {
	adapter, err := p.Adapter(ctx, name)
	if err != nil {
		return nil, err
	}

	tools, err := adapter.Tools(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]toolexecutor.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolDefinition(adapter, t, sanitizeToolName(t.Name)))
	}
	return defs, nil
}

// AllTools returns the tools of every server in configuration order under
// sanitized names. When a later server advertises a name already taken, its
// tool is exposed as "<server>_<tool>".
func (p *ToolProvider) AllTools(ctx context.Context) ([]toolexecutor.ToolDefinition, error) {
	seen := map[string]bool{}
	var defs []toolexecutor.ToolDefinition

	for _, s := range p.servers {
		adapter, err := p.Adapter(ctx, s.Name)
		if err != nil {
			return nil, err
		}
		tools, err := adapter.Tools(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			exposed := sanitizeToolName(t.Name)
			if seen[exposed] {
				exposed = prefixedName(s.Name, t.Name)
				p.logger.Warn().
					Str("original_name", t.Name).
					Str("prefixed_name", exposed).
					Str("mcp_server", s.Name).
					Msg("Tool name conflict resolved by prefixing with server name")
			}
			seen[exposed] = true
			defs = append(defs, toolDefinition(adapter, t, exposed))
		}
	}
	return defs, nil
}

// Register adds one server's tools to executor, prefixing names that are
// already registered, and adds helper tools for the server's resources and
// prompts when it declares them. It returns the registered tool names.
func (p *ToolProvider) Register(ctx context.Context, executor *toolexecutor.ToolExecutor, name string) ([]string, error) {
	if executor == nil {
		return nil, errors.New("mcp: executor is required")
	}

	adapter, err := p.Adapter(ctx, name)
	if err != nil {
		return nil, err
	}
	tools, err := adapter.Tools(ctx)
	if err != nil {
		return nil, err
	}

	var registered []string
	for _, t := range tools {
		exposed := sanitizeToolName(t.Name)
		if existing := executor.GetTool(exposed); existing != nil && existing.Server != adapter.Name() {
			exposed = prefixedName(adapter.Name(), t.Name)
			p.logger.Warn().
				Str("original_name", t.Name).
				Str("prefixed_name", exposed).
				Str("mcp_server", adapter.Name()).
				Msg("Tool name conflict resolved by prefixing with server name")
		}
		if err := executor.RegisterTool(toolDefinition(adapter, t, exposed)); err != nil {
			return registered, fmt.Errorf("register %s from %s: %w", t.Name, adapter.Name(), err)
		}
		registered = append(registered, exposed)
	}

	helpers, err := p.helperTools(ctx, adapter)
	if err != nil {
		return registered, err
	}
	for _, def := range helpers {
		if err := executor.RegisterTool(def); err != nil {
			return registered, fmt.Errorf("register %s: %w", def.Name, err)
		}
		registered = append(registered, def.Name)
	}

	p.logger.Info().
		Str("mcp_server", adapter.Name()).
		Int("tools", len(registered)).
		Msg("MCP server tools registered")

	return registered, nil
}

// RegisterAll registers the tools of every configured server.
func (p *ToolProvider) RegisterAll(ctx context.Context, executor *toolexecutor.ToolExecutor) ([]string, error) {
	var all []string
	for _, s := range p.servers {
		names, err := p.Register(ctx, executor, s.Name)
		all = append(all, names...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Close stops every started adapter and joins their errors. Later calls
// return ErrClosed.
func (p *ToolProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	adapters := make([]*ServerAdapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		adapters = append(adapters, a)
	}
	p.adapters = map[string]*ServerAdapter{}
	p.mu.Unlock()

	var errs []error
	for _, a := range adapters {
		if err := a.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// toolDefinition wraps a server tool as an executor tool named exposed.
func toolDefinition(adapter *ServerAdapter, t Tool, exposed string) toolexecutor.ToolDefinition {
	description := strings.TrimSpace(t.Description)
	if description == "" {
		description = fmt.Sprintf("%s tool from MCP server %s", t.Name, adapter.Name())
	}

	remote := t.Name
	return toolexecutor.ToolDefinition{
		Name:        exposed,
		Description: description,
		InputSchema: t.InputSchema,
		Server:      adapter.Name(),
		Category:    toolexecutor.CategoryMCP,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			res, err := adapter.CallTool(ctx, remote, params)
			observability.RecordMCPAudit(ctx, adapter.Name(), "call:"+remote, auditStatus(err), nil)
			if err != nil {
				return nil, fmt.Errorf("mcp tool error (%s): %w", remote, err)
			}
			return res.String(), nil
		},
	}
}

func auditStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
