package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/harun/mcpagent/pkg/mcp"
	"github.com/harun/mcpagent/pkg/toolexecutor"
)

const (
	// DefaultModel is used when neither the run nor the agent names a model.
	DefaultModel = "gpt-4o"
	// DefaultMaxTurns caps model calls per run.
	DefaultMaxTurns = 10
	// DefaultMaxRetries caps attempts per model call.
	DefaultMaxRetries = 3
)

var (
	// ErrMissingCredential is returned when no API key is available for the
	// provider a run needs.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMaxTurnsExceeded is returned when the model keeps requesting tools.
	ErrMaxTurnsExceeded = errors.New("maximum tool execution turns exceeded")
)

// RunHooks observe a run as it progresses. Any hook may be nil.
type RunHooks struct {
	OnModelResponse func(turn int, resp *LLMResponse)
	OnToolCall      func(call ToolCall)
	OnToolResult    func(call ToolCall, result ToolResult)
}

// RunConfig configures one Runner.Run call: which MCP servers supply tools,
// which model answers and with which credentials.
type RunConfig struct {
	Servers []mcp.ServerConfig
	// IncludeAllServers exposes the tools of every server. Otherwise only
	// ServerNames are used, or the first server when ServerNames is empty.
	IncludeAllServers bool
	ServerNames       []string

	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	// AuthProfiles are extra credentials tried in priority order after the
	// key above fails with a retryable error.
	AuthProfiles []AuthProfile

	Temperature float64
	MaxTokens   int
	MaxTurns    int
	MaxRetries  int
	ToolTimeout time.Duration
	ToolPolicy  *toolexecutor.ToolPolicy
	Hooks       *RunHooks
}

// RunOption customizes a RunConfig built by WithMCPTools.
type RunOption func(*RunConfig)

// WithMCPTools builds a run configuration whose tools come from servers.
func WithMCPTools(servers []mcp.ServerConfig, opts ...RunOption) (RunConfig, error) {
	if len(servers) == 0 {
		return RunConfig{}, mcp.ErrNoServers
	}

	cfg := RunConfig{Servers: append([]mcp.ServerConfig(nil), servers...)}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// WithModel sets the model, optionally prefixed with "anthropic:" or "openai:".
func WithModel(model string) RunOption {
	return func(c *RunConfig) { c.Model = model }
}

// WithAnthropicKey sets the Anthropic API key.
func WithAnthropicKey(key string) RunOption {
	return func(c *RunConfig) { c.AnthropicAPIKey = key }
}

// WithOpenAIKey sets the OpenAI API key.
func WithOpenAIKey(key string) RunOption {
	return func(c *RunConfig) { c.OpenAIAPIKey = key }
}

// IncludeAllServers exposes the tools of every configured server.
func IncludeAllServers() RunOption {
	return func(c *RunConfig) { c.IncludeAllServers = true }
}

// WithServerNames limits the exposed tools to the named servers.
func WithServerNames(names ...string) RunOption {
	return func(c *RunConfig) { c.ServerNames = append(c.ServerNames, names...) }
}

// WithMaxTurns caps model calls per run.
func WithMaxTurns(n int) RunOption {
	return func(c *RunConfig) { c.MaxTurns = n }
}

// WithMaxRetries caps attempts per model call.
func WithMaxRetries(n int) RunOption {
	return func(c *RunConfig) { c.MaxRetries = n }
}

// WithMaxTokens caps tokens per model response.
func WithMaxTokens(n int) RunOption {
	return func(c *RunConfig) { c.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) RunOption {
	return func(c *RunConfig) { c.Temperature = t }
}

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) RunOption {
	return func(c *RunConfig) { c.ToolTimeout = d }
}

// WithToolPolicy restricts which tools the model may call.
func WithToolPolicy(p *toolexecutor.ToolPolicy) RunOption {
	return func(c *RunConfig) { c.ToolPolicy = p }
}

// WithAuthProfiles adds fallback credentials.
func WithAuthProfiles(profiles ...AuthProfile) RunOption {
	return func(c *RunConfig) { c.AuthProfiles = append(c.AuthProfiles, profiles...) }
}

// WithHooks installs run observers.
func WithHooks(h *RunHooks) RunOption {
	return func(c *RunConfig) { c.Hooks = h }
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = toolexecutor.DefaultTimeout
	}
	return c
}

// Validate checks limits and server selection.
func (c RunConfig) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("max turns cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.ToolTimeout < 0 {
		return fmt.Errorf("tool timeout cannot be negative")
	}

	seen := map[string]bool{}
	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return &mcp.ConfigError{Server: s.Name, Msg: "duplicate server name"}
		}
		seen[s.Name] = true
	}
	for _, name := range c.ServerNames {
		if !seen[name] {
			return fmt.Errorf("%w: %s", mcp.ErrUnknownServer, name)
		}
	}
	return nil
}

// SelectedServers returns the servers whose tools the run exposes.
func (c RunConfig) SelectedServers() []mcp.ServerConfig {
	if len(c.Servers) == 0 {
		return nil
	}
	if c.IncludeAllServers {
		return append([]mcp.ServerConfig(nil), c.Servers...)
	}
	if len(c.ServerNames) == 0 {
		return []mcp.ServerConfig{c.Servers[0]}
	}

	wanted := map[string]bool{}
	for _, n := range c.ServerNames {
		wanted[n] = true
	}
	var out []mcp.ServerConfig
	for _, s := range c.Servers {
		if wanted[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// apiKey returns the configured key for provider, falling back to its
// environment variable.
func (c RunConfig) apiKey(provider string) string {
	var key string
	switch provider {
	case ProviderAnthropic:
		key = c.AnthropicAPIKey
	case ProviderOpenAI:
		key = c.OpenAIAPIKey
	}
	if key == "" {
		key = os.Getenv(CredentialEnvVar(provider))
	}
	return key
}
