package config

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/mcp"
	"github.com/harun/mcpagent/pkg/toolexecutor"
)

// Config represents the main mcpagent configuration
type Config struct {
	// Model used when the agent does not name one.
	Model string `json:"model" mapstructure:"model"`

	// Agent
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// MCP servers
	Servers           []mcp.ServerConfig `json:"servers" mapstructure:"servers"`
	IncludeAllServers bool               `json:"include_all_servers" mapstructure:"include_all_servers"`

	// Credentials. ANTHROPIC_API_KEY and OPENAI_API_KEY fill empty values.
	AnthropicAPIKey string   `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string   `json:"openai_api_key" mapstructure:"openai_api_key"`
	AI              AIConfig `json:"ai" mapstructure:"ai"`

	// Run limits
	Run RunConfig `json:"run" mapstructure:"run"`

	// Tool access policy
	Tools ToolPolicyConfig `json:"tools" mapstructure:"tools"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Audit   AuditConfig   `json:"audit" mapstructure:"audit"`
	Session SessionConfig `json:"session" mapstructure:"session"`
}

// AgentConfig describes the agent the CLI runs.
type AgentConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	Instructions string   `json:"instructions" mapstructure:"instructions"`
	Model        string   `json:"model" mapstructure:"model"`
	Tools        []string `json:"tools" mapstructure:"tools"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// RunConfig holds limits applied to every run.
type RunConfig struct {
	MaxTurns    int           `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	ToolTimeout time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
}

// AIConfig holds extra provider credentials used for failover.
type AIConfig struct {
	Profiles []agent.AuthProfile `json:"profiles" mapstructure:"profiles"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig enables OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// AuditConfig enables the JSON-lines audit log.
type AuditConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// SessionConfig controls where chat transcripts are kept.
type SessionConfig struct {
	// Dir defaults to ~/.mcpagent/sessions.
	Dir string `json:"dir" mapstructure:"dir"`
	// History is how many earlier exchanges accompany each chat question.
	History int `json:"history" mapstructure:"history"`
}

// DefaultInstructions is the system prompt of the default agent.
const DefaultInstructions = `You are a helpful assistant with access to special tools from MCP servers.

1. Text-to-speech tools: You can speak text aloud using different voices
2. Fetch tools: You can fetch content from URLs

Use these tools appropriately when a user asks for them.
For speaking text, only use the say tool when explicitly requested.
For fetching URLs, make sure the URL is valid and safe before fetching.`

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: agent.DefaultModel,
		Agent: AgentConfig{
			Name:         "MCP Tools Assistant",
			Instructions: DefaultInstructions,
		},
		Servers:           []mcp.ServerConfig{},
		IncludeAllServers: true,
		AI: AIConfig{
			Profiles: []agent.AuthProfile{},
		},
		Run: RunConfig{
			MaxTurns:    agent.DefaultMaxTurns,
			MaxRetries:  agent.DefaultMaxRetries,
			ToolTimeout: toolexecutor.DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "mcpagent",
		},
		Session: SessionConfig{
			History: 5,
		},
	}
}

// ExampleServers launches the bundled say and fetch servers from the
// repository root with go run.
func ExampleServers() []mcp.ServerConfig {
	return []mcp.ServerConfig{
		{Name: "say-service", Command: "go", Args: []string{"run", "./cmd/say-server"}},
		{Name: "fetch-service", Command: "go", Args: []string{"run", "./cmd/fetch-server"}},
	}
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.AnthropicAPIKey = maskSecret(c.AnthropicAPIKey)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)

	masked.Servers = make([]mcp.ServerConfig, len(c.Servers))
	for i, s := range c.Servers {
		s.APIKey = maskSecret(s.APIKey)
		masked.Servers[i] = s
	}
	masked.AI.Profiles = make([]agent.AuthProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		p.APIKey = maskSecret(p.APIKey)
		masked.AI.Profiles[i] = p
	}

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 4) + s[len(s)-4:]
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// ServerByName returns the server descriptor called name.
func (c *Config) ServerByName(name string) (mcp.ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return mcp.ServerConfig{}, false
}

// NewAgent builds the configured agent.
func (c *Config) NewAgent() *agent.Agent {
	a := agent.New(c.Agent.Name, c.Agent.Instructions)
	a.Model = c.Agent.Model
	a.Tools = append([]string(nil), c.Agent.Tools...)
	return a
}

// ToolPolicy returns the configured policy, nil when it places no limits.
// A deny list without an allow list allows every other tool.
func (c *Config) ToolPolicy() *toolexecutor.ToolPolicy {
	if len(c.Tools.Allow) == 0 && len(c.Tools.Deny) == 0 {
		return nil
	}
	allow := c.Tools.Allow
	if len(allow) == 0 {
		allow = []string{"*"}
	}
	return &toolexecutor.ToolPolicy{Allow: allow, Deny: c.Tools.Deny}
}

// RunConfig builds the run configuration for the configured servers.
// serverNames narrows the servers; empty means the configured selection.
func (c *Config) RunConfig(serverNames ...string) (agent.RunConfig, error) {
	opts := []agent.RunOption{
		agent.WithModel(c.Model),
		agent.WithAnthropicKey(c.AnthropicAPIKey),
		agent.WithOpenAIKey(c.OpenAIAPIKey),
		agent.WithAuthProfiles(c.AI.Profiles...),
		agent.WithMaxTurns(c.Run.MaxTurns),
		agent.WithMaxRetries(c.Run.MaxRetries),
		agent.WithMaxTokens(c.Run.MaxTokens),
		agent.WithTemperature(c.Run.Temperature),
		agent.WithToolTimeout(c.Run.ToolTimeout),
		agent.WithToolPolicy(c.ToolPolicy()),
	}
	switch {
	case len(serverNames) > 0:
		opts = append(opts, agent.WithServerNames(serverNames...))
	case c.IncludeAllServers:
		opts = append(opts, agent.IncludeAllServers())
	}

	if len(c.Servers) == 0 {
		cfg := agent.RunConfig{}
		for _, opt := range opts {
			opt(&cfg)
		}
		return cfg, cfg.Validate()
	}
	return agent.WithMCPTools(c.Servers, opts...)
}
