package mcp

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made to a server.
const DefaultTimeout = 30 * time.Second

// TransportKind names how a server is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// ServerConfig describes one MCP server. A server is either launched as a
// subprocess speaking MCP over stdio (Command/Args/Env) or reached over
// streamable HTTP (BaseURL/APIKey); exactly one of Command and BaseURL is set.
type ServerConfig struct {
	Name    string            `json:"name" mapstructure:"name"`
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	BaseURL string            `json:"base_url,omitempty" mapstructure:"base_url"`
	// APIKey and Env values may reference environment variables as $VAR or
	// ${VAR}; they are expanded when the server is reached.
	APIKey  string            `json:"api_key,omitempty" mapstructure:"api_key"`
	Timeout time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
}

// Validate checks that the config names exactly one way to reach the server.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Msg: "name is required"}
	}
	if c.Command == "" && c.BaseURL == "" {
		return &ConfigError{Server: c.Name, Msg: "must have either base_url or command"}
	}
	if c.Command != "" && c.BaseURL != "" {
		return &ConfigError{Server: c.Name, Msg: "cannot have both base_url and command"}
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Server: c.Name, Msg: fmt.Sprintf("base_url %q must be an http(s) URL", c.BaseURL)}
		}
	}
	if c.Timeout < 0 {
		return &ConfigError{Server: c.Name, Msg: "timeout cannot be negative"}
	}
	return nil
}

// Transport reports how the server is reached.
func (c ServerConfig) Transport() TransportKind {
	if c.BaseURL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// RequestTimeout returns the per-request timeout, applying the default.
func (c ServerConfig) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// String describes the server without leaking credentials.
func (c ServerConfig) String() string {
	if c.Transport() == TransportHTTP {
		return fmt.Sprintf("%s (%s)", c.Name, c.BaseURL)
	}
	return fmt.Sprintf("%s (%s)", c.Name, strings.TrimSpace(c.Command+" "+strings.Join(c.Args, " ")))
}

// environ renders Env as KEY=VALUE pairs in a stable order, expanding
// environment references in the values.
func (c ServerConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+os.ExpandEnv(c.Env[k]))
	}
	return env
}
