package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoServers is returned when a provider is built without servers.
	ErrNoServers = errors.New("mcp: at least one server must be configured")
	// ErrUnknownServer is returned for a server name that is not configured.
	ErrUnknownServer = errors.New("mcp: unknown server")
	// ErrClosed is returned by adapters and providers after Close.
	ErrClosed = errors.New("mcp: closed")
)

// ConfigError reports an invalid server configuration.
type ConfigError struct {
	Server string
	Msg    string
}

func (e *ConfigError) Error() string {
	if e.Server == "" {
		return "mcp server config: " + e.Msg
	}
	return fmt.Sprintf("mcp server %q: %s", e.Server, e.Msg)
}

// ServerError wraps a failure talking to a server.
type ServerError struct {
	Server string
	Op     string
	Err    error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("mcp %s on %s: %v", e.Op, e.Server, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ToolCallError is returned when a server reports a tool result with isError set.
type ToolCallError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolCallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s on %s reported an error", e.Tool, e.Server)
	}
	return fmt.Sprintf("tool %s on %s reported an error: %s", e.Tool, e.Server, e.Message)
}
