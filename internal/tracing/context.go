package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for agent run ID
	RunIDKey ContextKey = "run_id"
	// AgentKey is the context key for the agent name
	AgentKey ContextKey = "agent"
	// ServerKey is the context key for the MCP server name
	ServerKey ContextKey = "mcp_server"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RunID   string
	Agent   string
	Server  string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgent adds an agent name to the context
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithServer adds an MCP server name to the context
func WithServer(ctx context.Context, server string) context.Context {
	return context.WithValue(ctx, ServerKey, server)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetAgent retrieves the agent name from the context
func GetAgent(ctx context.Context) string {
	return stringValue(ctx, AgentKey)
}

// GetServer retrieves the MCP server name from the context
func GetServer(ctx context.Context) string {
	return stringValue(ctx, ServerKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		RunID:   GetRunID(ctx),
		Agent:   GetAgent(ctx),
		Server:  GetServer(ctx),
	}
}

// NewRequestContext creates a new context with a fresh trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewAgentRunContext creates a context for one agent run. The trace ID is kept
// when present so several runs of one CLI invocation share a trace.
func NewAgentRunContext(ctx context.Context, agent string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = NewRequestContext(ctx)
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithAgent(ctx, agent)
}

// LoggerFromContext returns baseLogger enriched with the tracing fields found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.Agent != "" {
		lc = lc.Str("agent", tc.Agent)
	}
	if tc.Server != "" {
		lc = lc.Str("mcp_server", tc.Server)
	}
	return lc.Logger()
}
