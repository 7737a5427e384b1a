package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
	assert.NotEmpty(t, NewRunID())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgent(ctx, "assistant")
	ctx = WithServer(ctx, "fetch-service")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "assistant", tc.Agent)
	assert.Equal(t, "fetch-service", tc.Server)
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetAgent(ctx))
	assert.Empty(t, GetServer(ctx))
}

func TestNewAgentRunContext(t *testing.T) {
	t.Run("keeps existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-keep")
		runCtx := NewAgentRunContext(ctx, "assistant")

		assert.Equal(t, "trace-keep", GetTraceID(runCtx))
		assert.NotEmpty(t, GetRunID(runCtx))
		assert.Equal(t, "assistant", GetAgent(runCtx))
	})

	t.Run("creates trace id when missing", func(t *testing.T) {
		runCtx := NewAgentRunContext(context.Background(), "assistant")
		assert.NotEmpty(t, GetTraceID(runCtx))
	})

	t.Run("each run gets a new run id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace")
		a := NewAgentRunContext(ctx, "a")
		b := NewAgentRunContext(ctx, "a")
		assert.NotEqual(t, GetRunID(a), GetRunID(b))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRunID(WithTraceID(context.Background(), "trace-9"), "run-9")
	ctx = WithServer(ctx, "say-service")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"trace_id":"trace-9"`)
	assert.Contains(t, out, `"run_id":"run-9"`)
	assert.Contains(t, out, `"mcp_server":"say-service"`)
	assert.NotContains(t, out, `"agent"`)
}

func TestStartSpanSetsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("mcpagent-test"))
	defer func() {
		_ = ShutdownOpenTelemetry(context.Background())
	}()

	ctx, span := StartSpan(context.Background(), "test", "op")
	EndSpan(span, nil)
	assert.NotEmpty(t, GetTraceID(ctx))
}
