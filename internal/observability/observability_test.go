package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	RecordToolExecution("fetch", 20*time.Millisecond, true)
	RecordToolExecution("say", 5*time.Millisecond, false)
	RecordAgentRun("openai", time.Second, 3, true)
	SetProviderCooldown("anthropic", true)
	RecordMCPConnect("fetch-service", "stdio", true)
	RecordMCPCall("fetch-service", "tools/call", 10*time.Millisecond, true)
	RecordMCPDisconnect()
	RecordServerToolRequest("fetch", "fetch_headers", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tool_execution_total{status="success",tool="fetch"}`)
	assert.Contains(t, body, `tool_errors_total{tool="say"}`)
	assert.Contains(t, body, `agent_run_total{provider="openai",status="success"}`)
	assert.Contains(t, body, `provider_cooldown_active{provider="anthropic"} 1`)
	assert.Contains(t, body, `mcp_connect_total{server="fetch-service",status="success",transport="stdio"}`)
	assert.Contains(t, body, `mcp_call_total{method="tools/call",server="fetch-service",status="success"}`)
	assert.Contains(t, body, `mcp_server_tool_requests_total{server="fetch",status="success",tool="fetch_headers"}`)
}

func TestAuditLoggerWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))

	RecordToolAudit(context.Background(), "fetch", "run-1", "success", map[string]interface{}{"server": "fetch-service"})
	RecordMCPAudit(context.Background(), "say-service", "connect", "failure", nil)
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"action":"call:fetch"`)
	assert.Contains(t, lines[0], `"actor":"run-1"`)
	assert.Contains(t, lines[1], `"type":"mcp"`)
	assert.Contains(t, lines[1], `"status":"failure"`)
}
