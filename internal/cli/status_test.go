package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/pkg/mcp"
)

func TestStatusCommand(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"status", "--help"})

	output := &bytes.Buffer{}
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Connect to each configured MCP server")
}

func TestCheckServer(t *testing.T) {
	useTestServers(t)
	ctx := context.Background()

	st := checkServer(ctx, testServers()[0], zerolog.Nop())
	require.NoError(t, st.Err)
	assert.Equal(t, "say", st.Name)
	assert.Equal(t, mcp.TransportStdio, st.Transport)
	assert.Equal(t, 2, st.Tools)
	assert.True(t, st.Caps.Tools)
	assert.True(t, st.Caps.Resources)
	assert.True(t, st.Caps.Prompts)

	st = checkServer(ctx, mcp.ServerConfig{Name: "missing", Command: "nope"}, zerolog.Nop())
	assert.Error(t, st.Err)
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	writeStatus(&buf, []serverStatus{
		{Name: "say", Transport: mcp.TransportStdio, Caps: mcp.Capabilities{Tools: true, Prompts: true}, Tools: 2, Latency: 150 * time.Millisecond},
		{Name: "remote", Transport: mcp.TransportHTTP, Err: errors.New("connection refused")},
	})

	out := buf.String()
	assert.Contains(t, out, "SERVER")
	assert.Regexp(t, `say\s+stdio\s+ok\s+2\s+tools,prompts\s+150ms`, out)
	assert.Regexp(t, `remote\s+http\s+error: connection refused`, out)
}

func TestOffers(t *testing.T) {
	assert.Equal(t, "-", offers(mcp.Capabilities{}))
	assert.Equal(t, "tools,resources,prompts", offers(mcp.Capabilities{Tools: true, Resources: true, Prompts: true}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m5s"},
		{3665 * time.Second, "1h1m5s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatDuration(tt.duration))
	}
}
