package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/pkg/agent"
)

func TestReadQueries(t *testing.T) {
	queries, err := readQueries(strings.NewReader("  What time is it?\n\n   \nSay hello\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"What time is it?", "Say hello"}, queries)

	queries, err = readQueries(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestPrintResult(t *testing.T) {
	result := &agent.RunResult{Output: "Hello there", Model: "gpt-4o", Turns: 2}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, result, false))
		assert.Equal(t, "Response: Hello there\n"+strings.Repeat("-", 50)+"\n", buf.String())
	})

	t.Run("aborted", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, &agent.RunResult{Aborted: true}, false))
		assert.Contains(t, buf.String(), "Response: (aborted)")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, result, true))

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "Hello there", decoded["output"])
		assert.Equal(t, "gpt-4o", decoded["model"])
	})
}

func TestToolHooks(t *testing.T) {
	var buf bytes.Buffer
	hooks := toolHooks(&buf)

	call := agent.ToolCall{ID: "1", Name: "fetch-service_fetch", Parameters: map[string]interface{}{"url": "https://example.com"}}
	hooks.OnToolCall(call)
	hooks.OnToolResult(call, agent.ToolResult{Output: "ok", Duration: 12 * time.Millisecond})
	hooks.OnToolResult(call, agent.ToolResult{Error: "status 404"})

	out := buf.String()
	assert.Contains(t, out, `-> fetch-service_fetch {"url":"https://example.com"}`)
	assert.Contains(t, out, "<- fetch-service_fetch (12ms)")
	assert.Contains(t, out, "<- fetch-service_fetch failed: status 404")
}

func TestRunCommandNoQueries(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"run"})
	cmd.SetIn(strings.NewReader("\n\n"))
	t.Cleanup(func() { cmd.SetIn(nil) })

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no queries given")
}
