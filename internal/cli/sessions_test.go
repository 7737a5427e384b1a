package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/pkg/session"
)

func TestListSessions(t *testing.T) {
	store, err := session.New(t.TempDir())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listSessions(&out, store))
	assert.Contains(t, out.String(), "No sessions in "+store.Dir())

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "beta", session.Message{Role: session.RoleUser, Content: "hi"}))
	require.NoError(t, store.Append(ctx, "alpha", session.Message{Role: session.RoleUser, Content: "hi"}))

	out.Reset()
	require.NoError(t, listSessions(&out, store))
	assert.Equal(t, "alpha\nbeta\n", out.String())
}

func TestShowSession(t *testing.T) {
	store, err := session.New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "demo", session.Message{Role: session.RoleUser, Content: "fetch example.com"}))
	require.NoError(t, store.Append(ctx, "demo", session.Message{
		Role:      session.RoleAssistant,
		Content:   "It is a placeholder page.",
		ToolCalls: []string{"fetch"},
	}))

	var out bytes.Buffer
	require.NoError(t, showSession(ctx, &out, store, "demo"))
	assert.Contains(t, out.String(), "] user\nfetch example.com\n")
	assert.Contains(t, out.String(), "] assistant (tools: fetch)\nIt is a placeholder page.\n")

	err = showSession(ctx, &out, store, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `session "missing" not found`)
}
