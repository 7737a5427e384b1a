// Command say-server exposes the system text-to-speech command as an MCP
// server over stdio, or streamable HTTP with --http.
package main

import (
	"fmt"
	"os"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/pkg/toolserver"
	"github.com/harun/mcpagent/pkg/toolserver/say"
)

func main() {
	var command string
	cmd := toolserver.NewCommand("say-server", "MCP server that speaks text aloud", func(logger zerolog.Logger) (*sdkmcp.Server, error) {
		logger.Debug().Str("command", command).Msg("Using speech command")
		return say.NewServer(say.Options{Command: command}), nil
	})
	cmd.Flags().StringVar(&command, "command", "say", "text-to-speech executable")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
