// Command fetch-server exposes URL fetching as an MCP server over stdio, or
// streamable HTTP with --http.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/pkg/toolserver"
	"github.com/harun/mcpagent/pkg/toolserver/fetch"
)

func main() {
	var (
		userAgent string
		timeout   time.Duration
		maxBytes  int64
	)
	cmd := toolserver.NewCommand("fetch-server", "MCP server that fetches URLs", func(logger zerolog.Logger) (*sdkmcp.Server, error) {
		if timeout <= 0 {
			return nil, fmt.Errorf("--timeout must be positive")
		}
		logger.Debug().Dur("timeout", timeout).Int64("max_bytes", maxBytes).Msg("Fetch limits")
		return fetch.NewServer(fetch.Options{
			Client:    &http.Client{Timeout: timeout},
			UserAgent: userAgent,
			MaxBytes:  maxBytes,
		}), nil
	})
	cmd.Flags().StringVar(&userAgent, "user-agent", fetch.DefaultUserAgent, "User-Agent header sent with requests")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 5<<20, "maximum response body size read")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
