package cli

import (
	"context"
	"fmt"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/pkg/mcp"
	"github.com/harun/mcpagent/pkg/toolserver/fetch"
	"github.com/harun/mcpagent/pkg/toolserver/say"
)

// useTestServers routes the inspection commands to in-process say and fetch
// servers named "say" and "fetch".
func useTestServers(t *testing.T) {
	t.Helper()
	servers := map[string]*sdkmcp.Server{
		"say": say.NewServer(say.Options{
			Runner:   func(ctx context.Context, name string, args ...string) ([]byte, error) { return nil, nil },
			LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
		}),
		"fetch": fetch.NewServer(fetch.Options{}),
	}

	factory := func(ctx context.Context, cfg mcp.ServerConfig, _ zerolog.Logger) (sdkmcp.Transport, error) {
		server, ok := servers[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no test server named %s", cfg.Name)
		}
		clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { _ = session.Close() })
		return clientTransport, nil
	}

	prev := adapterOptions
	adapterOptions = []mcp.AdapterOption{mcp.WithTransportFactory(factory)}
	t.Cleanup(func() { adapterOptions = prev })
}

func testServers() []mcp.ServerConfig {
	return []mcp.ServerConfig{
		{Name: "say", Command: "say-server"},
		{Name: "fetch", Command: "fetch-server"},
	}
}
