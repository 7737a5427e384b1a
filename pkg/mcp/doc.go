// Package mcp connects agents to Model Context Protocol servers.
//
// A ServerConfig names one server, launched as a subprocess over stdio or
// reached over streamable HTTP. ToolProvider caches one session per server
// and converts advertised tools into toolexecutor definitions, so an agent's
// tool loop can call them like local tools.
//
// Usage:
//
//	provider, err := mcp.NewToolProvider([]mcp.ServerConfig{
//		{Name: "fetch-service", Command: "go", Args: []string{"run", "./cmd/fetch-server"}},
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Close()
//
//	exec := toolexecutor.New()
//	_, err = provider.RegisterAll(ctx, exec)
package mcp
