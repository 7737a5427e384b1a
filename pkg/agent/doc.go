// Package agent runs LLM agents whose tools come from MCP servers.
//
// Invariants:
// - Every run connects its selected servers and closes them when it returns.
// - Tool calls route through toolexecutor only.
// - Credentials are checked before any server is started.
//
// Usage:
//
//	cfg, _ := agent.WithMCPTools([]mcp.ServerConfig{
//		{Name: "fetch", Command: "fetch-server"},
//	}, agent.WithModel("claude-sonnet-4-5"))
//	result, _ := agent.Run(ctx, agent.New("assistant", "Answer briefly."), "What is on example.com?", cfg)
//	fmt.Println(result.Output)
package agent
