// Package session keeps chat transcripts as JSONL files, one file per
// session key.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized.
// - Corrupt lines are skipped on load.
//
// Usage:
//
//	store, _ := session.New("/tmp/mcpagent/sessions")
//	_ = store.Append(ctx, "demo", session.Message{Role: session.RoleUser, Content: "hello"})
//	msgs, _ := store.Load(ctx, "demo")
//	_ = msgs
package session
