package agent

import (
	"errors"
	"strings"

	"github.com/harun/mcpagent/pkg/toolexecutor"
)

// Agent is a named set of instructions handed to a model together with the
// tools of the run's MCP servers.
type Agent struct {
	Name         string
	Instructions string
	// Model overrides RunConfig.Model when set.
	Model string
	// Tools restricts the exposed tools to these names. Empty means all.
	Tools      []string
	ToolPolicy *toolexecutor.ToolPolicy
}

// New creates an agent with normalized instructions.
func New(name, instructions string) *Agent {
	return &Agent{Name: name, Instructions: NormalizePrompt(instructions)}
}

// Validate checks the agent can be run.
func (a *Agent) Validate() error {
	if a == nil {
		return errors.New("agent is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("agent name is required")
	}
	return nil
}

// NormalizePrompt trims surrounding blank lines and removes the indentation
// shared by every line after the first, so prompts written as indented
// raw string literals read naturally.
func NormalizePrompt(prompt string) string {
	lines := strings.Split(strings.ReplaceAll(prompt, "\r\n", "\n"), "\n")

	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	indent := -1
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}

	lines[0] = strings.TrimLeft(lines[0], " \t")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			lines[i] = ""
			continue
		}
		if indent > 0 {
			lines[i] = lines[i][indent:]
		}
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	lines[0] = strings.TrimRight(lines[0], " \t")

	return strings.Join(lines, "\n")
}

// FromPrompt creates an agent whose instructions are prompt.
func FromPrompt(name, prompt string) *Agent {
	return New(name, prompt)
}
