package toolexecutor

import (
	"sort"
	"strings"
)

// ToolCategory groups tools by where they come from.
type ToolCategory string

const (
	CategoryMCP      ToolCategory = "mcp"
	CategoryResource ToolCategory = "resource"
	CategoryPrompt   ToolCategory = "prompt"
	CategoryGeneral  ToolCategory = "general"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{CategoryMCP, CategoryResource, CategoryPrompt, CategoryGeneral}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// FilterByCategory returns the sorted names of tools in any of the given categories.
func (te *ToolExecutor) FilterByCategory(categories ...ToolCategory) []string {
	set := make(map[ToolCategory]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}

	te.mu.RLock()
	defer te.mu.RUnlock()

	names := []string{}
	for name, def := range te.tools {
		if set[def.Category] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ToolsByServer returns the sorted names of tools backed by the given server.
func (te *ToolExecutor) ToolsByServer(server string) []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := []string{}
	for name, def := range te.tools {
		if def.Server == server {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
