package toolexecutor

import (
	"path"
	"sort"

	"github.com/rs/zerolog/log"
)

// ToolPolicy defines which tools an agent can use. Entries are tool names or
// shell-style globs such as "fetch*"; "*" matches every tool.
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	// Deny overrides allow.
	for _, denied := range tp.Deny {
		if matchTool(denied, toolName) {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if matchTool(allowed, toolName) {
			return true
		}
	}

	return false
}

func matchTool(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// ValidatePolicy warns about policies that deny everything.
func ValidatePolicy(policy *ToolPolicy) {
	if policy == nil {
		return
	}

	hasAllowWildcard, hasDenyWildcard := false, false
	for _, allowed := range policy.Allow {
		if allowed == "*" {
			hasAllowWildcard = true
		}
	}
	for _, denied := range policy.Deny {
		if denied == "*" {
			hasDenyWildcard = true
		}
	}

	if hasAllowWildcard && hasDenyWildcard {
		log.Warn().Msg("Policy has both allow and deny wildcards - deny will override allow")
	}
	if len(policy.Allow) == 0 {
		log.Warn().Msg("Policy has empty allow list - all tools will be denied by default")
	}
}

// MergePolicies merges policies into one whose allow list is the intersection
// of all allow lists and whose deny list is the union of all deny lists.
func MergePolicies(policies ...*ToolPolicy) *ToolPolicy {
	valid := []*ToolPolicy{}
	for _, p := range policies {
		if p != nil {
			valid = append(valid, p)
		}
	}

	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	}

	denySet := make(map[string]bool)
	for _, policy := range valid {
		for _, denied := range policy.Deny {
			denySet[denied] = true
		}
	}

	allowSet := make(map[string]bool)
	for _, allowed := range valid[0].Allow {
		allowSet[allowed] = true
	}
	for _, policy := range valid[1:] {
		other := make(map[string]bool)
		for _, allowed := range policy.Allow {
			other[allowed] = true
		}

		next := make(map[string]bool)
		for allowed := range allowSet {
			if other[allowed] || other["*"] {
				next[allowed] = true
			}
		}
		if allowSet["*"] {
			for allowed := range other {
				next[allowed] = true
			}
		}
		allowSet = next
	}

	return &ToolPolicy{Allow: sortedKeys(allowSet), Deny: sortedKeys(denySet)}
}

// FilterToolsByPolicy filters a list of tools based on a policy
func FilterToolsByPolicy(tools []string, policy *ToolPolicy) []string {
	if policy == nil {
		return tools
	}

	filtered := []string{}
	for _, tool := range tools {
		if policy.IsToolAllowed(tool) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
