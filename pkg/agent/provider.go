package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/mcpagent/pkg/toolexecutor"
)

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []toolexecutor.ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      *TokenUsage
	StopReason string
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile. The key may
// reference an environment variable ($VAR or ${VAR}).
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	apiKey := os.ExpandEnv(profile.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: profile %s has no api key", ErrMissingCredential, profile.ID)
	}

	switch profile.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, profile.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// ProviderForModel resolves which provider serves model. An explicit
// "provider:model" prefix wins; otherwise the provider is inferred from
// well-known model name prefixes. The returned model has any prefix removed.
func ProviderForModel(model string) (provider string, name string, err error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", "", fmt.Errorf("model cannot be empty")
	}

	if i := strings.Index(model, ":"); i > 0 {
		provider = strings.ToLower(model[:i])
		name = model[i+1:]
		switch provider {
		case ProviderAnthropic, ProviderOpenAI:
			if name == "" {
				return "", "", fmt.Errorf("model name missing after %q", provider+":")
			}
			return provider, name, nil
		default:
			return "", "", fmt.Errorf("unsupported provider: %s", provider)
		}
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, model, nil
	case strings.HasPrefix(lower, "gpt"),
		strings.HasPrefix(lower, "chatgpt"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, model, nil
	}

	return "", "", fmt.Errorf("cannot infer provider for model %q; use anthropic:<model> or openai:<model>", model)
}

// CredentialEnvVar returns the environment variable holding a provider's key.
func CredentialEnvVar(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	}
	return strings.ToUpper(provider) + "_API_KEY"
}
