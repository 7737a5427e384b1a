package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/toolexecutor"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case agent.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel checks that a provider can be resolved for model.
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	_, _, err := agent.ProviderForModel(model)
	return err
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens cannot be negative, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	if _, err := zerolog.ParseLevel(level); err == nil && level != "" {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and reports every problem.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateModel(cfg.Model); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	// Servers
	seen := map[string]bool{}
	for i, server := range cfg.Servers {
		if err := server.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("server %d: %w", i, err))
			continue
		}
		if seen[server.Name] {
			errs = append(errs, fmt.Errorf("server %d: duplicate name %q", i, server.Name))
		}
		seen[server.Name] = true
	}

	// Agent
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		errs = append(errs, fmt.Errorf("agent: name is required"))
	}
	if cfg.Agent.Model != "" {
		if err := v.ValidateModel(cfg.Agent.Model); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", cfg.Agent.Name, err))
		}
	}

	// AI profiles
	for i, profile := range cfg.AI.Profiles {
		if profile.ID == "" {
			errs = append(errs, fmt.Errorf("AI profile %d: ID is required", i))
		}
		switch profile.Provider {
		case agent.ProviderAnthropic, agent.ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai)", profile.ID, profile.Provider))
			continue
		}
		if profile.APIKey == "" {
			errs = append(errs, fmt.Errorf("AI profile %s: api_key is required", profile.ID))
		}
	}

	// Run limits
	if err := v.ValidateTemperature(cfg.Run.Temperature); err != nil {
		errs = append(errs, fmt.Errorf("run: %w", err))
	}
	if err := v.ValidateMaxTokens(cfg.Run.MaxTokens); err != nil {
		errs = append(errs, fmt.Errorf("run: %w", err))
	}
	if cfg.Run.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("run.max_turns must be >= 0"))
	}
	if cfg.Run.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("run.max_retries must be >= 0"))
	}
	if cfg.Run.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("run.tool_timeout must be >= 0"))
	}

	for _, pattern := range append(append([]string{}, cfg.Tools.Allow...), cfg.Tools.Deny...) {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("tools: bad pattern %q: %w", pattern, err))
		}
	}
	toolexecutor.ValidatePolicy(cfg.ToolPolicy())

	if cfg.Session.History < 0 {
		errs = append(errs, fmt.Errorf("session.history must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
