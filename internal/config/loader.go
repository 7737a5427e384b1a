package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harun/mcpagent/pkg/agent"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MCPAGENT_MODEL.
	EnvPrefix = "MCPAGENT"
	// ConfigPathEnv names a config file when no path is given.
	ConfigPathEnv = "MCPAGENT_CONFIG"
	// DefaultEnvFile is loaded when present.
	DefaultEnvFile = ".env"
)

// searchNames are tried in the working directory when no path is given.
var searchNames = []string{"mcpagent.yaml", "mcpagent.yml", "mcpagent.json", "mcpagent.toml"}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithEnvFile loads KEY=VALUE pairs from path before reading the
// environment. Variables already set in the process win.
func WithEnvFile(path string) LoaderOption {
	return func(l *Loader) { l.envFile = path }
}

// NewLoader creates a new config loader
func NewLoader(configPath string, opts ...LoaderOption) *Loader {
	l := &Loader{
		configPath: configPath,
		envFile:    DefaultEnvFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads the configuration. A missing config file yields the defaults,
// still subject to environment overrides.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if l.configPath != "" && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyCredentialEnv(cfg)
	normalizeServers(cfg)

	return cfg, nil
}

func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	err := godotenv.Load(l.envFile)
	if err == nil {
		return nil
	}
	// The default file is optional; an explicitly named one is not.
	if l.envFile == DefaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
}

// setDefaults registers scalar keys so environment overrides reach them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model", cfg.Model)
	v.SetDefault("include_all_servers", cfg.IncludeAllServers)
	v.SetDefault("anthropic_api_key", cfg.AnthropicAPIKey)
	v.SetDefault("openai_api_key", cfg.OpenAIAPIKey)

	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.instructions", cfg.Agent.Instructions)
	v.SetDefault("agent.model", cfg.Agent.Model)

	v.SetDefault("run.max_turns", cfg.Run.MaxTurns)
	v.SetDefault("run.max_retries", cfg.Run.MaxRetries)
	v.SetDefault("run.max_tokens", cfg.Run.MaxTokens)
	v.SetDefault("run.temperature", cfg.Run.Temperature)
	v.SetDefault("run.tool_timeout", cfg.Run.ToolTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("audit.path", cfg.Audit.Path)
	v.SetDefault("session.dir", cfg.Session.Dir)
	v.SetDefault("session.history", cfg.Session.History)
}

// applyCredentialEnv fills empty keys from the provider variables.
func applyCredentialEnv(cfg *Config) {
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv(agent.CredentialEnvVar(agent.ProviderAnthropic))
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv(agent.CredentialEnvVar(agent.ProviderOpenAI))
	}
}

// normalizeServers restores upper-case environment variable names, which
// the config reader folds to lower case. Values keep their $VAR references.
func normalizeServers(cfg *Config) {
	for i := range cfg.Servers {
		if len(cfg.Servers[i].Env) == 0 {
			continue
		}
		env := make(map[string]string, len(cfg.Servers[i].Env))
		for k, val := range cfg.Servers[i].Env {
			env[strings.ToUpper(k)] = val
		}
		cfg.Servers[i].Env = env
	}
}

// Save saves the configuration to file. The format follows the extension.
// API keys are not written.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		configPath = searchNames[0]
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	values, err := saveValues(cfg)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	for key, value := range values {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// saveValues flattens cfg into config keys. Durations are written as
// strings such as "30s". API keys are left out unless they only reference
// an environment variable.
func saveValues(cfg *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	values := map[string]interface{}{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	delete(values, "anthropic_api_key")
	delete(values, "openai_api_key")

	if run, ok := values["run"].(map[string]interface{}); ok {
		run["tool_timeout"] = cfg.Run.ToolTimeout.String()
	}
	if servers, ok := values["servers"].([]interface{}); ok {
		for i, s := range servers {
			server, ok := s.(map[string]interface{})
			if !ok || i >= len(cfg.Servers) {
				continue
			}
			if cfg.Servers[i].Timeout > 0 {
				server["timeout"] = cfg.Servers[i].Timeout.String()
			}
			dropSecret(server, cfg.Servers[i].APIKey)
		}
	}
	if ai, ok := values["ai"].(map[string]interface{}); ok {
		if profiles, ok := ai["profiles"].([]interface{}); ok {
			for i, p := range profiles {
				profile, ok := p.(map[string]interface{})
				if !ok || i >= len(cfg.AI.Profiles) {
					continue
				}
				dropSecret(profile, cfg.AI.Profiles[i].APIKey)
			}
		}
	}
	return values, nil
}

func dropSecret(entry map[string]interface{}, key string) {
	if envReference.MatchString(key) {
		return
	}
	delete(entry, "api_key")
}

var envReference = regexp.MustCompile(`^\$(\{[A-Za-z_][A-Za-z0-9_]*\}|[A-Za-z_][A-Za-z0-9_]*)$`)

// GetConfigPath returns the config file path: the explicit path, then
// $MCPAGENT_CONFIG, then the first mcpagent.* file in the working directory.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	if env := os.Getenv(ConfigPathEnv); env != "" {
		return env
	}
	for _, name := range searchNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string, opts ...LoaderOption) (*Config, error) {
	return NewLoader(configPath, opts...).Load()
}
