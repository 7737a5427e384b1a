package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/mcp"
)

// unsetenv clears key for the duration of the test. godotenv only sets
// variables that are absent, so t.Setenv(key, "") is not enough.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func isolateEnv(t *testing.T) {
	t.Helper()
	unsetenv(t, "ANTHROPIC_API_KEY")
	unsetenv(t, "OPENAI_API_KEY")
	unsetenv(t, ConfigPathEnv)
}

func exampleServer() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:    "say",
		Command: "go",
		Args:    []string{"run", "./cmd/say-server"},
		Timeout: 10 * time.Second,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/mcpagent.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/mcpagent.yaml", loader.configPath)
	assert.Equal(t, DefaultEnvFile, loader.envFile)

	loader = NewLoader("", WithEnvFile("custom.env"))
	assert.Equal(t, "custom.env", loader.envFile)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Model, cfg.Model)
		assert.Equal(t, DefaultInstructions, cfg.Agent.Instructions)
		assert.True(t, cfg.IncludeAllServers)
	})

	t.Run("yaml file", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")
		writeFile(t, configPath, `
model: claude-3-5-sonnet-latest
include_all_servers: false
agent:
  name: Speaker
  tools: ["say_*"]
servers:
  - name: say
    command: say-server
    args: ["--log-level", "debug"]
  - name: fetch
    base_url: http://localhost:8081/mcp
    timeout: 10s
run:
  max_turns: 6
  tool_timeout: 45s
tools:
  deny: ["fetch_headers"]
session:
  dir: /tmp/transcripts
  history: 2
`)

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()
		require.NoError(t, err)

		assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model)
		assert.False(t, cfg.IncludeAllServers)
		assert.Equal(t, "Speaker", cfg.Agent.Name)
		assert.Equal(t, []string{"say_*"}, cfg.Agent.Tools)
		// Unset keys keep their defaults.
		assert.Equal(t, DefaultInstructions, cfg.Agent.Instructions)
		require.Len(t, cfg.Servers, 2)
		assert.Equal(t, "say-server", cfg.Servers[0].Command)
		assert.Equal(t, []string{"--log-level", "debug"}, cfg.Servers[0].Args)
		assert.Equal(t, 10*time.Second, cfg.Servers[1].Timeout)
		assert.Equal(t, 6, cfg.Run.MaxTurns)
		assert.Equal(t, 45*time.Second, cfg.Run.ToolTimeout)
		assert.Equal(t, []string{"fetch_headers"}, cfg.Tools.Deny)
		assert.Equal(t, "/tmp/transcripts", cfg.Session.Dir)
		assert.Equal(t, 2, cfg.Session.History)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("json file", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "mcpagent.json")
		writeFile(t, configPath, `{
			"openai_api_key": "sk-from-file",
			"servers": [{"name": "fetch", "command": "fetch-server"}]
		}`)

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-from-file", cfg.OpenAIAPIKey)
		require.Len(t, cfg.Servers, 1)
		assert.Equal(t, "fetch", cfg.Servers[0].Name)
	})

	t.Run("server env keys are upper-cased", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("MCPAGENT_TEST_TOKEN", "tok-123")
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")
		writeFile(t, configPath, `
servers:
  - name: say
    command: say-server
    env:
      API_TOKEN: ${MCPAGENT_TEST_TOKEN}
      Voice: Alex
`)

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()
		require.NoError(t, err)
		require.Len(t, cfg.Servers, 1)
		// References are expanded when the server is spawned, not here.
		assert.Equal(t, map[string]string{"API_TOKEN": "${MCPAGENT_TEST_TOKEN}", "VOICE": "Alex"}, cfg.Servers[0].Env)
	})

	t.Run("environment overrides", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")
		writeFile(t, configPath, "model: gpt-4o-mini\n")
		t.Setenv("MCPAGENT_MODEL", "claude-3-5-haiku-latest")
		t.Setenv("MCPAGENT_RUN_MAX_TURNS", "3")
		t.Setenv("MCPAGENT_LOGGING_LEVEL", "debug")

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()
		require.NoError(t, err)
		assert.Equal(t, "claude-3-5-haiku-latest", cfg.Model)
		assert.Equal(t, 3, cfg.Run.MaxTurns)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("credentials from provider variables", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
		t.Setenv("OPENAI_API_KEY", "sk-env")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml"), WithEnvFile("")).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env", cfg.AnthropicAPIKey)
		assert.Equal(t, "sk-env", cfg.OpenAIAPIKey)
	})

	t.Run("file credentials win over provider variables", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-env")
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")
		writeFile(t, configPath, "openai_api_key: sk-file\n")

		cfg, err := NewLoader(configPath, WithEnvFile("")).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-file", cfg.OpenAIAPIKey)
	})

	t.Run("env file", func(t *testing.T) {
		isolateEnv(t)
		dir := t.TempDir()
		envPath := filepath.Join(dir, "test.env")
		writeFile(t, envPath, "ANTHROPIC_API_KEY=sk-ant-dotenv\nOPENAI_API_KEY=sk-dotenv\n")
		// Already-set variables win over the file.
		t.Setenv("OPENAI_API_KEY", "sk-process")

		cfg, err := NewLoader(filepath.Join(dir, "none.yaml"), WithEnvFile(envPath)).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-dotenv", cfg.AnthropicAPIKey)
		assert.Equal(t, "sk-process", cfg.OpenAIAPIKey)
	})

	t.Run("missing explicit env file", func(t *testing.T) {
		isolateEnv(t)
		dir := t.TempDir()

		_, err := NewLoader(filepath.Join(dir, "none.yaml"), WithEnvFile(filepath.Join(dir, "missing.env"))).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load env file")
	})

	t.Run("invalid file", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		writeFile(t, configPath, "invalid json")

		_, err := NewLoader(configPath, WithEnvFile("")).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save and reload", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")

		cfg := DefaultConfig()
		cfg.AnthropicAPIKey = "sk-ant-secret"
		cfg.Model = "claude-3-5-sonnet-latest"
		cfg.Run.ToolTimeout = 12 * time.Second
		cfg.Servers = append(cfg.Servers, exampleServer())

		loader := NewLoader(configPath, WithEnvFile(""))
		require.NoError(t, loader.Save(cfg))

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "sk-ant-secret")

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "claude-3-5-sonnet-latest", loaded.Model)
		assert.Equal(t, 12*time.Second, loaded.Run.ToolTimeout)
		assert.Empty(t, loaded.AnthropicAPIKey)
		require.Len(t, loaded.Servers, 1)
		assert.Equal(t, exampleServer().Command, loaded.Servers[0].Command)
		assert.Equal(t, exampleServer().Args, loaded.Servers[0].Args)
		assert.Equal(t, exampleServer().Timeout, loaded.Servers[0].Timeout)
	})

	t.Run("credentials are not written", func(t *testing.T) {
		isolateEnv(t)
		configPath := filepath.Join(t.TempDir(), "mcpagent.yaml")

		cfg := DefaultConfig()
		cfg.OpenAIAPIKey = "sk-openai-secret"
		cfg.Servers = []mcp.ServerConfig{
			{Name: "remote", BaseURL: "http://localhost:8081/mcp", APIKey: "srv-secret-token-123"},
			{Name: "remote-env", BaseURL: "http://localhost:8082/mcp", APIKey: "${REMOTE_TOKEN}"},
			{Name: "say", Command: "say-server", Env: map[string]string{"TOKEN": "${SAY_TOKEN}"}},
		}
		cfg.AI.Profiles = []agent.AuthProfile{
			{ID: "backup", Provider: agent.ProviderOpenAI, APIKey: "sk-profile-secret-456", Priority: 1},
			{ID: "env", Provider: agent.ProviderOpenAI, APIKey: "$BACKUP_OPENAI_KEY", Priority: 2},
		}

		loader := NewLoader(configPath, WithEnvFile(""))
		require.NoError(t, loader.Save(cfg))

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		text := string(data)
		assert.NotContains(t, text, "sk-openai-secret")
		assert.NotContains(t, text, "srv-secret-token-123")
		assert.NotContains(t, text, "sk-profile-secret-456")
		assert.Contains(t, text, "${REMOTE_TOKEN}")
		assert.Contains(t, text, "$BACKUP_OPENAI_KEY")
		assert.Contains(t, text, "${SAY_TOKEN}")

		loaded, err := loader.Load()
		require.NoError(t, err)
		require.Len(t, loaded.Servers, 3)
		assert.Empty(t, loaded.Servers[0].APIKey)
		assert.Equal(t, "${REMOTE_TOKEN}", loaded.Servers[1].APIKey)
		assert.Equal(t, map[string]string{"TOKEN": "${SAY_TOKEN}"}, loaded.Servers[2].Env)
		require.Len(t, loaded.AI.Profiles, 2)
		assert.Empty(t, loaded.AI.Profiles[0].APIKey)
		assert.Equal(t, "$BACKUP_OPENAI_KEY", loaded.AI.Profiles[1].APIKey)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "subdir", "mcpagent.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(configPath)
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "/from/env.yaml")
		assert.Equal(t, "/custom/path.yaml", NewLoader("/custom/path.yaml").GetConfigPath())
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, "/from/env.yaml")
		assert.Equal(t, "/from/env.yaml", NewLoader("").GetConfigPath())
	})

	t.Run("search working directory", func(t *testing.T) {
		unsetenv(t, ConfigPathEnv)
		dir := t.TempDir()
		t.Chdir(dir)

		assert.Equal(t, "", NewLoader("").GetConfigPath())

		writeFile(t, filepath.Join(dir, "mcpagent.json"), "{}")
		assert.Equal(t, "mcpagent.json", NewLoader("").GetConfigPath())
	})
}
