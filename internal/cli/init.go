package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
)

// DefaultConfigFile is written by init when --config is not given.
const DefaultConfigFile = "mcpagent.yaml"

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration with the default agent and the bundled say and fetch
servers. API keys are not written; set ANTHROPIC_API_KEY and OPENAI_API_KEY in
the environment or in a .env file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = DefaultConfigFile
	}
	if err := writeStarterConfig(path, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", path)
	fmt.Fprintln(out, "\nSet ANTHROPIC_API_KEY or OPENAI_API_KEY, then try:")
	fmt.Fprintf(out, "  mcpagent --config %s tools\n", path)
	fmt.Fprintf(out, "  mcpagent --config %s run \"Fetch https://example.com and summarize it\"\n", path)
	return nil
}

func writeStarterConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	cfg := config.DefaultConfig()
	cfg.Servers = config.ExampleServers()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.NewLoader(path, config.WithEnvFile("")).Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}
