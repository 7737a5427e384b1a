package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/pkg/agent"
)

// Separator is printed after each answer.
var Separator = strings.Repeat("-", 50)

var (
	runServers   []string
	runJSON      bool
	runShowTools bool
)

var runCmd = &cobra.Command{
	Use:   "run [query...]",
	Short: "Run queries against the configured agent",
	Long: `Run each query once against the configured agent and MCP servers and print
the answers. Without arguments, queries are read from stdin, one per line.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runServers, "server", nil, "only use these servers (repeatable)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print each result as JSON")
	runCmd.Flags().BoolVar(&runShowTools, "show-tools", false, "print tool calls to stderr as they happen")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	queries := args
	if len(queries) == 0 {
		var err error
		if queries, err = readQueries(cmd.InOrStdin()); err != nil {
			return err
		}
	}
	if len(queries) == 0 {
		return fmt.Errorf("no queries given")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	runCfg, err := a.cfg.RunConfig(runServers...)
	if err != nil {
		return err
	}
	if runShowTools {
		runCfg.Hooks = toolHooks(cmd.ErrOrStderr())
	}
	runner, err := a.newRunner()
	if err != nil {
		return err
	}
	assistant := a.cfg.NewAgent()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	for _, query := range queries {
		fmt.Fprintf(out, "Query: %s\n", query)
		result, err := runner.Run(ctx, assistant, query, runCfg)
		if err != nil {
			return fmt.Errorf("run %q: %w", query, err)
		}
		if err := printResult(out, result, runJSON); err != nil {
			return err
		}
		if result.Aborted {
			return ctx.Err()
		}
	}
	return nil
}

// readQueries returns the non-blank lines of r.
func readQueries(r io.Reader) ([]string, error) {
	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			queries = append(queries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	return queries, nil
}

func printResult(w io.Writer, result *agent.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	output := result.Output
	if result.Aborted {
		output = "(aborted)"
	}
	fmt.Fprintf(w, "Response: %s\n", output)
	fmt.Fprintln(w, Separator)
	return nil
}

// toolHooks reports tool activity to w.
func toolHooks(w io.Writer) *agent.RunHooks {
	return &agent.RunHooks{
		OnToolCall: func(call agent.ToolCall) {
			args, _ := json.Marshal(call.Parameters)
			fmt.Fprintf(w, "-> %s %s\n", call.Name, args)
		},
		OnToolResult: func(call agent.ToolCall, result agent.ToolResult) {
			if result.Error != "" {
				fmt.Fprintf(w, "<- %s failed: %s\n", call.Name, result.Error)
				return
			}
			fmt.Fprintf(w, "<- %s (%s)\n", call.Name, formatDuration(result.Duration))
		},
	}
}
