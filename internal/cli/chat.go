package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/session"
)

var (
	chatServers []string
	chatWatch   bool
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent interactively",
	Long: `Read questions from stdin and answer each with a separate agent run. The
config file is watched; edits to servers, model or instructions apply to the
next question. With --session the exchange is saved and earlier answers are
sent along with each new question. Type "exit" or "quit" to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringSliceVar(&chatServers, "server", nil, "only use these servers (repeatable)")
	chatCmd.Flags().BoolVar(&chatWatch, "watch", true, "reload the config file when it changes")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "save the conversation under this name and resume it")
	rootCmd.AddCommand(chatCmd)
}

// liveConfig holds the config in use, swapped on reload.
type liveConfig struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (l *liveConfig) get() *config.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *liveConfig) set(cfg *config.Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}

	live := &liveConfig{cfg: a.cfg}
	errOut := cmd.ErrOrStderr()
	if chatWatch && a.loader.GetConfigPath() != "" {
		w, err := a.loader.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				fmt.Fprintf(errOut, "config reload failed, keeping previous config: %v\n", err)
				return
			}
			applyFlags(cmd, cfg)
			live.set(cfg)
			fmt.Fprintln(errOut, "config reloaded")
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("Config watch disabled")
		} else {
			defer w.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ask := func(ctx context.Context, question string) (*agent.RunResult, error) {
		cfg := live.get()
		runCfg, err := cfg.RunConfig(chatServers...)
		if err != nil {
			return nil, err
		}
		return runner.Run(ctx, cfg.NewAgent(), question, runCfg)
	}
	if chatSession != "" {
		if err := session.ValidateKey(chatSession); err != nil {
			return err
		}
		store, err := session.New(a.cfg.Session.Dir)
		if err != nil {
			return err
		}
		ask = withTranscript(store, chatSession, func() int { return live.get().Session.History }, ask)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s. Type \"exit\" to quit.\n", a.cfg.Agent.Name)
	return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), ask)
}

// chatLoop prompts on out, reads questions from in and prints each answer.
// Failed runs are reported and the loop continues. Cancelling ctx ends the
// loop even while it waits for input.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, ask func(context.Context, string) (*agent.RunResult, error)) error {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-readErr
			}
			line = l
		}

		question := strings.TrimSpace(line)
		if question == "" {
			continue
		}
		if isExitCommand(question) {
			return nil
		}

		result, err := ask(ctx, question)
		if ctx.Err() != nil {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result.Output)
	}
}

// readLines scans in on its own goroutine. lines is closed at EOF, after the
// scan error (nil on a clean EOF) is sent on errc. Closing done stops it
// between lines.
func readLines(in io.Reader, done <-chan struct{}) (lines <-chan string, errc <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-done:
				return
			}
		}
		errs <- scanner.Err()
	}()
	return out, errs
}

// withTranscript saves every answered question under key and sends the last
// history() exchanges along with each new question.
func withTranscript(store *session.Store, key string, history func() int, ask func(context.Context, string) (*agent.RunResult, error)) func(context.Context, string) (*agent.RunResult, error) {
	return func(ctx context.Context, question string) (*agent.RunResult, error) {
		msgs, err := store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		input := question
		if n := history(); n > 0 {
			input = session.WithHistory(session.Exchanges(msgs, n), question)
		}

		result, err := ask(ctx, input)
		if err != nil || result.Aborted || result.Output == "" {
			return result, err
		}

		calls := make([]string, 0, len(result.ToolCalls))
		for _, c := range result.ToolCalls {
			calls = append(calls, c.Name)
		}
		if err := store.Append(ctx, key, session.Message{Role: session.RoleUser, Content: question}); err != nil {
			return result, err
		}
		if err := store.Append(ctx, key, session.Message{
			Role:      session.RoleAssistant,
			Content:   result.Output,
			RunID:     result.RunID,
			Model:     result.Model,
			ToolCalls: calls,
		}); err != nil {
			return result, err
		}
		return result, nil
	}
}

func isExitCommand(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit", "/exit", "/quit", ":q":
		return true
	}
	return false
}
