package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionStore(cmd, func(store *session.Store) error {
			return listSessions(cmd.OutOrStdout(), store)
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionStore(cmd, func(store *session.Store) error {
			return showSession(cmd.Context(), cmd.OutOrStdout(), store, args[0])
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete saved sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionStore(cmd, func(store *session.Store) error {
			for _, key := range args {
				if err := store.Delete(key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", key)
			}
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withSessionStore(cmd *cobra.Command, fn func(*session.Store) error) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := session.New(a.cfg.Session.Dir)
	if err != nil {
		return err
	}
	return fn(store)
}

func listSessions(w io.Writer, store *session.Store) error {
	keys, err := store.List()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintf(w, "No sessions in %s\n", store.Dir())
		return nil
	}
	for _, key := range keys {
		fmt.Fprintln(w, key)
	}
	return nil
}

func showSession(ctx context.Context, w io.Writer, store *session.Store, key string) error {
	msgs, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("session %q not found", key)
	}
	for _, msg := range msgs {
		fmt.Fprintf(w, "[%s] %s", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), msg.Role)
		if len(msg.ToolCalls) > 0 {
			fmt.Fprintf(w, " (tools: %s)", strings.Join(msg.ToolCalls, ", "))
		}
		fmt.Fprintf(w, "\n%s\n\n", msg.Content)
	}
	return nil
}
