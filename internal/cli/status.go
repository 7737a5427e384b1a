package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/pkg/mcp"
)

var statusServers []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the configured MCP servers start",
	Long: `Connect to each configured MCP server, report what it offers and how long
the handshake took, then shut it down again.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringSliceVar(&statusServers, "server", nil, "only check these servers (repeatable)")
	rootCmd.AddCommand(statusCmd)
}

// serverStatus is the outcome of probing one server.
type serverStatus struct {
	Name      string
	Transport mcp.TransportKind
	Caps      mcp.Capabilities
	Tools     int
	Latency   time.Duration
	Err       error
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	servers, err := selectServers(a.cfg.Servers, statusServers)
	if err != nil {
		return err
	}

	statuses := make([]serverStatus, 0, len(servers))
	failed := 0
	for _, server := range servers {
		st := checkServer(cmd.Context(), server, a.logger())
		if st.Err != nil {
			failed++
		}
		statuses = append(statuses, st)
	}

	writeStatus(cmd.OutOrStdout(), statuses)
	if failed > 0 {
		return fmt.Errorf("%d of %d servers unavailable", failed, len(servers))
	}
	return nil
}

func checkServer(ctx context.Context, server mcp.ServerConfig, logger zerolog.Logger) serverStatus {
	st := serverStatus{Name: server.Name, Transport: server.Transport()}

	opts := append([]mcp.AdapterOption{mcp.WithLogger(logger)}, adapterOptions...)
	adapter, err := mcp.NewServerAdapter(server, opts...)
	if err != nil {
		st.Err = err
		return st
	}
	defer adapter.Stop()

	start := time.Now()
	if err := adapter.Start(ctx); err != nil {
		st.Err = err
		return st
	}
	st.Latency = time.Since(start)

	if st.Caps, err = adapter.Capabilities(ctx); err != nil {
		st.Err = err
		return st
	}
	if st.Caps.Tools {
		tools, err := adapter.Tools(ctx)
		if err != nil {
			st.Err = err
			return st
		}
		st.Tools = len(tools)
	}
	return st
}

func writeStatus(w io.Writer, statuses []serverStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tTRANSPORT\tSTATUS\tTOOLS\tOFFERS\tSTARTUP")
	for _, st := range statuses {
		if st.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\terror: %v\t-\t-\t-\n", st.Name, st.Transport, st.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\tok\t%d\t%s\t%s\n", st.Name, st.Transport, st.Tools, offers(st.Caps), formatDuration(st.Latency))
	}
	tw.Flush()
}

func offers(caps mcp.Capabilities) string {
	var parts []string
	if caps.Tools {
		parts = append(parts, "tools")
	}
	if caps.Resources {
		parts = append(parts, "resources")
	}
	if caps.Prompts {
		parts = append(parts, "prompts")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
