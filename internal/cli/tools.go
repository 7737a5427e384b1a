package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/pkg/mcp"
)

// adapterOptions are applied to every server the CLI opens.
var adapterOptions []mcp.AdapterOption

var (
	toolsServers   []string
	toolsResources bool
	toolsPrompts   bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of the configured MCP servers",
	Long: `Connect to each configured MCP server and list the tools it exposes, and
optionally its resources and prompts.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringSliceVar(&toolsServers, "server", nil, "only inspect these servers (repeatable)")
	toolsCmd.Flags().BoolVar(&toolsResources, "resources", false, "also list resources")
	toolsCmd.Flags().BoolVar(&toolsPrompts, "prompts", false, "also list prompts")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	servers, err := selectServers(a.cfg.Servers, toolsServers)
	if err != nil {
		return err
	}

	zl := a.logger()
	provider, err := mcp.NewToolProvider(servers,
		mcp.WithProviderLogger(zl),
		mcp.WithAdapterOptions(adapterOptions...),
	)
	if err != nil {
		return err
	}
	defer provider.Close()

	return listServers(cmd.Context(), cmd.OutOrStdout(), provider, toolsResources, toolsPrompts)
}

// selectServers returns the servers called names, all of them when names is
// empty.
func selectServers(servers []mcp.ServerConfig, names []string) ([]mcp.ServerConfig, error) {
	if len(servers) == 0 {
		return nil, mcp.ErrNoServers
	}
	if len(names) == 0 {
		return servers, nil
	}
	byName := make(map[string]mcp.ServerConfig, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	selected := make([]mcp.ServerConfig, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", mcp.ErrUnknownServer, name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

func listServers(ctx context.Context, w io.Writer, provider *mcp.ToolProvider, resources, prompts bool) error {
	for _, server := range provider.Servers() {
		adapter, err := provider.Adapter(ctx, server.Name)
		if err != nil {
			return err
		}

		tools, err := adapter.Tools(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%s)\n", server.Name, server.Transport())
		writeTools(w, tools)

		if resources {
			list, err := adapter.ListResources(ctx)
			if err != nil {
				return err
			}
			writeResources(w, list)
		}
		if prompts {
			list, err := adapter.ListPrompts(ctx)
			if err != nil {
				return err
			}
			writePrompts(w, list)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeTools(w io.Writer, tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "  no tools")
		return
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	for _, t := range tools {
		fmt.Fprintf(w, "  %s%s\n", t.Name, describe(t.Description))
		if params := schemaParams(t.InputSchema); len(params) > 0 {
			fmt.Fprintf(w, "    params: %s\n", strings.Join(params, ", "))
		}
	}
}

func writeResources(w io.Writer, resources []mcp.Resource) {
	fmt.Fprintln(w, "  resources:")
	if len(resources) == 0 {
		fmt.Fprintln(w, "    none")
		return
	}
	for _, r := range resources {
		fmt.Fprintf(w, "    %s%s\n", r.URI, describe(r.Description))
	}
}

func writePrompts(w io.Writer, prompts []mcp.Prompt) {
	fmt.Fprintln(w, "  prompts:")
	if len(prompts) == 0 {
		fmt.Fprintln(w, "    none")
		return
	}
	for _, p := range prompts {
		args := make([]string, 0, len(p.Arguments))
		for _, arg := range p.Arguments {
			if arg.Required {
				args = append(args, arg.Name)
			} else {
				args = append(args, arg.Name+"?")
			}
		}
		fmt.Fprintf(w, "    %s(%s)%s\n", p.Name, strings.Join(args, ", "), describe(p.Description))
	}
}

func describe(description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return ""
	}
	if i := strings.IndexByte(description, '\n'); i >= 0 {
		description = description[:i]
	}
	return " - " + description
}

// schemaParams lists the properties of a JSON schema, required ones first
// and optional ones marked with "?".
func schemaParams(schema map[string]interface{}) []string {
	props, _ := schema["properties"].(map[string]interface{})
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})
	for i, name := range names {
		if !required[name] {
			names[i] = name + "?"
		}
	}
	return names
}
