package toolserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/internal/metrics"
	"github.com/harun/mcpagent/internal/observability"
)

const (
	// DefaultPath is where the streamable HTTP endpoint is mounted.
	DefaultPath            = "/mcp"
	defaultShutdownTimeout = 5 * time.Second
)

// Options controls how a server is exposed.
type Options struct {
	// HTTPAddr switches from stdio to streamable HTTP on this address.
	HTTPAddr string
	// Path of the HTTP endpoint, DefaultPath when empty.
	Path string
	// MetricsAddr serves Prometheus metrics at /metrics when set.
	MetricsAddr string
	Logger      *zerolog.Logger
	// Transport replaces stdio when HTTPAddr is empty.
	Transport       sdkmcp.Transport
	ShutdownTimeout time.Duration
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}

// Serve runs server until ctx is done or the transport fails.
func Serve(ctx context.Context, server *sdkmcp.Server, opts Options) error {
	logger := opts.logger()
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	if opts.MetricsAddr != "" {
		metricsServer, err := metrics.Start(opts.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer metricsServer.Shutdown(opts.ShutdownTimeout)
	}

	if opts.HTTPAddr != "" {
		return serveHTTP(ctx, server, opts, logger)
	}

	transport := opts.Transport
	if transport == nil {
		transport = &sdkmcp.StdioTransport{}
	}
	logger.Info().Msg("Serving MCP over stdio")
	if err := server.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler for server mounted at path,
// plus a /healthz endpoint.
func Handler(server *sdkmcp.Server, path string) http.Handler {
	if path == "" {
		path = DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return server }, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func serveHTTP(ctx context.Context, server *sdkmcp.Server, opts Options, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.HTTPAddr, err)
	}

	httpServer := &http.Server{
		Handler:           Handler(server, opts.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	logger.Info().Str("addr", listener.Addr().String()).Str("path", pathOrDefault(opts.Path)).Msg("Serving MCP over HTTP")

	select {
	case <-ctx.Done():
		shutdown(httpServer, opts.ShutdownTimeout, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	}
}

func pathOrDefault(path string) string {
	if path == "" {
		return DefaultPath
	}
	return path
}

func shutdown(server *http.Server, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown timeout reached, forcing close")
		_ = server.Close()
	}
}

// TextResult wraps text in a successful tool result.
func TextResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}}}
}

// ErrorResult builds a tool result the client sees as a tool error.
func ErrorResult(format string, args ...any) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// AddTool registers a typed tool handler on server and records a request
// metric for every call. Handler errors reach the client as tool errors.
func AddTool[In any](server *sdkmcp.Server, serverName string, tool *sdkmcp.Tool, handler func(context.Context, In) (*sdkmcp.CallToolResult, error)) {
	sdkmcp.AddTool(server, tool, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
		start := time.Now()
		res, err := handler(ctx, in)

		success := err == nil && (res == nil || !res.IsError)
		observability.RecordServerToolRequest(serverName, tool.Name, success)
		log.Debug().
			Str("server", serverName).
			Str("tool", tool.Name).
			Bool("success", success).
			Dur("duration", time.Since(start)).
			Msg("Tool request handled")

		return res, nil, err
	})
}

// BuildFunc creates the server a command exposes.
type BuildFunc func(logger zerolog.Logger) (*sdkmcp.Server, error)

// NewCommand returns a cobra command that builds a server and serves it over
// stdio, or HTTP with --http. Logs always go to stderr.
func NewCommand(use, short string, build BuildFunc) *cobra.Command {
	var (
		httpAddr    string
		path        string
		metricsAddr string
		logLevel    string
		logFile     string
	)

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := logger.DefaultConfig()
			cfg.Level = logLevel
			cfg.File = logFile
			lg, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer lg.Close()
			zl := lg.GetZerolog().With().Str("server", use).Logger()

			server, err := build(zl)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Serve(ctx, server, Options{
				HTTPAddr:    httpAddr,
				Path:        path,
				MetricsAddr: metricsAddr,
				Logger:      &zl,
			})
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&path, "path", DefaultPath, "HTTP endpoint path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	return cmd
}
