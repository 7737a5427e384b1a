package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/internal/metrics"
	"github.com/harun/mcpagent/internal/observability"
	"github.com/harun/mcpagent/internal/tracing"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/mcp"
)

const shutdownTimeout = 5 * time.Second

// app holds what every command needs once the config is loaded.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Server
	tracing bool
}

// newLoader builds the config loader from the global flags.
func newLoader() *config.Loader {
	return config.NewLoader(cfgFile, config.WithEnvFile(envFile))
}

// setup loads and validates the config, then starts logging, tracing,
// audit and metrics as configured. Call close when done.
func setup(cmd *cobra.Command) (*app, error) {
	loader := newLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{loader: loader, cfg: cfg, log: lg}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.tracing = true
	}
	if cfg.Audit.Path != "" {
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	if cfg.Metrics.Addr != "" {
		s, err := metrics.Start(cfg.Metrics.Addr, lg.GetZerolog())
		if err != nil {
			a.close()
			return nil, err
		}
		a.metrics = s
	}

	return a, nil
}

// applyFlags lets explicitly set global flags win over the config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Stderr:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
}

func (a *app) logger() zerolog.Logger {
	return a.log.GetZerolog()
}

func (a *app) newRunner() (*agent.Runner, error) {
	zl := a.logger()
	return agent.NewRunner(agent.Config{
		Logger:     &zl,
		MCPOptions: []mcp.ProviderOption{mcp.WithAdapterOptions(adapterOptions...)},
	})
}

func (a *app) close() {
	if a.metrics != nil {
		a.metrics.Shutdown(shutdownTimeout)
	}
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close audit log")
	}
	_ = a.log.Close()
}
