package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/resources"
	"github.com/teemow/calmcp/internal/server"
	"github.com/teemow/calmcp/internal/tools/calendar_tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// serveOptions collects the serve command flags.
type serveOptions struct {
	Transport        string
	Debug            bool
	HTTPAddr         string
	Yolo             bool
	DisableStreaming bool
	ConfigPath       string
	Backend          string
	Timezone         string
	BusinessDays     string
	TLSCertFile      string
	TLSKeyFile       string
	Metrics          MetricsConfig
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the calendar MCP server.

The server exposes create_event, update_event, delete_event and query_events
as MCP tools and the active scheduling policy as the calendar://policy
resource. Write tools are only registered with --yolo.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport behind an authenticating proxy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("metrics-enabled") {
				if v := os.Getenv("METRICS_ENABLED"); v != "" {
					opts.Metrics.Enabled = v == "true"
				}
			}
			if !cmd.Flags().Changed("metrics-addr") {
				if addr := os.Getenv("METRICS_ADDR"); addr != "" {
					opts.Metrics.Addr = addr
				}
			}
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.Transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&opts.Yolo, "yolo", false, "Enable write tools (create_event, update_event, delete_event)")
	cmd.Flags().BoolVar(&opts.DisableStreaming, "disable-streaming", false, "Disable streaming for streamable-http transport (for clients that don't support it)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to the YAML config file (default: $XDG_CONFIG_HOME/calmcp/config.yaml)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "Calendar backend: google, caldav or memory (overrides config)")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "", "Default IANA timezone (overrides config)")
	cmd.Flags().StringVar(&opts.BusinessDays, "business-days", "", "Comma-separated working days that suggested alternatives are limited to, e.g. mon,tue,wed (enables business hours)")
	cmd.Flags().StringVar(&opts.TLSCertFile, "tls-cert-file", "", "TLS certificate file for HTTPS")
	cmd.Flags().StringVar(&opts.TLSKeyFile, "tls-key-file", "", "TLS key file for HTTPS")

	// Metrics server flags
	cmd.Flags().BoolVar(&opts.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(opts serveOptions) error {
	switch opts.Transport {
	case "stdio", "streamable-http":
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", opts.Transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(opts.Transport, opts.Debug)
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts.ConfigPath, configOverrides{
		Backend:      opts.Backend,
		Timezone:     opts.Timezone,
		BusinessDays: parseCommaSeparatedList(opts.BusinessDays),
	})
	if err != nil {
		return err
	}

	instrConfig, err := instrumentation.ConfigFromEnv()
	if err != nil {
		return err
	}
	instrConfig.ServiceVersion = version
	instrConfig.Backend = cfg.Backend

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("error during instrumentation shutdown", "error", err)
		}
	}()

	// Start metrics server if enabled and not in stdio mode
	if opts.Transport != "stdio" && opts.Metrics.Enabled && provider.Enabled() {
		metricsServer, err := startMetricsServer(opts.Metrics, provider, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("error during metrics server shutdown", "error", err)
			}
		}()
	}

	var audit *instrumentation.AuditLogger
	if provider.Enabled() {
		audit = instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)
	}

	// readOnly is the inverse of yolo
	readOnly := !opts.Yolo

	serverContext, err := buildApp(shutdownCtx, appOptions{
		Config:   cfg,
		Logger:   logger,
		Provider: provider,
		Audit:    audit,
		ReadOnly: readOnly,
		Sweep:    true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", "error", err)
		}
	}()
	serverContext.Sessions().Start()

	if readOnly {
		logger.Info("starting server in READ-ONLY mode (use --yolo to enable write tools)")
	} else {
		logger.Info("starting server with WRITE tools enabled (--yolo flag is set)")
	}

	mcpSrv, err := newMCPServer(serverContext)
	if err != nil {
		return err
	}

	// Start the appropriate server based on transport type
	switch opts.Transport {
	case "stdio":
		return runStdioServer(mcpSrv)
	default:
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, serverContext, opts, logger)
	}
}

// newMCPServer creates the MCP server and registers the calendar tools and
// the policy resource.
func newMCPServer(sc *server.ServerContext) (*mcpserver.MCPServer, error) {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		sc.Sessions().RemoveSession(ctx, session.SessionID())
	})

	mcpSrv := mcpserver.NewMCPServer("calmcp", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
		mcpserver.WithHooks(hooks),
	)

	if err := registerAll(mcpSrv, sc); err != nil {
		return nil, err
	}
	return mcpSrv, nil
}

// registerAll registers all MCP tools and resources.
func registerAll(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext) error {
	registrations := []struct {
		name     string
		register func() error
	}{
		{
			name: "Calendar",
			register: func() error {
				return calendar_tools.RegisterCalendarTools(mcpSrv, sc)
			},
		},
		{
			name: "Policy Resources",
			register: func() error {
				return resources.RegisterResources(mcpSrv, sc)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.name, err)
		}
	}
	return nil
}

func startMetricsServer(mc MetricsConfig, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(mc.Addr, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	if err := metricsServer.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := metricsServer.Serve(); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return metricsServer, nil
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, opts serveOptions, logger *slog.Logger) error {
	httpServer := server.NewHTTPServer(mcpSrv, sc, server.HTTPConfig{
		Addr:             opts.HTTPAddr,
		DisableStreaming: opts.DisableStreaming,
		TLSCertFile:      opts.TLSCertFile,
		TLSKeyFile:       opts.TLSKeyFile,
	})

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}

// parseCommaSeparatedList splits a flag value such as "mon, tue,wed" into
// its trimmed, non-empty items. It returns nil when there are none.
func parseCommaSeparatedList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
