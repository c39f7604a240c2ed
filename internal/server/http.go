package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/calendar"
)

// AccountHeader selects the calendar account for HTTP requests. It is set by
// the OAuth proxy in front of the server.
const AccountHeader = "X-Calendar-Account"

// HTTPConfig configures the streamable HTTP transport.
type HTTPConfig struct {
	Addr             string
	DisableStreaming bool
	TLSCertFile      string
	TLSKeyFile       string
}

// HTTPServer serves the MCP streamable HTTP transport together with the
// health endpoints.
type HTTPServer struct {
	mcpServer  *mcpserver.MCPServer
	sc         *ServerContext
	health     *HealthChecker
	config     HTTPConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// NewHTTPServer creates the HTTP transport for mcpServer.
func NewHTTPServer(mcpServer *mcpserver.MCPServer, sc *ServerContext, cfg HTTPConfig) *HTTPServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &HTTPServer{
		mcpServer: mcpServer,
		sc:        sc,
		health:    NewHealthChecker(sc),
		config:    cfg,
		logger:    sc.Logger(),
	}
}

// Health returns the health checker so callers can flip readiness.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Handler returns the HTTP handler with all routes registered.
func (s *HTTPServer) Handler() http.Handler {
	opts := []mcpserver.StreamableHTTPOption{
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(s.requestContext),
	}
	if s.config.DisableStreaming {
		opts = append(opts, mcpserver.WithDisableStreaming(true))
	}
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer, opts...)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	s.health.RegisterHealthEndpoints(mux)
	return s.instrument(mux)
}

// requestContext binds the account chosen by the proxy, if any, to the call.
func (s *HTTPServer) requestContext(ctx context.Context, r *http.Request) context.Context {
	if account := r.Header.Get(AccountHeader); account != "" {
		ctx = calendar.WithCredential(ctx, calendar.Credential{Account: account})
		if id, err := ResolveSessionID(r); err == nil {
			s.sc.Sessions().SetAccountForSession(ctx, id, account)
		}
	}
	return ctx
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.sc.Metrics().RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting streamable HTTP server", "addr", s.config.Addr, "endpoint", "/mcp")

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
