package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/calmcp/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is where the scrape endpoint listens unless
	// --metrics-addr says otherwise.
	DefaultMetricsAddr = ":9090"

	// DefaultShutdownTimeout bounds graceful shutdown of both HTTP servers.
	DefaultShutdownTimeout = 30 * time.Second

	metricsReadHeaderTimeout = 10 * time.Second
	metricsWriteTimeout      = 10 * time.Second
	metricsIdleTimeout       = 60 * time.Second
)

// MetricsServer exposes the prometheus registry on its own listener, apart
// from the MCP endpoint, so scrapes never pass through the OAuth proxy.
type MetricsServer struct {
	addr     string
	handler  http.Handler
	logger   *slog.Logger
	listener net.Listener
	srv      *http.Server
}

// NewMetricsServer checks that provider can serve scrapes. An empty addr
// means DefaultMetricsAddr.
func NewMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*MetricsServer, error) {
	switch {
	case provider == nil:
		return nil, errors.New("instrumentation provider is required for metrics server")
	case !provider.Enabled():
		return nil, errors.New("instrumentation provider is not enabled")
	case provider.MetricsHandler() == nil:
		return nil, errors.New("metrics server requires the prometheus exporter")
	}
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{
		addr:    addr,
		handler: provider.MetricsHandler(),
		logger:  logger.With("component", "metrics"),
	}, nil
}

// Handler routes /metrics to the registry and answers /healthz itself.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Listen binds the address so that a port conflict is reported before the
// MCP transport starts. After Listen, Addr returns the bound address.
func (s *MetricsServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}
	return nil
}

// Serve blocks until Shutdown. It returns nil on a graceful stop.
func (s *MetricsServer) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("serving metrics", "addr", s.addr)
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a listening server. It is a no-op before Listen.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	err := s.srv.Shutdown(ctx)
	// Serve may never have taken ownership of the listener.
	_ = s.listener.Close()
	return err
}

func (s *MetricsServer) Addr() string {
	return s.addr
}
