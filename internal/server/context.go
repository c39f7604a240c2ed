package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/calmcp/internal/config"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/instrumentation"
)

// ErrShuttingDown is returned for calls arriving after Shutdown.
var ErrShuttingDown = errors.New("server is shutting down")

// Options configures a ServerContext.
type Options struct {
	Dispatcher *dispatcher.Dispatcher
	Config     *config.Config
	Sessions   *SessionRegistry
	Metrics    *instrumentation.Metrics
	Audit      *instrumentation.AuditLogger
	Logger     *slog.Logger

	// ReadOnly registers only the query tool.
	ReadOnly bool
}

// ServerContext holds the dependencies shared by all tool handlers.
type ServerContext struct {
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *dispatcher.Dispatcher
	config     *config.Config
	sessions   *SessionRegistry
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
	logger     *slog.Logger
	readOnly   bool
	closers    []func() error
	checks     map[string]ReadinessCheck
	mu         sync.RWMutex
	shutdown   bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sessions == nil {
		sessions, err := NewSessionRegistry(opts.Config.Sessions.IdleTimeout, opts.Config.Sessions.CleanupInterval, opts.Metrics, opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Sessions = sessions
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:        shutdownCtx,
		cancel:     cancel,
		dispatcher: opts.Dispatcher,
		config:     opts.Config,
		sessions:   opts.Sessions,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		logger:     opts.Logger,
		readOnly:   opts.ReadOnly,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Dispatcher returns the tool dispatcher.
func (sc *ServerContext) Dispatcher() *dispatcher.Dispatcher {
	return sc.dispatcher
}

// Config returns the effective configuration.
func (sc *ServerContext) Config() *config.Config {
	return sc.config
}

// Sessions returns the session registry.
func (sc *ServerContext) Sessions() *SessionRegistry {
	return sc.sessions
}

// Metrics returns the metrics recorder, which may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, which may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// ReadOnly reports whether write tools are disabled.
func (sc *ServerContext) ReadOnly() bool {
	return sc.readOnly
}

// Dispatch runs call within its session, waiting for any earlier call of
// the same session to finish first.
func (sc *ServerContext) Dispatch(ctx context.Context, call dispatcher.ToolCall) (dispatcher.Result, error) {
	if sc.IsShutdown() {
		return dispatcher.Result{}, ErrShuttingDown
	}

	release, err := sc.sessions.Acquire(ctx, call.Session)
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer release()

	if call.Account == "" && call.Session != "" {
		call.Account = sc.sessions.AccountForSession(call.Session)
	}
	return sc.dispatcher.Dispatch(ctx, call), nil
}

// AddCloser registers fn to run on Shutdown, in reverse order of
// registration.
func (sc *ServerContext) AddCloser(fn func() error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closers = append(sc.closers, fn)
}

// AddReadinessCheck registers a dependency check that HTTP readiness probes
// run on every request.
func (sc *ServerContext) AddReadinessCheck(name string, check ReadinessCheck) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.checks == nil {
		sc.checks = map[string]ReadinessCheck{}
	}
	sc.checks[name] = check
}

func (sc *ServerContext) readinessChecks() map[string]ReadinessCheck {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make(map[string]ReadinessCheck, len(sc.checks))
	for name, c := range sc.checks {
		out[name] = c
	}
	return out
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown stops session cleanup and runs the registered closers.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	closers := sc.closers
	sc.closers = nil
	sc.mu.Unlock()

	sc.cancel()
	sc.sessions.Stop()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
