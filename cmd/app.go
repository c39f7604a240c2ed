package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/giantswarm/mcp-oauth/storage/memory"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/calendar/caldav"
	"github.com/teemow/calmcp/internal/calendar/gcal"
	memgw "github.com/teemow/calmcp/internal/calendar/memory"
	"github.com/teemow/calmcp/internal/config"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/google"
	"github.com/teemow/calmcp/internal/idempotency"
	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/logging"
	"github.com/teemow/calmcp/internal/server"
)

// appOptions carries what the commands decide before the core is built.
type appOptions struct {
	Config   *config.Config
	Logger   *slog.Logger
	Provider *instrumentation.Provider
	Audit    *instrumentation.AuditLogger
	ReadOnly bool

	// Sweep starts the idempotency sweeper. One-shot commands leave it off.
	Sweep bool
}

// configOverrides are command line values that win over file and environment.
type configOverrides struct {
	Backend      string
	Timezone     string
	BusinessDays []string
}

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(path string, o configOverrides) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Timezone != "" {
		cfg.Timezone = o.Timezone
	}
	if len(o.BusinessDays) > 0 {
		cfg.Conflict.BusinessHours.Enabled = true
		cfg.Conflict.BusinessHours.Days = o.BusinessDays
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger returns the process logger. STDIO output belongs to the protocol,
// so logs always go to stderr; stdio gets JSON for log collectors.
func newLogger(transport string, debug bool) *slog.Logger {
	format := logging.FormatText
	if transport == "stdio" {
		format = logging.FormatJSON
	}
	return logging.New(os.Stderr, format, debug)
}

// buildApp wires gateway, idempotency guard, dispatcher and server context.
// Resources that need releasing are registered as closers on the returned
// context, so a single Shutdown tears everything down.
func buildApp(ctx context.Context, opts appOptions) (*server.ServerContext, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *instrumentation.Metrics
	if opts.Provider != nil && opts.Provider.Enabled() {
		metrics = opts.Provider.Metrics()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	detector, err := cfg.Detector(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid conflict policy: %w", err)
	}

	gw, err := newGateway(ctx, cfg, loc, logger)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	store, closeStore, err := newIdempotencyStore(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	guard := idempotency.New(store, cfg.Idempotency.TTL)

	if opts.Sweep {
		sweeper, err := idempotency.NewSweeper(guard, cfg.Idempotency.SweepInterval, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create idempotency sweeper: %w", err)
		}
		sweeper.OnSweep = func(ctx context.Context, removed int) {
			metrics.RecordIdempotencyExpired(ctx, removed)
		}
		sweeper.Start()
		closers = append(closers, func() error {
			sweeper.Stop(context.Background())
			return nil
		})
	}

	d := dispatcher.New(gw, cfg.Dispatcher(),
		dispatcher.WithNormalizer(cfg.Normalizer(loc)),
		dispatcher.WithDetector(detector),
		dispatcher.WithGuard(guard),
		dispatcher.WithMetrics(metrics),
		dispatcher.WithLogger(logger),
	)

	sc, err := server.NewServerContext(ctx, server.Options{
		Dispatcher: d,
		Config:     cfg,
		Metrics:    metrics,
		Audit:      opts.Audit,
		Logger:     logger,
		ReadOnly:   opts.ReadOnly,
	})
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}
	for _, c := range closers {
		sc.AddCloser(c)
	}
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		sc.AddReadinessCheck("idempotency_store", pinger.Ping)
	}

	logger.Info("calendar core ready",
		logging.Backend(cfg.Backend),
		slog.String("timezone", loc.String()),
		slog.String("idempotency_store", cfg.Idempotency.Store),
		slog.Bool("read_only", opts.ReadOnly))
	return sc, nil
}

// newGateway builds the calendar backend named by cfg.Backend.
func newGateway(ctx context.Context, cfg *config.Config, loc *time.Location, logger *slog.Logger) (calendar.Gateway, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memgw.New(), nil

	case config.BackendGoogle:
		// Tokens seeded from GOOGLE_TOKEN_JSON (e.g. a mounted secret) take
		// precedence over the local token cache.
		storeTokens := google.NewStoreTokenProvider(memory.New())
		seeded, err := storeTokens.SeedFromEnv(ctx, "default")
		if err != nil {
			return nil, fmt.Errorf("failed to seed google token: %w", err)
		}
		if seeded {
			logger.Info("seeded google token from environment")
		}
		tokens := google.ChainTokenProvider{storeTokens, google.NewFileTokenProvider()}
		if !tokens.HasTokenForAccount("default") {
			logger.Warn("no google token for the default account", "hint", google.GetAuthenticationErrorMessage("default"))
		}
		return gcal.New(tokens, gcal.Options{
			CalendarID:      cfg.Google.CalendarID,
			SendUpdates:     cfg.Google.SendUpdates,
			ReminderMinutes: cfg.Google.ReminderMinutes,
			CreatedBy:       "calmcp",
			DefaultZone:     loc,
		}), nil

	case config.BackendCalDAV:
		gw, err := caldav.New(caldav.Options{
			Endpoint:     cfg.CalDAV.Endpoint,
			Username:     cfg.CalDAV.Username,
			Password:     cfg.CalDAV.Password,
			CalendarName: cfg.CalDAV.Calendar,
			CalendarPath: cfg.CalDAV.Path,
			DefaultZone:  loc,
			UserAgent:    "calmcp/" + version,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav gateway: %w", err)
		}
		return gw, nil
	}
	return nil, fmt.Errorf("unsupported backend %q (supported: google, caldav, memory)", cfg.Backend)
}

func newIdempotencyStore(cfg *config.Config) (idempotency.Store, func() error, error) {
	if cfg.Idempotency.Store != config.StoreSQLite {
		return idempotency.NewMemoryStore(), nil, nil
	}
	store, err := idempotency.OpenSQLite(cfg.Idempotency.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open idempotency store: %w", err)
	}
	return store, store.Close, nil
}
