// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/audit"
	auditmemory "github.com/bissquit/incident-orchestrator/internal/audit/memory"
	auditpostgres "github.com/bissquit/incident-orchestrator/internal/audit/postgres"
	"github.com/bissquit/incident-orchestrator/internal/config"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/identity"
	"github.com/bissquit/incident-orchestrator/internal/incidents"
	incidentsmemory "github.com/bissquit/incident-orchestrator/internal/incidents/memory"
	incidentspostgres "github.com/bissquit/incident-orchestrator/internal/incidents/postgres"
	"github.com/bissquit/incident-orchestrator/internal/notify"
	"github.com/bissquit/incident-orchestrator/internal/notify/kafka"
	"github.com/bissquit/incident-orchestrator/internal/notify/webhook"
	"github.com/bissquit/incident-orchestrator/internal/pkg/ctxlog"
	"github.com/bissquit/incident-orchestrator/internal/pkg/httputil"
	"github.com/bissquit/incident-orchestrator/internal/pkg/metrics"
	"github.com/bissquit/incident-orchestrator/internal/pkg/postgres"
	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	runbooksmemory "github.com/bissquit/incident-orchestrator/internal/runbooks/memory"
	runbookspostgres "github.com/bissquit/incident-orchestrator/internal/runbooks/postgres"
	"github.com/bissquit/incident-orchestrator/internal/version"
	"github.com/bissquit/incident-orchestrator/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	hook          *notify.Hook
	closers       []io.Closer
	orchestrator  *incidents.Orchestrator
}

// backend groups the storage components selected by storage.driver.
type backend struct {
	store   incidents.Store
	tx      incidents.Transactor
	ledger  audit.Ledger
	catalog runbooks.Catalog
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := InitLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	be, err := app.setupBackend()
	if err != nil {
		metricsCancel()
		return nil, err
	}

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	if err := app.loadRunbooks(be.catalog); err != nil {
		app.cleanup()
		return nil, err
	}

	notifier, err := app.setupNotifications(metricsCtx)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("setup notifications: %w", err)
	}

	router, err := app.setupRouter(be, notifier)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupBackend() (backend, error) {
	switch a.config.Storage.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory storage: incidents and audit entries are lost on restart")
		ledger := auditmemory.NewLedger()
		store := incidentsmemory.NewStore(ledger)
		return backend{store: store, tx: store, ledger: ledger, catalog: runbooksmemory.NewCatalog()}, nil

	case config.DriverPostgres:
		dbCfg := a.config.Database
		connectCtx, connectCancel := context.WithTimeout(context.Background(), dbCfg.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             dbCfg.URL,
			MaxOpenConns:    dbCfg.MaxOpenConns,
			MaxIdleConns:    dbCfg.MaxIdleConns,
			ConnMaxLifetime: dbCfg.ConnMaxLifetime,
			ConnectAttempts: dbCfg.ConnectAttempts,
		})
		if err != nil {
			return backend{}, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db

		if dbCfg.AutoMigrate {
			if err := postgres.Migrate(migrations.FS, dbCfg.URL); err != nil {
				db.Close()
				a.db = nil
				return backend{}, fmt.Errorf("migrate database: %w", err)
			}
		}

		return backend{
			store:   incidentspostgres.NewStore(db),
			tx:      incidentspostgres.NewTransactor(db),
			ledger:  auditpostgres.NewLedger(db),
			catalog: runbookspostgres.NewCatalog(db),
		}, nil
	}
	return backend{}, fmt.Errorf("unknown storage driver %q", a.config.Storage.Driver)
}

func (a *App) loadRunbooks(catalog runbooks.Catalog) error {
	dir := a.config.Runbooks.Dir
	if dir == "" {
		return nil
	}

	templates, err := runbooks.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load runbooks from %s: %w", dir, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runbooks.Sync(ctx, catalog, templates); err != nil {
		return fmt.Errorf("sync runbooks: %w", err)
	}
	return nil
}

func (a *App) setupNotifications(ctx context.Context) (incidents.StatusNotifier, error) {
	cfg := a.config.Notifications

	slog.Info("notifications configured",
		"enabled", cfg.Enabled,
		"webhook_enabled", cfg.Webhook.URL != "",
		"kafka_enabled", len(cfg.Kafka.Brokers) > 0,
	)

	if !cfg.Enabled {
		return nil, nil
	}

	var senders []notify.Sender
	if cfg.Webhook.URL != "" {
		senders = append(senders, webhook.NewSender(webhook.Config{
			URL:       cfg.Webhook.URL,
			Username:  cfg.Webhook.Username,
			Timeout:   cfg.Webhook.Timeout,
			RateLimit: cfg.Webhook.RateLimit,
			Burst:     cfg.Webhook.Burst,
		}))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSender := kafka.NewSender(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		senders = append(senders, kafkaSender)
		a.closers = append(a.closers, kafkaSender)
	}

	if len(senders) == 0 {
		slog.Warn("notifications enabled but no sender configured: status changes will not be delivered")
		return nil, nil
	}

	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	a.hook = notify.NewHook(notify.Config{
		QueueSize:         cfg.QueueSize,
		Workers:           cfg.Workers,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, renderer, senders...)
	a.hook.Start(ctx)

	return a.hook, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. In-flight requests finish
// before queued notifications are drained.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.hook != nil {
		if err := a.hook.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop notification hook: %w", err))
		}
	}

	a.cleanup()

	return errors.Join(errs...)
}

// cleanup releases resources that do not depend on the servers.
func (a *App) cleanup() {
	if a.hook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.hook.Stop(ctx)
		cancel()
	}
	a.metricsCancel()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Orchestrator returns the incident orchestrator.
func (a *App) Orchestrator() *incidents.Orchestrator {
	return a.orchestrator
}

func (a *App) setupRouter(be backend, notifier incidents.StatusNotifier) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	identityService, err := identity.NewService(identity.Config{
		JWTSecret: a.config.Auth.JWTSecret,
		TokenTTL:  a.config.Auth.TokenTTL,
		Issuer:    a.config.Auth.Issuer,
		APIKeys:   APIKeys(a.config.Auth),
	})
	if err != nil {
		return nil, fmt.Errorf("create identity service: %w", err)
	}
	identityHandler := identity.NewHandler()

	a.orchestrator = incidents.NewOrchestrator(be.store, be.tx, be.catalog, notifier, incidents.Config{
		StorageTimeout: a.config.Storage.Timeout,
	})
	incidentsHandler := incidents.NewHandler(a.orchestrator)
	runbooksHandler := runbooks.NewHandler(be.catalog)
	auditHandler := audit.NewHandler(audit.NewService(be.ledger, a.config.Storage.Timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(identityService))

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleViewer))
			identityHandler.RegisterProtectedRoutes(r)
			incidentsHandler.RegisterReadRoutes(r)
			runbooksHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleOperator))
			incidentsHandler.RegisterOperatorRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			auditHandler.RegisterRoutes(r)
		})
	})

	return r, nil
}

// APIKeys converts configured API keys for the identity service.
func APIKeys(cfg config.AuthConfig) []identity.APIKey {
	keys := make([]identity.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, identity.APIKey{Name: k.Name, Hash: k.Hash, Role: domain.Role(k.Role)})
	}
	return keys
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

// InitLogger builds the process logger from config.
func InitLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
