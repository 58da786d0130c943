// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/incident-alerts/internal/channels/email"
	"github.com/bissquit/incident-alerts/internal/channels/webhook"
	"github.com/bissquit/incident-alerts/internal/config"
	"github.com/bissquit/incident-alerts/internal/dedup"
	"github.com/bissquit/incident-alerts/internal/delivery"
	deliverypostgres "github.com/bissquit/incident-alerts/internal/delivery/postgres"
	"github.com/bissquit/incident-alerts/internal/ingest"
	"github.com/bissquit/incident-alerts/internal/ingest/kafka"
	"github.com/bissquit/incident-alerts/internal/matching"
	"github.com/bissquit/incident-alerts/internal/pkg/ctxlog"
	"github.com/bissquit/incident-alerts/internal/pkg/httputil"
	"github.com/bissquit/incident-alerts/internal/pkg/metrics"
	"github.com/bissquit/incident-alerts/internal/pkg/postgres"
	"github.com/bissquit/incident-alerts/internal/rules"
	"github.com/bissquit/incident-alerts/internal/rules/memstore"
	rulespostgres "github.com/bissquit/incident-alerts/internal/rules/postgres"
	"github.com/bissquit/incident-alerts/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         redis.UniversalClient
	server        *http.Server
	metricsServer *http.Server

	index       *matching.Index
	coordinator *matching.Coordinator
	pipeline    *delivery.Pipeline
	memTracker  *dedup.MemoryTracker
	consumer    *kafka.Consumer

	workers      *errgroup.Group
	stopWorkers  context.CancelFunc
	shutdownOnce sync.Once
}

// New creates a new application instance. Nothing runs until Start or Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.connect(); err != nil {
		app.closeConnections()
		return nil, err
	}

	router, err := app.setupRouter()
	if err != nil {
		app.closeConnections()
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

// connect opens the database and redis connections the configured backends need.
func (a *App) connect() error {
	cfg := a.config

	if cfg.UsesPostgres() {
		if cfg.Database.Migrate {
			if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}

		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
	}

	if cfg.Dedup.Backend == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	return nil
}

// Start loads the rule index, reschedules pending deliveries and launches the
// background workers. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	if err := a.index.Refresh(ctx); err != nil {
		// the refresh loop keeps trying; events get 503 until it succeeds
		a.logger.Error("initial rule index load failed", "error", err)
	}

	if _, err := a.pipeline.Recover(ctx); err != nil {
		return fmt.Errorf("recover pending deliveries: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	g, workerCtx := errgroup.WithContext(workerCtx)
	a.workers = g
	a.stopWorkers = cancel

	g.Go(func() error { return a.index.Run(workerCtx) })
	g.Go(func() error { return a.coordinator.Run(workerCtx) })
	g.Go(func() error { return a.pipeline.Run(workerCtx) })
	if a.memTracker != nil {
		g.Go(func() error { return a.memTracker.Run(workerCtx, a.config.Dedup.SweepInterval) })
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(workerCtx) })
	}
	g.Go(func() error {
		a.collectPoolMetrics(workerCtx)
		return nil
	})

	return nil
}

// Run starts the application and serves HTTP until ctx is cancelled or a
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.closeConnections()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting server",
			"host", a.config.Server.Host,
			"port", a.config.Server.Port,
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application: HTTP servers first, then
// the background workers, then the connections. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")

		// Shutdown both servers in parallel
		var wg sync.WaitGroup
		var mu sync.Mutex
		for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Shutdown(ctx); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if a.stopWorkers != nil {
			a.stopWorkers()
			if err := a.workers.Wait(); err != nil {
				errs = append(errs, fmt.Errorf("background workers: %w", err))
			}
		}

		a.closeConnections()
	})

	return errors.Join(errs...)
}

func (a *App) closeConnections() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	record := func() {
		if a.db != nil {
			metrics.RecordDBPoolMetrics(a.db)
		}
		if a.redis != nil {
			metrics.RecordRedisPoolMetrics(a.redis.PoolStats())
		}
	}
	record()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Pipeline returns the delivery pipeline. Used in tests to inspect records.
func (a *App) Pipeline() *delivery.Pipeline {
	return a.pipeline
}

func (a *App) setupRouter() (*chi.Mux, error) {
	cfg := a.config

	ruleRepo, err := a.ruleRepository()
	if err != nil {
		return nil, err
	}
	recordStore, err := a.recordStore()
	if err != nil {
		return nil, err
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      cfg.Channels.Email.Enabled,
		SMTPHost:     cfg.Channels.Email.SMTPHost,
		SMTPPort:     cfg.Channels.Email.SMTPPort,
		SMTPUser:     cfg.Channels.Email.SMTPUser,
		SMTPPassword: cfg.Channels.Email.SMTPPassword,
		FromAddress:  cfg.Channels.Email.FromAddress,
		RateLimit:    cfg.Channels.Email.RateLimit,
		Burst:        cfg.Channels.Email.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !cfg.Channels.Email.Enabled {
		slog.Warn("email sender is disabled: email alerts will fail permanently")
	}

	senders := []delivery.Sender{emailSender}
	if cfg.Channels.Webhook.Enabled {
		senders = append(senders, webhook.NewSender(webhook.Config{
			Username:       cfg.Channels.Webhook.Username,
			Timeout:        cfg.Channels.Webhook.Timeout,
			BreakerTimeout: cfg.Channels.Webhook.BreakerTimeout,
		}))
	}
	dispatcher := delivery.NewDispatcher(senders...)

	renderer, err := delivery.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create alert renderer: %w", err)
	}

	a.pipeline = delivery.NewPipeline(cfg.Delivery.Pipeline(), recordStore, dispatcher, renderer)
	a.index = matching.NewIndex(ruleRepo, cfg.Rules.RefreshInterval)

	var tracker dedup.Tracker
	if a.redis != nil {
		tracker = dedup.NewRedisTracker(a.redis, cfg.Dedup.Retention)
	} else {
		a.memTracker = dedup.NewMemoryTracker(cfg.Dedup.Retention)
		tracker = a.memTracker
	}

	a.coordinator = matching.NewCoordinator(matching.CoordinatorConfig{
		RevisionRetention: cfg.Dedup.Retention,
		SweepInterval:     cfg.Dedup.SweepInterval,
	}, a.index, tracker, a.pipeline)

	if cfg.Kafka.Enabled {
		a.consumer = kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Readers: cfg.Kafka.Readers,
		}, a.coordinator)
	}

	slog.Info("alerting configured",
		"rules_store", cfg.Rules.Store,
		"delivery_store", cfg.Delivery.Store,
		"dedup_backend", cfg.Dedup.Backend,
		"channels", dispatcher.Types(),
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	rulesHandler := rules.NewHandler(rules.NewService(ruleRepo, a.index, a.pipeline))
	ingestHandler := ingest.NewHandler(a.coordinator)
	deliveryHandler := delivery.NewHandler(a.pipeline)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.MaxBodyMiddleware(cfg.Server.MaxBodyBytes))

		rulesHandler.RegisterRoutes(r)
		deliveryHandler.RegisterRoutes(r)
		ingestHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) ruleRepository() (rules.Repository, error) {
	switch a.config.Rules.Store {
	case config.BackendPostgres:
		if a.db == nil {
			return nil, errors.New("rules store: database not connected")
		}
		return rulespostgres.NewRepository(a.db), nil
	default:
		return memstore.New(), nil
	}
}

func (a *App) recordStore() (delivery.RecordStore, error) {
	switch a.config.Delivery.Store {
	case config.BackendPostgres:
		if a.db == nil {
			return nil, errors.New("delivery store: database not connected")
		}
		return deliverypostgres.NewRepository(a.db), nil
	default:
		return delivery.NewMemoryStore(), nil
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	logger := ctxlog.FromContext(r.Context())

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			logger.Error("readiness check failed", "dependency", "database", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Error("readiness check failed", "dependency", "redis", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	if !a.index.Ready() {
		httputil.Text(w, http.StatusServiceUnavailable, "Rule index not loaded")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
