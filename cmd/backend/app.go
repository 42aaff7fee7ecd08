package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/auth"
	"github.com/feedboard/backend/internal/config"
	"github.com/feedboard/backend/internal/core"
	"github.com/feedboard/backend/internal/grpc/server"
	"github.com/feedboard/backend/internal/http/handlers"
	"github.com/feedboard/backend/internal/logging"
	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/provider/notion"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/internal/stream"
	"github.com/feedboard/backend/internal/vault"
	"github.com/feedboard/backend/pkg/events"
)

// app holds the wired services of one process
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *pgxpool.Pool
	natsConn *nats.Conn

	integrationService *core.IntegrationService
	syncService        *core.SyncService
	syncWorker         *core.SyncWorker
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := setupDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = setupNATS(cfg.NATS.URL, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	credentials, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		db.Close()
		if natsConn != nil {
			natsConn.Close()
		}
		return nil, fmt.Errorf("failed to create credential vault: %w", err)
	}

	validator, err := core.NewConfigValidator()
	if err != nil {
		db.Close()
		if natsConn != nil {
			natsConn.Close()
		}
		return nil, err
	}

	providers := provider.NewRegistry()
	providers.Register(events.IntegrationTypeNotion, notion.NewFactory(notion.ClientOptions{
		BaseURL:    cfg.Notion.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Notion.Timeout},
		APIVersion: cfg.Notion.APIVersion,
		UserAgent:  "feedboard-backend/" + version,
		MaxRetries: cfg.Notion.MaxRetries,
	}))

	// Create repositories
	repos := core.Repositories{
		Integrations: repo.NewIntegrationRepository(db),
		Mappings:     repo.NewIntegrationMappingRepository(db),
		SyncLogs:     repo.NewSyncLogRepository(db),
		Posts:        repo.NewPostRepository(db),
		RunLocker:    repo.NewAdvisoryRunLocker(db, logging.DatabaseLogger(logger)),
	}

	// Create core services
	syncLogger := logging.SyncLogger(logger)
	eventService := core.NewEventService(natsConn, logging.EventLogger(logger))
	syncService := core.NewSyncService(repos, providers, credentials, eventService, syncLogger)
	integrationService := core.NewIntegrationService(repos, providers, credentials, validator, logger)
	syncWorker := core.NewSyncWorker(syncService, repos.Integrations, core.SyncWorkerConfig{
		TickInterval:      cfg.Sync.TickInterval,
		TenantURLTemplate: cfg.Sync.TenantURLTemplate,
		RunTimeout:        cfg.Sync.RunTimeout,
	}, syncLogger)

	return &app{
		cfg:                cfg,
		logger:             logger,
		db:                 db,
		natsConn:           natsConn,
		integrationService: integrationService,
		syncService:        syncService,
		syncWorker:         syncWorker,
	}, nil
}

// Run serves HTTP and gRPC and runs the scheduler until ctx is cancelled
func (a *app) Run(ctx context.Context) error {
	if a.cfg.Sync.SchedulerEnabled {
		if err := a.syncWorker.Start(ctx); err != nil {
			return err
		}
		defer a.syncWorker.Stop()
	}

	var wg sync.WaitGroup

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.runHTTPServer(ctx); err != nil {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// gRPC health server
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthServer := server.NewHealthServer(a.db.Ping, 15*time.Second, a.logger)
		if err := healthServer.ListenAndServe(ctx, a.cfg.GRPCAddr()); err != nil {
			a.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.logger.Info("Shutdown signal received, stopping servers...")

	wg.Wait()
	a.logger.Info("All servers stopped gracefully")
	return nil
}

// Close releases connections held by the app
func (a *app) Close() {
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}
	a.db.Close()
}

func (a *app) router() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var streams handlers.EventStreamer
	if a.natsConn != nil {
		streams = stream.NewManager(stream.NATSSubscriber(a.natsConn), logging.EventLogger(a.logger))
	}

	apiHandler := handlers.NewAPIHandler(a.integrationService, a.syncService, streams, auth.DefaultJWTConfig(a.cfg.Auth.JWTSecret), logging.HTTPLogger(a.logger)).
		WithRequestTimeout(a.cfg.Sync.RunTimeout + 30*time.Second)
	router.Mount("/", apiHandler.Routes())
	return router
}

func (a *app) runHTTPServer(ctx context.Context) error {
	addr := a.cfg.HTTPAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("Starting HTTP server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	a.logger.Info("HTTP server stopped")
	return nil
}

func setupDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	dbLogger := logging.DatabaseLogger(logger)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbLogger.Info("Database connection established",
		zap.Int("max_conns", cfg.Database.MaxConns),
		zap.Int("min_conns", cfg.Database.MinConns))

	return pool, nil
}

func setupNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	eventLogger := logging.EventLogger(logger)
	nc, err := nats.Connect(url,
		nats.Name("feedboard-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			eventLogger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			eventLogger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	eventLogger.Info("NATS connection established", zap.String("url", url))
	return nc, nil
}
