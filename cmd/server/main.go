package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/observer/notifyhub/internal/api"
	"github.com/observer/notifyhub/internal/auth"
	"github.com/observer/notifyhub/internal/config"
	"github.com/observer/notifyhub/internal/database"
	_ "github.com/observer/notifyhub/internal/docs"
	"github.com/observer/notifyhub/internal/fanout"
	"github.com/observer/notifyhub/internal/logging"
	"github.com/observer/notifyhub/internal/middleware"
	"github.com/observer/notifyhub/internal/pubsub"
	"github.com/observer/notifyhub/internal/registry"
	"github.com/observer/notifyhub/internal/server"
	"github.com/observer/notifyhub/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Structured logging from the start
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("falling back to info logging", "error", err)
	}
	logger := logging.New(os.Stdout, cfg.LogFormat, level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Create context for initialization
	initCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	// Connect to database
	// The ledger writer keeps up to LEDGER_WORKERS connections busy on top of
	// request traffic.
	db, err := database.New(initCtx, cfg.DatabaseURL, database.PoolOptions{
		MaxConns: int32(cfg.DatabaseMaxConns),
		MinConns: 2,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := database.EnsureSchema(initCtx, db, logger); err != nil {
		return fmt.Errorf("ensure database schema: %w", err)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	testRepo := database.NewTestRepository(db)

	// Connection ledger and its background writer
	ledger, closeLedger, err := openLedger(initCtx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	writer := registry.NewLedgerWriter(ledger, registry.WriterConfig{
		Workers:     cfg.LedgerWorkers,
		QueueSize:   cfg.LedgerQueueSize,
		OpTimeout:   cfg.LedgerOpTimeout,
		MaxAttempts: cfg.LedgerMaxAttempts,
	}, logger)
	writer.Start()

	reg := registry.New(writer, logger)

	// Rebuild the registry before any connection is admitted. A ledger that
	// stays down only costs us the previous sessions.
	reconciler := registry.NewReconciler(ledger, reg, registry.RetryPolicy{
		Attempts:  cfg.ReconcileAttempts,
		BaseDelay: cfg.ReconcileBackoff,
	}, logger)
	result, err := reconciler.Reconcile(rootCtx, cfg.ReconcileMaxAge)
	if err != nil {
		logger.Error("reconciliation failed, starting with an empty registry", "error", err)
	} else {
		logger.Info("registry reconciled", "loaded", result.Loaded, "stale", result.Stale, "failed", result.Failed)
	}

	// Initialize token service (use a default key for dev if not set)
	jwtKey := cfg.JWTSigningKey
	if jwtKey == "" {
		jwtKey = "dev-signing-key-do-not-use-in-production!!"
		logger.Warn("using default JWT signing key - DO NOT USE IN PRODUCTION")
	}
	tokenService, err := auth.NewTokenService(jwtKey, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("create token service: %w", err)
	}
	authService := auth.NewService(userRepo, tokenService)

	// Initialize PubSub (in-memory for single instance, Redis across instances)
	ps, err := newPubSub(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	// Initialize WebSocket hub, fanout and broadcast subscription
	hubCtx, stopHub := context.WithCancel(rootCtx)
	hub := websocket.NewHub(reg, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	deliver := fanout.New[[]byte](reg, hub, cfg.FanoutParallelism, logger)
	sub, err := websocket.SubscribeBroadcasts(rootCtx, ps, deliver, logger)
	if err != nil {
		stopHub()
		return fmt.Errorf("subscribe to broadcasts: %w", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	go limiter.RunCleanup(rootCtx)

	// Create and start server
	deps := &server.Dependencies{
		AuthService:         authService,
		AuthHandler:         api.NewAuthHandler(authService, logger),
		TestHandler:         api.NewTestHandler(testRepo, userRepo, websocket.NewUserNotifier(deliver), logger),
		NotificationHandler: api.NewNotificationHandler(websocket.NewPubSubBroadcaster(ps), logger),
		HealthHandler:       api.NewHealthHandler(reg, writer, db),
		WSHandler:           websocket.NewHandler(hub, authService, websocket.NewSessionIDs(), logger),
		RateLimiter:         limiter,
		Logger:              logger,
	}
	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ServerAddr, "ledger", cfg.LedgerDriver, "pubsub", cfg.PubSubType)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt
	select {
	case <-shutdownCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}
	logger.Info("shutting down gracefully...")

	// Give active requests 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}

	// Closing sockets leaves their ledger rows for the next start to restore
	_ = sub.Unsubscribe()
	stopHub()
	<-hubDone

	if err := writer.Stop(timeoutCtx); err != nil {
		logger.Error("ledger writer did not drain", "error", err, "pending", writer.Stats().Pending)
	}

	logger.Info("server stopped")
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (registry.Ledger, func(), error) {
	switch cfg.LedgerDriver {
	case config.LedgerSQLite:
		ledger, err := database.NewSQLiteLedger(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return ledger, func() { _ = ledger.Close() }, nil
	case config.LedgerMongo:
		ledger, err := database.NewMongoLedger(ctx, cfg.MongoURL, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo ledger: %w", err)
		}
		return ledger, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ledger.Close(closeCtx)
		}, nil
	default:
		return database.NewConnectionLedger(db), func() {}, nil
	}
}

func newPubSub(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pubsub.PubSub, error) {
	if cfg.PubSubType == "redis" {
		ps, err := pubsub.NewRedisPubSub(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis pubsub")
		return ps, nil
	}
	return pubsub.NewMemoryPubSub(logger), nil
}
