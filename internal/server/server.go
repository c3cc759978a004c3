package server

import (
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/observer/notifyhub/internal/api"
	"github.com/observer/notifyhub/internal/auth"
	"github.com/observer/notifyhub/internal/config"
	"github.com/observer/notifyhub/internal/middleware"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	AuthService         *auth.Service
	AuthHandler         *api.AuthHandler
	TestHandler         *api.TestHandler
	NotificationHandler *api.NotificationHandler
	HealthHandler       *api.HealthHandler
	WSHandler           http.Handler
	RateLimiter         *middleware.RateLimiter
	Logger              *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewHandler builds the routed and wrapped handler
func NewHandler(cfg *config.Config, deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, cfg, deps)

	// Wrap with middleware
	return chainMiddleware(mux,
		requestIDMiddleware(deps.Logger),
		corsMiddleware(cfg),
		loggingMiddleware,
		recoverMiddleware,
	)
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	// Health checks - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /health", deps.HealthHandler.Health)
	mux.HandleFunc("GET /healthz", deps.HealthHandler.Healthz)
	mux.HandleFunc("GET /readyz", deps.HealthHandler.Readyz)

	// =========================================================================
	// API routes, rate limited per client IP
	// =========================================================================
	apiMux := http.NewServeMux()
	authMiddleware := auth.Middleware(deps.AuthService, deps.Logger)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	// Auth routes (public)
	apiMux.HandleFunc("POST /api/auth/signup", deps.AuthHandler.Signup)
	apiMux.HandleFunc("POST /api/auth/login", deps.AuthHandler.Login)
	apiMux.Handle("GET /api/auth/me", protected(deps.AuthHandler.Me))
	apiMux.Handle("GET /api/auth/profile", protected(deps.AuthHandler.Me))

	// Scheduled tests
	apiMux.Handle("POST /api/tests/schedule", protected(deps.TestHandler.Schedule))
	apiMux.Handle("GET /api/tests/user/{userId}", protected(deps.TestHandler.ListByUser))
	apiMux.Handle("GET /api/tests", protected(deps.TestHandler.ListAll))
	apiMux.Handle("DELETE /api/tests/{testId}", protected(deps.TestHandler.Delete))

	// Notifications
	apiMux.Handle("POST /api/notifications/broadcast", protected(deps.NotificationHandler.Broadcast))

	apiMux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})

	mux.Handle("/api/", deps.RateLimiter.Middleware(apiMux))

	// =========================================================================
	// WebSocket route
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)

	// =========================================================================
	// API docs
	// =========================================================================
	mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// =========================================================================
	// Static files (demo client) - serve at root
	// =========================================================================
	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}
}
