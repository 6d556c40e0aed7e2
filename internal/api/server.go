// Package api provides the HTTP servers for the ingestion gateway and the
// rate-limit coordinator.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/logweir/logweir/internal/api/handlers"
	"github.com/logweir/logweir/internal/api/health"
	"github.com/logweir/logweir/internal/api/middleware"
	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/correlate"
	"github.com/logweir/logweir/internal/quota"
	"github.com/logweir/logweir/internal/store"
	"github.com/logweir/logweir/internal/syncer"
	"github.com/logweir/logweir/pkg/config"
)

// Version is the current version of the servers.
// This should be set at build time using ldflags.
var Version = "dev"

// GatewayServer is the stateless ingestion gateway.
type GatewayServer struct {
	router        chi.Router
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// GatewayDeps collects the gateway's collaborators.
type GatewayDeps struct {
	Buffer  *buffer.Buffer
	Checker quota.Checker
	Store   store.Store
	Engine  *correlate.Engine
	Syncer  *syncer.Syncer
	// Coordinator, when non-nil, is hosted in-process and its control
	// surface is mounted on this server.
	Coordinator *quota.Coordinator
}

// NewGatewayServer creates a gateway server with the given dependencies.
func NewGatewayServer(cfg *config.Config, deps GatewayDeps, logger *slog.Logger) *GatewayServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &GatewayServer{
		config: cfg,
		logger: logger,
	}

	s.healthChecker = health.NewChecker(Version)
	s.healthChecker.Register("buffer", health.PingerFunc(func(ctx context.Context) error {
		return deps.Buffer.Ping()
	}))
	s.healthChecker.Register("durable_store", health.PingerFunc(deps.Store.Ping))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())

	ingestHandler := handlers.NewIngestHandler(
		deps.Buffer,
		deps.Checker,
		cfg.Quota.CheckTimeout,
		cfg.Quota.FailOpen,
		logger,
	)
	r.Post("/log", ingestHandler.Ingest)

	queryHandler := handlers.NewQueryHandler(deps.Engine, deps.Buffer, logger)
	r.Get("/traces/{trace_id}/timeline", queryHandler.Timeline)
	r.Get("/events", queryHandler.Search)
	r.Get("/buffer/stats", queryHandler.BufferStats)

	syncHandler := handlers.NewSyncHandler(deps.Syncer, deps.Buffer, logger)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/sync/all", syncHandler.SyncAll)
		r.Post("/sync/trace/{trace_id}", syncHandler.SyncByTrace)
		r.Post("/sync/user/{user_id}", syncHandler.SyncByUser)
		r.Post("/sync/clear-and-sync", syncHandler.ClearAndSync)
		r.Post("/buffer/clear", syncHandler.ClearBuffer)
	})

	if deps.Coordinator != nil {
		quotaHandler := handlers.NewQuotaHandler(deps.Coordinator, logger)
		r.Post("/check", quotaHandler.Check)
		r.Post("/reset", quotaHandler.Reset)
		r.Get("/status", quotaHandler.Status)
	}

	s.router = r
	return s
}

// Start runs the server until the context is cancelled.
func (s *GatewayServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.GatewayHost, s.config.GatewayPort)
	return serve(ctx, addr, s.router, s.config.ShutdownTimeout, s.logger.With("server", "gateway"))
}

// Router returns the chi router for testing purposes.
func (s *GatewayServer) Router() chi.Router {
	return s.router
}

// CoordinatorServer exposes the coordinator control surface on its own
// port. One logical instance runs per deployment.
type CoordinatorServer struct {
	router chi.Router
	config *config.Config
	logger *slog.Logger
}

// NewCoordinatorServer creates a coordinator server.
func NewCoordinatorServer(cfg *config.Config, coordinator *quota.Coordinator, st store.Store, logger *slog.Logger) *CoordinatorServer {
	if logger == nil {
		logger = slog.Default()
	}

	checker := health.NewChecker(Version)
	checker.Register("durable_store", health.PingerFunc(st.Ping))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/health", checker.Handler())

	quotaHandler := handlers.NewQuotaHandler(coordinator, logger)
	r.Post("/check", quotaHandler.Check)
	r.Post("/reset", quotaHandler.Reset)
	r.Get("/status", quotaHandler.Status)

	return &CoordinatorServer{router: r, config: cfg, logger: logger}
}

// Start runs the server until the context is cancelled.
func (s *CoordinatorServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.GatewayHost, s.config.CoordinatorPort)
	return serve(ctx, addr, s.router, s.config.ShutdownTimeout, s.logger.With("server", "coordinator"))
}

// Router returns the chi router for testing purposes.
func (s *CoordinatorServer) Router() chi.Router {
	return s.router
}

// serve runs an HTTP server and shuts it down gracefully on cancellation.
func serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
