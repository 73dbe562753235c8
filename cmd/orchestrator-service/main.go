package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/draftea/order-orchestrator/orchestrator-service/config"
	"github.com/draftea/order-orchestrator/orchestrator-service/handlers"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

func main() {
	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Logger.Error("error closing dependencies", "error", err)
		}
	}()

	logger := deps.Logger
	logger.Info("starting service", "env", cfg.Env, "port", cfg.Port)

	// Start the workflow runner; its first poll resumes unfinished workflows
	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- deps.Runner.Run(ctx)
	}()

	// Start event subscriber
	if err := deps.EventSubscriber.Subscribe(ctx, deps.EventRouter); err != nil {
		logger.Error("failed to start event subscriber", "error", err)
	}

	// Setup and start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: setupRouter(cfg, deps),
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runnerStopped := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
	case err := <-runnerDone:
		logger.Error("workflow runner stopped", "error", err)
		runnerStopped = true
	}
	stop()

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := deps.EventSubscriber.Stop(shutdownCtx); err != nil {
		logger.Error("event subscriber forced to stop", "error", err)
	}

	if !runnerStopped {
		select {
		case <-runnerDone:
		case <-shutdownCtx.Done():
			logger.Warn("workflow runner did not stop in time")
		}
	}

	logger.Info("service stopped")
}

func setupRouter(cfg *config.Config, deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", handlers.NewMetricsHandler())

	deps.OrderHandlers.RegisterRoutes(r)

	return r
}
