// CodeCollab - real-time collaborative project server with an AI assistant.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/codecollab/internal/ai"
	"github.com/ashureev/codecollab/internal/api"
	"github.com/ashureev/codecollab/internal/auth"
	"github.com/ashureev/codecollab/internal/config"
	"github.com/ashureev/codecollab/internal/gateway"
	"github.com/ashureev/codecollab/internal/middleware"
	"github.com/ashureev/codecollab/internal/room"
	"github.com/ashureev/codecollab/internal/router"
	"github.com/ashureev/codecollab/internal/runner"
	"github.com/ashureev/codecollab/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const revocationCleanupInterval = time.Hour

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_provider", cfg.AI.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	verifier := auth.NewVerifier(cfg.JWTSecret, repo)
	rooms := room.NewRegistry()
	checks := map[string]api.Checker{}

	gen, closeGen, err := ai.NewGenerator(ctx, ai.ProviderConfig{
		Provider:        cfg.AI.Provider,
		Model:           cfg.AI.Model,
		GeminiAPIKey:    cfg.AI.GeminiAPIKey,
		OpenAIAPIKey:    cfg.AI.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.AI.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AI.AnthropicAPIKey,
		AgentAddr:       cfg.AI.AgentAddr,
		MaxTokens:       cfg.AI.MaxTokens,
	}, logger)
	if err != nil {
		slog.Warn("Failed to initialize AI provider, AI features will be disabled", "provider", cfg.AI.Provider, "error", err)
		gen, closeGen, _ = ai.NewGenerator(ctx, ai.ProviderConfig{Provider: ai.ProviderNone}, logger)
	}
	defer closeGen()
	if agent, ok := gen.(*ai.GrpcGenerator); ok {
		checks["ai"] = api.CheckerFunc(agent.Health)
	}
	adapter := ai.NewAdapter(gen, cfg.AI.Timeout, logger)

	var engine runner.Engine
	if cfg.Runner.Enabled {
		docker, err := runner.NewDockerEngine(cfg.Runner.Image, cfg.Runner.Runtime)
		if err != nil {
			slog.Error("Failed to initialize docker engine", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := docker.Close(); closeErr != nil {
				slog.Error("Failed to close docker client", "error", closeErr)
			}
		}()
		engine = docker
		checks["docker"] = docker
		slog.Info("Runner enabled", "image", cfg.Runner.Image, "runtime", cfg.Runner.Runtime)
	} else {
		slog.Info("Runner disabled (RUNNER_ENABLED not set)")
	}
	runs := runner.NewService(rooms, engine, logger)

	// Initialize services.
	rt := router.New(rooms, adapter, router.Config{
		RateLimit:  cfg.AI.RateLimit,
		RateWindow: cfg.AI.RateWindow,
	}, logger)
	sm := gateway.NewSessionManager()
	wsHandler := gateway.NewWebSocketHandler(gateway.New(repo, verifier), rooms, rt, sm, gateway.Options{
		AllowedOrigin:    cfg.FrontendURL,
		IsDev:            cfg.IsDevelopment(),
		HandshakeTimeout: cfg.HandshakeTimeout,
		SendQueueSize:    cfg.SendQueueSize,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, rooms, runs, sm)
	healthHandler := api.NewHealthHandler(baseHandler, checks)
	projectHandler := api.NewProjectHandler(baseHandler)
	authHandler := api.NewAuthHandler(baseHandler)
	aiHandler := api.NewAIHandler(adapter, rt.AllowAI)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier))
		projectHandler.RegisterRoutes(r)
		authHandler.RegisterRoutes(r)
		aiHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint. Authentication happens during the handshake.
	r.Get("/ws/project", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	runs.StartSweeper(ctx, cfg.Runner.IdleTTL)
	startRevocationCleanup(ctx, repo, revocationCleanupInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sm.CloseAll("server shutting down")
	if n := runs.StopAll(shutdownCtx); n > 0 {
		slog.Info("Runs stopped", "count", n)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	waitDone := make(chan struct{})
	go func() {
		rt.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		slog.Warn("Pending AI replies abandoned at shutdown")
	}
	rt.Close()

	slog.Info("Server stopped successfully")
}

// startRevocationCleanup periodically deletes expired token revocations.
func startRevocationCleanup(ctx context.Context, repo store.Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := repo.CleanupRevocations(ctx)
				if err != nil {
					slog.Error("Revocation cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("Expired revocations removed", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
