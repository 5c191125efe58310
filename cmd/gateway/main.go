package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/channels"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/relay"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting chat gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}
	log.Println("✓ Connected to PostgreSQL")

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Connected to Redis")

	// Live settings (tier limits, blocklist)
	live := config.NewLive(db, cfg.Defaults())
	if err := live.Refresh(ctx); err != nil {
		log.Printf("Using default settings: %v", err)
	}
	settings := live.Current()
	log.Printf("✓ Live settings loaded at %s (guest %d rpm, user %d rpm, %d blocked ranges)",
		settings.LoadedAt.Format(time.RFC3339), settings.GuestRPM, settings.UserRPM, len(settings.Blocked))
	go live.Run(ctx, cfg.SettingsRefresh)

	// Channels
	channelCache := cache.New(redisClient, db, cfg.ChannelCacheTTL)
	directory := channels.NewDirectory(channelCache)
	log.Printf("✓ Channel directory ready (cache ttl %s)", cfg.ChannelCacheTTL)

	// Rate limiter
	limiter := ratelimit.New(
		ratelimit.WithWindow(cfg.RateWindow),
		ratelimit.WithIdleTTL(cfg.RateIdleTTL),
	)
	limiter.StartJanitor(ctx)

	// Metrics
	var stats metrics.DecisionStore
	if cfg.RateStatsOn {
		stats = redisClient
	}
	recorder := metrics.New(stats)
	go recorder.Start(ctx)

	// Usage log
	usageRecorder := usage.NewRecorder(db)
	usage.StartRetentionWorker(ctx, db, live, 24*time.Hour)

	pipeline := relay.NewPipeline(
		limiter,
		directory,
		providers.NewOpenAICompatible(cfg.UpstreamTimeout),
		usageRecorder,
		live,
		relay.WithObserver(recorder),
	)
	log.Println("✓ Initialized gateway pipeline")

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(pipeline, directory)
	adminHandler := handlers.NewAdminHandler(db, providers.NewProber(cfg.ProbeTimeout), channelCache)
	middleware := handlers.NewMiddleware(live, db, cfg.SecretKey)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.BlockList)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", recorder.Handler())

	// Streaming routes run without a request timeout; the upstream client
	// bounds the handshake and the gap between lines.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)
		r.Post("/api/chat/completions", chatHandler.HandleChatCompletion)
		r.Post("/v1/chat/completions", chatHandler.HandleChatCompletion)
	})

	r.With(chimiddleware.Timeout(30*time.Second)).Get("/api/chat/models", chatHandler.HandleModels)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminOnly)
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Post("/channels/test", adminHandler.TestDraftChannel)
		r.Post("/channels/{id}/test", adminHandler.TestChannel)
		r.Post("/channels/cache/invalidate", adminHandler.InvalidateChannelCache)
	})

	// HTTP server. WriteTimeout stays 0 so long streams are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST /api/chat/completions - Chat completions (SSE)")
		log.Println("   POST /v1/chat/completions  - Chat completions (SSE, OpenAI path)")
		log.Println("   GET  /api/chat/models      - Servable models")
		log.Println("   GET  /metrics              - Prometheus metrics")
		log.Println("   GET  /health               - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()

	log.Println("Server stopped")
}
