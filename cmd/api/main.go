// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/innovoco-ai/lead-orchestrator/internal/config"
	"github.com/innovoco-ai/lead-orchestrator/internal/handler"
	"github.com/innovoco-ai/lead-orchestrator/internal/llm"
	"github.com/innovoco-ai/lead-orchestrator/internal/middleware"
	"github.com/innovoco-ai/lead-orchestrator/internal/monitor"
	natsclient "github.com/innovoco-ai/lead-orchestrator/internal/nats"
	"github.com/innovoco-ai/lead-orchestrator/internal/orchestrator"
	"github.com/innovoco-ai/lead-orchestrator/internal/outbox"
	"github.com/innovoco-ai/lead-orchestrator/internal/phase"
	"github.com/innovoco-ai/lead-orchestrator/internal/responder"
	"github.com/innovoco-ai/lead-orchestrator/internal/store"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
	"github.com/innovoco-ai/lead-orchestrator/pkg/tracing"
)

func main() {
	// Load .env if present; environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting lead orchestrator")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lead-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// NATS is required for the KV store backend; otherwise the service
	// degrades to in-memory sessions and in-memory lead retries.
	var natsClient *natsclient.Client
	var streamManager *natsclient.StreamManager
	natsClient, err = natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		if cfg.StoreBackend == "nats" {
			log.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		log.Warn("NATS unavailable, running without durable streams", "error", err)
		natsClient = nil
	} else {
		defer natsClient.Close()
		streamManager = natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStreams(ctx); err != nil {
			log.Error("failed to ensure streams", "error", err)
			os.Exit(1)
		}
	}

	var sessions store.Store
	switch cfg.StoreBackend {
	case "nats":
		sessions, err = store.NewNATSKV(ctx, natsClient.JetStream(), cfg.SessionTTL)
		if err != nil {
			log.Error("failed to create session bucket", "error", err)
			os.Exit(1)
		}
	default:
		sessions = store.NewMemory()
	}

	var resp responder.Responder = responder.NewRules()
	if cfg.ResponderKind == "model" {
		provider := llm.Provider(cfg.DefaultLLM)
		apiKey := cfg.AnthropicAPIKey
		if provider == llm.ProviderOpenAI {
			apiKey = cfg.OpenAIAPIKey
		}
		llmClient, err := llm.NewClient(provider, apiKey)
		if err != nil {
			log.Warn("failed to create LLM client, falling back to rules responder", "error", err)
		} else {
			resp = responder.NewModel(llmClient, "", cfg.ModelTimeout)
		}
	}

	var publisher monitor.Publisher
	outboxOpts := []outbox.Option{
		outbox.WithRetry(cfg.OutboxMaxRetries, cfg.OutboxBackoff),
	}
	if streamManager != nil {
		publisher = streamManager
		outboxOpts = append(outboxOpts, outbox.WithStreams(streamManager))
	}

	mon := monitor.New(sessions, publisher, log)

	leadOutbox := outbox.New(&outbox.LogNotifier{Logger: log}, log, outboxOpts...)
	if err := leadOutbox.Start(ctx); err != nil {
		log.Error("failed to start lead outbox", "error", err)
		os.Exit(1)
	}
	defer leadOutbox.Stop()

	machine := phase.New()
	machine.AbandonThreshold = cfg.AbandonThreshold

	orch := orchestrator.New(sessions, machine, resp, leadOutbox, mon, log)

	healthHandler := handler.NewHealthHandler(natsClient)
	streamHandler := handler.NewStreamHandler(orch, log)
	syncHandler := handler.NewSyncHandler(orch, log)
	orchestrateHandler := handler.NewOrchestrateHandler(orch, log)
	monitoringHandler := handler.NewMonitoringHandler(mon, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-ID"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/stream", streamHandler.Capabilities)
		r.Post("/stream", streamHandler.Stream)

		r.Route("/realtime", func(r chi.Router) {
			r.Post("/sync", syncHandler.Sync)
			r.Get("/sync", syncHandler.State)
			r.Delete("/sync", syncHandler.Clear)
		})

		r.Get("/orchestrate", orchestrateHandler.Status)
		r.Post("/orchestrate", orchestrateHandler.Orchestrate)

		// Dashboard endpoints require an operator token.
		r.Route("/monitoring", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Get("/", monitoringHandler.Get)
			r.Post("/", monitoringHandler.Post)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Janitor: prune old events and terminal sessions on a timer.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				events, removed, err := mon.Cleanup(janitorCtx, time.Now().Add(-cfg.CleanupMaxAge))
				if err != nil {
					log.Warn("cleanup pass failed", "error", err)
					continue
				}
				orch.SyncGauges(janitorCtx)
				log.Info("cleanup pass complete", "events_removed", events, "sessions_removed", removed)
			}
		}
	}()

	go func() {
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
