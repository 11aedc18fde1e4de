package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/api"
	"github.com/dennisdiepolder/monti/callrouter/internal/auth"
	"github.com/dennisdiepolder/monti/callrouter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callrouter/internal/config"
	"github.com/dennisdiepolder/monti/callrouter/internal/engine"
	"github.com/dennisdiepolder/monti/callrouter/internal/ingestion"
	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/dennisdiepolder/monti/callrouter/internal/session"
	"github.com/dennisdiepolder/monti/callrouter/internal/storage"
	"github.com/dennisdiepolder/monti/callrouter/internal/ticker"
	"github.com/dennisdiepolder/monti/callrouter/internal/websocket"
	"github.com/dennisdiepolder/monti/callrouter/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("fallback_company_id", cfg.FallbackCompanyID).
		Msg("starting call router")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Directory and session history
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	iceServers, err := session.ICEServersFromURLs(cfg.STUNURLs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid STUN_URLS")
	}

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	// Create the routing engine; it owns all live state
	eng := engine.New(engine.Config{
		FallbackCompanyID: cfg.FallbackCompanyID,
		QueueUnitSeconds:  cfg.QueueUnitSeconds,
		QueueUpdateBatch:  cfg.QueueUpdateBatch,
		QueueMaxWait:      cfg.QueueMaxWait,
		RingTimeout:       cfg.RingTimeout,
		DeclineCooldown:   cfg.DeclineCooldown,
		DefaultMaxLoad:    cfg.DefaultMaxLoad,
		ICEServers:        session.WireICEServers(iceServers),
	}, hub, store, log.Logger)
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	// Transport boundary: decode, validate, resolve directory data
	gateway := ingestion.NewGateway(eng, store, ingestion.GatewayConfig{
		RequireKnownCompany: cfg.RequireKnownCompany,
	}, log.Logger)

	// Periodic queue updates, ring timeouts, staleness
	tickerService := ticker.NewTicker(eng, cfg.QueueTickInterval, log.Logger)
	go tickerService.Start(ctx)

	authenticator := auth.NewAuthenticator(auth.Config{
		SkipAuth:        cfg.SkipAuth,
		VerifySignature: cfg.VerifyJWTSignature,
		Env:             cfg.Env,
		OIDCIssuer:      cfg.OIDCIssuer,
	}, log.Logger)
	if cfg.SkipAuth {
		log.Warn().Msg("SKIP_AUTH enabled, agent and operator routes are unauthenticated")
	}

	// Create handlers
	visitorWS := websocket.NewVisitorHandler(hub, gateway, cfg, log.Logger)
	agentWS := websocket.NewAgentHandler(hub, gateway, cfg, log.Logger)
	callHandler := callqueue.NewCallHandler(gateway, log.Logger)
	rosterHandler := api.NewRosterHandler(store, log.Logger)
	actionsHandler := api.NewAgentActionsHandler(eng, log.Logger)
	historyHandler := api.NewSessionHistoryHandler(store, log.Logger)
	adminHandler := api.NewAdminHandler(eng, store, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Get().Handler())

	// Widget surface (visitors are anonymous)
	r.Get("/ws/visitor", visitorWS.ServeHTTP)
	r.Route("/api/widget", func(r chi.Router) {
		r.Post("/route-call", callHandler.HandleRouteCall)
		r.Get("/queue-status", callHandler.HandleQueueStatus)
	})

	// Agent socket
	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Get("/ws/agent", agentWS.ServeHTTP)
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(api.RequireSupervisorOrAdmin)
			r.Get("/api/stats", adminHandler.GetStats)
			r.Get("/api/sessions", actionsHandler.ListSessions)
			r.Get("/api/companies/{companyId}/presence", actionsHandler.GetPresence)
			r.Get("/api/companies/{companyId}/queue", actionsHandler.GetQueue)
			r.Get("/api/companies/{companyId}/sessions", historyHandler.GetSessions)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.RequireAdmin)
			r.Post("/internal/agents/roster", rosterHandler.HandleRoster)
			r.Post("/internal/admin/wipe-storage", adminHandler.WipeStorage)
			r.Post("/api/sessions/{sessionId}/end", actionsHandler.ForceEndSession)
			r.Post("/api/agents/{companyId}/{agentHandle}/logout", actionsHandler.Logout)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests, then stop the ticker, hub and engine
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("engine did not stop before shutdown deadline")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callrouter"}`)
}
