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
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/bridge"
	"github.com/pulsechat/realtime/internal/config"
	"github.com/pulsechat/realtime/internal/handler"
	"github.com/pulsechat/realtime/internal/middleware"
	"github.com/pulsechat/realtime/internal/presence"
	"github.com/pulsechat/realtime/internal/service"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "pulsechat-realtime", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store and run migrations
	st, err := store.Open(cfg.SQLiteDSN)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Error("failed to migrate store", zap.Error(err))
		os.Exit(1)
	}

	// Connect to NATS. An empty URL runs the node standalone with local
	// fan-out only.
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = bridge.Connect(bridge.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()
	}

	// Hub, cross-node bridge, presence
	hub := ws.NewHub(log)
	br := bridge.New(hub, nc, log)
	if err := br.Start(); err != nil {
		log.Error("failed to start event bridge", zap.Error(err))
		os.Exit(1)
	}
	registry := presence.NewRegistry(cfg.ViewingTTL)

	// Initialize services
	directory := &service.StoreDirectory{Store: st}
	fanoutSvc := service.NewFanoutService(st, registry, directory, br, log)
	deliverySvc := service.NewDeliveryService(st, fanoutSvc, br, log)
	conversationSvc := service.NewConversationService(st, br, log)
	conversationSvc.SetDelivery(deliverySvc)
	readerSvc := service.NewReaderService(st, br, log)
	callSvc := service.NewCallService(hub, br, log)
	sessionSvc := service.NewSessionService(st, registry, hub, br, callSvc, log)
	hub.SetDispatcher(sessionSvc)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st, nc)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(deliverySvc, readerSvc, log)
	notificationHandler := handler.NewNotificationHandler(readerSvc, log)
	wsHandler := handler.NewWSHandler(hub, cfg.JWTSecret, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Websocket endpoint authenticates with a token query parameter.
	r.Get("/ws", wsHandler.Serve)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/leave", conversationHandler.Leave)
				r.Put("/mute", conversationHandler.Mute)

				// Members
				r.Post("/members", conversationHandler.AddMember)
				r.Delete("/members/{userID}", conversationHandler.RemoveMember)
				r.Put("/members/{userID}/role", conversationHandler.SetRole)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Delete("/messages/{messageID}", messageHandler.Delete)
				r.Post("/read", messageHandler.MarkRead)
			})
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/unread", notificationHandler.UnreadSummary)
			r.Post("/read-all", notificationHandler.MarkAllRead)
			r.Post("/{id}/read", notificationHandler.MarkRead)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
