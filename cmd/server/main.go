package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pesio-ai/be-procure-requests/internal/client"
	"github.com/pesio-ai/be-procure-requests/internal/config"
	"github.com/pesio-ai/be-procure-requests/internal/database"
	"github.com/pesio-ai/be-procure-requests/internal/events"
	"github.com/pesio-ai/be-procure-requests/internal/handler"
	"github.com/pesio-ai/be-procure-requests/internal/logger"
	"github.com/pesio-ai/be-procure-requests/internal/metrics"
	"github.com/pesio-ai/be-procure-requests/internal/middleware"
	natsclient "github.com/pesio-ai/be-procure-requests/internal/nats"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
	"github.com/pesio-ai/be-procure-requests/internal/service"
	"github.com/pesio-ai/be-procure-requests/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Connect to NATS. The broker is optional in local development; without
	// it notifications and broker-driven triggers are disabled.
	var nc *natsclient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsclient.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
	} else {
		log.Warn().Msg("NATS URL not configured; events and notifications disabled")
	}

	// Initialize clients
	gatewayClient := client.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	// Initialize workflow engine
	store := repository.NewStore(db)
	reconciler := workflow.NewReconciler(&workflow.VendorCountPolicy{
		MinVendors: cfg.Workflow.QuoteMinVendors,
	})
	coordinator := workflow.NewPaymentCoordinator(gatewayClient)
	executor := workflow.NewExecutor(store, reconciler, coordinator, workflow.Config{
		StepRetryLimit: cfg.Workflow.StepRetryLimit,
	}, log)

	// Re-deliver the last trigger of every RUNNING execution interrupted by
	// the previous shutdown or crash.
	if err := executor.ResumeRunning(ctx, cfg.Workflow.ResumeConcurrency); err != nil {
		log.Error().Err(err).Msg("Failed to resume running executions")
	}

	// Initialize services
	procurementService := service.NewProcurementService(store, executor, notifier, log)

	// Start broker subscriptions
	subscriber := events.NewSubscriber(nc, procurementService, events.Config{
		QuoteSubject:   cfg.NATS.QuoteSubject,
		PaymentSubject: cfg.NATS.PaymentSubject,
		QueueGroup:     cfg.NATS.QueueGroup,
	}, log)
	if err := subscriber.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event subscriptions")
	}
	defer subscriber.Stop()

	// Start the quote deadline sweeper
	sweeper := workflow.NewSweeper(executor, cfg.Workflow.QuoteDeadline, cfg.Workflow.SweepInterval, log)
	go sweeper.Run(ctx)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(procurementService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	// Procurement request routes
	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRequests(w, r)
		case http.MethodPost:
			httpHandler.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/requests/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/quotes", httpHandler.SubmitQuote)
	mux.HandleFunc("/api/v1/requests/quotes/list", httpHandler.ListQuotes)
	mux.HandleFunc("/api/v1/requests/approve", httpHandler.ApproveQuote)
	mux.HandleFunc("/api/v1/requests/payment/retry", httpHandler.RetryPayment)
	mux.HandleFunc("/api/v1/requests/cancel", httpHandler.CancelRequest)
	mux.HandleFunc("/api/v1/requests/audit", httpHandler.GetAuditTrail)
	mux.HandleFunc("/api/v1/payments/webhook", httpHandler.GatewayWebhook)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
