package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-billing-engine/config"
	httpHandler "crm-billing-engine/internal/adapter/http/handler"
	pgStorage "crm-billing-engine/internal/adapter/storage/postgres"
	redisStorage "crm-billing-engine/internal/adapter/storage/redis"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/internal/service"
	"crm-billing-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting CRM Billing Engine")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	customerRepo := pgStorage.NewCustomerRepo(pool)
	invoiceRepo := pgStorage.NewInvoiceRepo(pool)
	recurringRepo := pgStorage.NewRecurringRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	activityRepo := pgStorage.NewActivityRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	activitySvc := service.NewActivityService(activityRepo, log)
	dispatcher := service.NewWebhookDispatcher(
		webhookRepo,
		sigSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		cfg.Webhook,
		log,
	)

	// Initialize business services
	invoiceSvc := service.NewInvoiceService(invoiceRepo, customerRepo, transactor, dispatcher, activitySvc, cfg.Billing, log)
	recurringSvc := service.NewRecurringService(recurringRepo, invoiceSvc, transactor, activitySvc, log)
	webhookSvc := service.NewWebhookService(webhookRepo, log)
	reportingSvc := service.NewReportingService(invoiceRepo, log)

	// Initialize rate limit store
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		InvoiceSvc:     invoiceSvc,
		RecurringSvc:   recurringSvc,
		WebhookSvc:     webhookSvc,
		ReportingSvc:   reportingSvc,
		ActivitySvc:    activitySvc,
		CustomerRepo:   customerRepo,
		RateLimiter:    rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight webhook deliveries finish before exiting.
	dispatcher.Wait()

	log.Info().Msg("Server exited")
}
