package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"crm-billing-engine/config"
	pgStorage "crm-billing-engine/internal/adapter/storage/postgres"
	"crm-billing-engine/internal/service"
	"crm-billing-engine/pkg/logger"
)

// billingrun is the one-shot daily batch: it generates invoices for
// every due recurring template and then sweeps for newly overdue
// invoices. Intended to run from cron.
func main() {
	asOfFlag := flag.String("as-of", "", "run date in YYYY-MM-DD form (default: today)")
	skipRecurrence := flag.Bool("skip-recurrence", false, "skip recurring invoice generation")
	skipOverdue := flag.Bool("skip-overdue", false, "skip the overdue sweep")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	asOf := time.Now().UTC()
	if *asOfFlag != "" {
		asOf, err = time.Parse("2006-01-02", *asOfFlag)
		if err != nil {
			log.Fatal().Str("as_of", *asOfFlag).Msg("as-of must be YYYY-MM-DD")
		}
	}

	log.Info().Time("as_of", asOf).Msg("Starting billing run")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	customerRepo := pgStorage.NewCustomerRepo(pool)
	invoiceRepo := pgStorage.NewInvoiceRepo(pool)
	recurringRepo := pgStorage.NewRecurringRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	activityRepo := pgStorage.NewActivityRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	sigSvc := service.NewHMACSignatureService()
	activitySvc := service.NewActivityService(activityRepo, log)
	dispatcher := service.NewWebhookDispatcher(
		webhookRepo,
		sigSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		cfg.Webhook,
		log,
	)

	invoiceSvc := service.NewInvoiceService(invoiceRepo, customerRepo, transactor, dispatcher, activitySvc, cfg.Billing, log)
	recurringSvc := service.NewRecurringService(recurringRepo, invoiceSvc, transactor, activitySvc, log)
	overdueSvc := service.NewOverdueService(invoiceRepo, dispatcher, log)

	exitCode := 0

	if !*skipRecurrence {
		report, err := recurringSvc.RunDue(ctx, asOf)
		if err != nil {
			log.Error().Err(err).Msg("Recurring run failed")
			exitCode = 1
		} else {
			log.Info().
				Int("due", report.Due).
				Int("generated", report.Generated).
				Int("skipped", report.Skipped).
				Int("failed", report.Failed).
				Msg("Recurring run finished")
			if report.Failed > 0 {
				exitCode = 1
			}
		}
	}

	if !*skipOverdue {
		report, err := overdueSvc.Sweep(ctx, asOf)
		if err != nil {
			log.Error().Err(err).Msg("Overdue sweep failed")
			exitCode = 1
		} else {
			log.Info().
				Int("scanned", report.Scanned).
				Int("notified", report.Notified).
				Int("failed", report.Failed).
				Msg("Overdue sweep finished")
			if report.Failed > 0 {
				exitCode = 1
			}
		}
	}

	// Webhook deliveries run in the background; wait for them before
	// the process exits.
	dispatcher.Wait()

	log.Info().Msg("Billing run complete")
	os.Exit(exitCode)
}
