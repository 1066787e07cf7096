package handler

import (
	"crm-billing-engine/internal/adapter/http/middleware"
	"crm-billing-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	InvoiceSvc     ports.InvoiceService
	RecurringSvc   ports.RecurringService
	WebhookSvc     ports.WebhookService
	ReportingSvc   ports.ReportingService
	ActivitySvc    ports.ActivityService
	CustomerRepo   ports.CustomerRepository
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.RateLimiter, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	customerHandler := NewCustomerHandler(deps.CustomerRepo)
	customers := v1.Group("/customers")
	{
		customers.POST("", rl("invoices"), customerHandler.Create)
		customers.GET("", rl("invoices"), customerHandler.List)
		customers.GET("/:id", rl("invoices"), customerHandler.Get)
	}

	invoiceHandler := NewInvoiceHandler(deps.InvoiceSvc, deps.ActivitySvc)
	invoices := v1.Group("/invoices")
	{
		invoices.POST("", rl("invoices"), invoiceHandler.Create)
		invoices.GET("", rl("invoices"), invoiceHandler.List)
		invoices.GET("/:id", rl("invoices"), invoiceHandler.Get)
		invoices.PUT("/:id/items", rl("invoices"), invoiceHandler.ReplaceItems)
		invoices.POST("/:id/payments", rl("payments"), invoiceHandler.RecordPayment)
		invoices.DELETE("/:id/payments/:paymentID", rl("payments"), invoiceHandler.DeletePayment)
		invoices.POST("/:id/status", rl("invoices"), invoiceHandler.SetStatus)
		invoices.GET("/:id/activity", rl("invoices"), invoiceHandler.Activity)
	}

	recurringHandler := NewRecurringHandler(deps.RecurringSvc)
	recurring := v1.Group("/recurring")
	{
		recurring.POST("", rl("recurring"), recurringHandler.Create)
		recurring.GET("", rl("recurring"), recurringHandler.List)
		recurring.GET("/:id", rl("recurring"), recurringHandler.Get)
		recurring.POST("/:id/active", rl("recurring"), recurringHandler.SetActive)
		recurring.POST("/:id/generate", rl("recurring"), recurringHandler.Generate)
		recurring.POST("/run", rl("recurring_run"), recurringHandler.Run)
	}

	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("", rl("webhooks"), webhookHandler.Subscribe)
		webhooks.GET("", rl("webhooks"), webhookHandler.List)
		webhooks.DELETE("/:id", rl("webhooks"), webhookHandler.Unsubscribe)
		webhooks.GET("/:id/attempts", rl("webhooks"), webhookHandler.ListAttempts)
	}

	reportHandler := NewReportHandler(deps.ReportingSvc)
	reports := v1.Group("/reports")
	{
		reports.GET("/stats", rl("reports"), reportHandler.GetStats)
		reports.GET("/revenue", rl("reports"), reportHandler.Revenue)
	}

	return r
}
