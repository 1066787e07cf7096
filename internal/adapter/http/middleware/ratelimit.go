package middleware

import (
	"fmt"
	"time"

	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"
	"crm-billing-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimitRules returns the per-endpoint-group rate limits.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"invoices":      {Limit: 120, Window: time.Minute},
		"payments":      {Limit: 60, Window: time.Minute},
		"recurring":     {Limit: 60, Window: time.Minute},
		"recurring_run": {Limit: 6, Window: time.Minute},
		"webhooks":      {Limit: 30, Window: time.Minute},
		"reports":       {Limit: 60, Window: time.Minute},
	}
}

// RateLimit creates a rate-limiting middleware for a given endpoint
// group, keyed by client IP. Limiter failures degrade to allowing the
// request rather than blocking billing operations.
func RateLimit(limiter ports.RateLimiter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", c.ClientIP(), group)

		allowed, err := limiter.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(rule.Window.Seconds())))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}
