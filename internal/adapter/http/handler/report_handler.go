package handler

import (
	"net/http"
	"strconv"
	"time"

	"crm-billing-engine/internal/adapter/http/dto"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"
	"crm-billing-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReportHandler handles dashboard reporting endpoints.
type ReportHandler struct {
	reportingSvc ports.ReportingService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportingSvc ports.ReportingService) *ReportHandler {
	return &ReportHandler{reportingSvc: reportingSvc}
}

// GetStats handles GET /api/v1/reports/stats.
func (h *ReportHandler) GetStats(c *gin.Context) {
	var params ports.StatsParams

	if s := c.Query("from"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			response.Error(c, apperror.Validation("from must be YYYY-MM-DD"))
			return
		}
		params.From = &d
	}
	if s := c.Query("to"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			response.Error(c, apperror.Validation("to must be YYYY-MM-DD"))
			return
		}
		params.To = &d
	}

	stats, err := h.reportingSvc.GetStats(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		TotalInvoices:  stats.TotalInvoices,
		TotalInvoiced:  stats.TotalInvoiced.String(),
		TotalCollected: stats.TotalCollected.String(),
		Outstanding:    stats.Outstanding.String(),
		OverdueCount:   stats.OverdueCount,
		OverdueAmount:  stats.OverdueAmount.String(),
		DraftCount:     stats.DraftCount,
		CancelledCount: stats.CancelledCount,
		PaymentsCount:  stats.PaymentsCount,
	})
}

// Revenue handles GET /api/v1/reports/revenue. The year defaults to the
// current one.
func (h *ReportHandler) Revenue(c *gin.Context) {
	year := time.Now().UTC().Year()
	if s := c.Query("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			response.Error(c, apperror.Validation("year must be numeric"))
			return
		}
		year = y
	}

	months, err := h.reportingSvc.MonthlyRevenue(c.Request.Context(), year)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.RevenueResponse{Year: year, Months: make([]dto.RevenueMonthResponse, 0, len(months))}
	for _, m := range months {
		resp.Months = append(resp.Months, dto.RevenueMonthResponse{
			Month:     m.Month,
			Collected: m.Collected.String(),
		})
	}
	response.OK(c, resp)
}

// HealthCheck handles GET /health — deep health check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
