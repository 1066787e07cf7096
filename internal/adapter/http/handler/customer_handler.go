package handler

import (
	"strconv"
	"time"

	"crm-billing-engine/internal/adapter/http/dto"
	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"
	"crm-billing-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CustomerHandler handles the minimal customer referent endpoints.
// Customers carry no billing logic, so the handler talks to the
// repository directly.
type CustomerHandler struct {
	customerRepo ports.CustomerRepository
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(customerRepo ports.CustomerRepository) *CustomerHandler {
	return &CustomerHandler{customerRepo: customerRepo}
}

// Create handles POST /api/v1/customers.
func (h *CustomerHandler) Create(c *gin.Context) {
	var req dto.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	customer := &domain.Customer{
		ID:        uuid.New(),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.customerRepo.Create(c.Request.Context(), customer); err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}

	response.Created(c, customer)
}

// Get handles GET /api/v1/customers/:id.
func (h *CustomerHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid customer id"))
		return
	}

	customer, err := h.customerRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if customer == nil {
		response.Error(c, apperror.ErrNotFound("customer"))
		return
	}

	response.OK(c, customer)
}

// List handles GET /api/v1/customers.
func (h *CustomerHandler) List(c *gin.Context) {
	page, pageSize := pagination(c)

	customers, total, err := h.customerRepo.List(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}

	response.OK(c, gin.H{
		"items":     customers,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// pagination reads page/page_size query params with sane bounds.
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
