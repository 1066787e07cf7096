package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----
// Malformed invoice or line-item data, rejected before any persistence.

func ErrInvalidQuantity() *AppError {
	return New("VAL_001", "Line item quantity must be positive", http.StatusBadRequest)
}

func ErrInvalidUnitPrice() *AppError {
	return New("VAL_002", "Line item unit price must not be negative", http.StatusBadRequest)
}

func ErrInvalidVATRate() *AppError {
	return New("VAL_003", "VAT rate must be a fraction between 0 and 1", http.StatusBadRequest)
}

func ErrInvalidPaymentAmount() *AppError {
	return New("VAL_004", "Payment amount must be positive", http.StatusBadRequest)
}

func ErrOverpayment(remaining string) *AppError {
	return New("VAL_005", fmt.Sprintf("Payment exceeds balance due, at most %s can be recorded", remaining), http.StatusBadRequest)
}

// Validation returns a generic VAL_000 validation error for binding failures.
func Validation(message string) *AppError {
	return New("VAL_000", message, http.StatusBadRequest)
}

// ---- Billing Business Logic (BIL) ----

func ErrNotFound(entity string) *AppError {
	return New("BIL_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvoiceCancelled() *AppError {
	return New("BIL_002", "Invoice is cancelled", http.StatusBadRequest)
}

func ErrInvoiceNotEditable() *AppError {
	return New("BIL_003", "Only draft and sent invoices can be edited", http.StatusBadRequest)
}

func ErrInvalidStatusTransition(from, to string) *AppError {
	return New("BIL_004", fmt.Sprintf("Invoice status cannot move from %s to %s", from, to), http.StatusBadRequest)
}

func ErrOccurrenceAlreadyGenerated() *AppError {
	return New("BIL_005", "An invoice for this occurrence already exists", http.StatusConflict)
}

func ErrTemplateDisabled() *AppError {
	return New("BIL_006", "Recurring template is disabled", http.StatusBadRequest)
}

// ---- Recurrence Configuration (CFG) ----
// Malformed templates: the affected template is skipped, others continue.

func ErrUnknownCadence(cadence string) *AppError {
	return New("CFG_001", fmt.Sprintf("Unknown cadence %q", cadence), http.StatusBadRequest)
}

func ErrTemplateWithoutItems() *AppError {
	return New("CFG_002", "Recurring template has no line-item blueprint", http.StatusBadRequest)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
