// Package apperr defines the error taxonomy shared by the order, payment and
// transport layers. Domain code wraps these sentinels with fmt.Errorf("...: %w")
// so the transport can classify any error with Kind and HTTPStatus.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrMissingFields        = errors.New("missing required fields")
	ErrNotFound             = errors.New("not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrGatewayInitFailed    = errors.New("payment initialization failed")
	ErrPaymentNotSuccessful = errors.New("payment not successful")
	ErrDuplicateReference   = errors.New("duplicate payment reference")
)

// Kind returns the machine-readable classification of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"

	case errors.Is(err, ErrInvalidFilter):
		return "invalid_filter"

	case errors.Is(err, ErrMissingFields):
		return "missing_fields"

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"

	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"

	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"

	case errors.Is(err, ErrGatewayInitFailed):
		return "gateway_init_failed"

	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"

	case errors.Is(err, ErrPaymentNotSuccessful):
		return "payment_not_successful"

	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrPaymentNotSuccessful):
		return http.StatusBadRequest

	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized

	case errors.Is(err, ErrDuplicateReference):
		return http.StatusConflict

	case errors.Is(err, ErrGatewayInitFailed):
		return http.StatusBadGateway

	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the operation that
// produced err. Only processor reachability problems qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
