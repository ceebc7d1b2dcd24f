package dto

import "net/http"

// Error codes returned in the response envelope. Billing domain codes pass
// through unchanged; the rest are produced by the HTTP layer itself.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"

	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeBillNotFound        = "BILL_NOT_FOUND"
	ErrCodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	ErrCodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	ErrCodeWebhookVerification = "WEBHOOK_VERIFICATION_FAILED"
)

var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:  http.StatusServiceUnavailable,

	// A move the current state does not allow is a conflict with that state
	ErrCodeInvalidState:        http.StatusConflict,
	ErrCodeInvalidTransition:   http.StatusConflict,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	ErrCodeBillNotFound:        http.StatusNotFound,
	ErrCodePaymentNotFound:     http.StatusNotFound,
	ErrCodeGatewayUnavailable:  http.StatusBadGateway,
	ErrCodeWebhookVerification: http.StatusUnauthorized,
}

// GetHTTPStatus maps an error code to its status. Unknown codes are 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
