package billing

import (
	"errors"

	"github.com/hms/backend/internal/domain/shared"
)

// Error codes carried by billing domain errors
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeInvalidState        = "INVALID_STATE"
	CodeBillNotFound        = "BILL_NOT_FOUND"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	CodeWebhookVerification = "WEBHOOK_VERIFICATION_FAILED"
)

// Classified errors. Use errors.Is against these; detailed errors built by the
// package share their codes.
var (
	ErrValidation          = shared.ErrValidation
	ErrInvalidTransition   = shared.NewDomainError(CodeInvalidTransition, "payment: status transition not allowed")
	ErrInvalidState        = shared.ErrInvalidState
	ErrBillNotFound        = shared.NewDomainError(CodeBillNotFound, "billing: bill not found")
	ErrPaymentNotFound     = shared.NewDomainError(CodePaymentNotFound, "payment: payment not found")
	ErrGatewayUnavailable  = shared.NewDomainError(CodeGatewayUnavailable, "payment: gateway temporarily unavailable")
	ErrWebhookVerification = shared.NewDomainError(CodeWebhookVerification, "payment: webhook signature verification failed")
)

// Validation causes, reachable with errors.Is through the classified error
var (
	ErrNonPositiveAmount      = errors.New("payment: amount must be greater than zero")
	ErrAmountExceedsBalance   = errors.New("payment: amount exceeds balance due")
	ErrInvalidPaymentMethod   = errors.New("payment: invalid payment method")
	ErrInvalidPaymentStatus   = errors.New("payment: invalid payment status")
	ErrRefundExceedsPayment   = errors.New("refund: amount exceeds payment amount")
	ErrInvalidPatient         = errors.New("billing: patient id is required")
	ErrInvalidBatch           = errors.New("billing: invalid batch key")
	ErrInvalidSource          = errors.New("billing: invalid source reference")
	ErrEmptyDescription       = errors.New("billing: item description is required")
	ErrInvalidQuantity        = errors.New("billing: item quantity must be greater than zero")
	ErrNegativeUnitPrice      = errors.New("billing: unit price cannot be negative")
	ErrNegativeAdjustment     = errors.New("billing: tax and discount cannot be negative")
	ErrDiscountExceedsTotal   = errors.New("billing: discount exceeds subtotal plus tax")
	ErrBillNumberAlreadySet   = errors.New("billing: bill number already assigned")
	ErrDuplicateSourceOnBill  = errors.New("billing: bill already has an item for this source")
	ErrInvariantViolated      = errors.New("billing: ledger invariant violated")
	ErrBillCancelled          = errors.New("billing: bill is cancelled")
	ErrBillHasPayments        = errors.New("billing: bill has completed payments")
	ErrNothingToPay           = errors.New("billing: bill has no balance due")
	ErrPaymentTerminal        = errors.New("payment: payment is in a terminal state")
	ErrGatewayBackedPayment   = errors.New("payment: amount and method of a card payment are fixed by its gateway intent")
)

func validationError(cause error) error {
	return shared.WrapDomainError(CodeValidation, cause)
}

func stateError(cause error) error {
	return shared.WrapDomainError(CodeInvalidState, cause)
}
