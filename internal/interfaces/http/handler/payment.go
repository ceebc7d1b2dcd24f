package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/interfaces/http/dto"
)

// PaymentService is the slice of the payment processor the endpoints use
type PaymentService interface {
	CreatePayment(ctx context.Context, in billingapp.CreatePaymentInput) (*billing.Payment, error)
	CreateIntentForBalance(ctx context.Context, billID uuid.UUID, token string, processedBy *uuid.UUID) (*billing.Payment, error)
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, in billingapp.UpdatePaymentInput) (*billing.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, in billingapp.RefundInput) (*billing.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error)
}

// PaymentSyncer pulls a payment's status from the gateway
type PaymentSyncer interface {
	SyncFromIntent(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error)
}

// PaymentHandler handles payment endpoints
type PaymentHandler struct {
	BaseHandler
	payments PaymentService
	syncer   PaymentSyncer
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentService, syncer PaymentSyncer) *PaymentHandler {
	return &PaymentHandler{payments: payments, syncer: syncer}
}

// Create records a payment against a bill. Card payments come back with
// the gateway client secret.
// POST /bills/:id/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.CreatePaymentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	payment, err := h.payments.CreatePayment(c.Request.Context(), billingapp.CreatePaymentInput{
		BillID:             billID,
		Amount:             *req.Amount,
		Currency:           req.Currency,
		Method:             billing.PaymentMethod(req.Method),
		ReferenceNumber:    req.ReferenceNumber,
		Notes:              req.Notes,
		ProcessedBy:        req.ProcessedBy,
		PaymentMethodToken: req.PaymentMethodToken,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.NewPaymentResponse(payment))
}

// CreateIntent opens a card payment for the bill's whole balance
// POST /bills/:id/payment-intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateIntentRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	payment, err := h.payments.CreateIntentForBalance(c.Request.Context(), billID, req.PaymentMethodToken, req.ProcessedBy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.NewPaymentResponse(payment))
}

// Update applies an operator's edit
// PATCH /payments/:id
func (h *PaymentHandler) Update(c *gin.Context) {
	paymentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdatePaymentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	payment, err := h.payments.UpdatePayment(c.Request.Context(), paymentID, req.ToInput())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResponse(payment))
}

// Refund refunds all or part of a completed payment. A client that may
// resend the request sets Idempotency-Key so a resend is not refunded again.
// POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	paymentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.RefundRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), paymentID, billingapp.RefundInput{
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResponse(payment))
}

// Sync pulls the payment's status from the gateway
// POST /payments/:id/sync
func (h *PaymentHandler) Sync(c *gin.Context) {
	paymentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	payment, err := h.syncer.SyncFromIntent(c.Request.Context(), paymentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResponse(payment))
}

// Get returns one payment
// GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	paymentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	payment, err := h.payments.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResponse(payment))
}
