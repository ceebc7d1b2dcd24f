package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
)

// maxWebhookPayloadSize bounds a payment_intent delivery, which is a few KB.
const maxWebhookPayloadSize = 64 << 10

// WebhookProcessor verifies and applies a gateway delivery
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*billingapp.WebhookResult, error)
}

// StripeWebhookHandler is the unauthenticated endpoint Stripe posts
// payment intent events to. Trust comes from the Stripe-Signature header.
type StripeWebhookHandler struct {
	processor WebhookProcessor
}

func NewStripeWebhookHandler(processor WebhookProcessor) *StripeWebhookHandler {
	return &StripeWebhookHandler{processor: processor}
}

// StripeWebhookResponse is the acknowledgement body. Stripe only looks at
// the status code; the body helps when replaying deliveries by hand.
type StripeWebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

func rejectWebhook(c *gin.Context, status int, message string) {
	c.JSON(status, StripeWebhookResponse{Message: message})
}

// HandleStripeWebhook answers 401 for an unverifiable delivery, which Stripe
// does not retry, and 500 when applying a verified one failed, which it
// does. Duplicates and ignored event types are acknowledged with 200.
// POST /webhooks/stripe
func (h *StripeWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// The signature covers the exact bytes, so the body is read raw.
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	switch {
	case err != nil:
		rejectWebhook(c, http.StatusBadRequest, "Failed to read request body")
		return
	case len(payload) > maxWebhookPayloadSize:
		rejectWebhook(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		rejectWebhook(c, http.StatusUnauthorized, "Missing Stripe-Signature header")
		return
	}

	result, err := h.processor.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil && (result == nil || errors.Is(err, billing.ErrWebhookVerification)) {
		rejectWebhook(c, http.StatusUnauthorized, "Webhook signature verification failed")
		return
	}

	resp := StripeWebhookResponse{Received: true, EventID: result.EventID, EventType: result.EventType}
	if err != nil {
		resp.Message = "Webhook processing failed, will be retried"
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	resp.Duplicate = result.Duplicate
	resp.Message = result.Message
	c.JSON(http.StatusOK, resp)
}
