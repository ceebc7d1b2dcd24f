package billing

import (
	"context"

	"github.com/google/uuid"
)

// IntentStatus is the gateway's own status string for a payment intent
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusRequiresSourceAction  IntentStatus = "requires_source_action"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusCanceled              IntentStatus = "canceled"
)

var intentStatusMap = map[IntentStatus]PaymentStatus{
	IntentStatusRequiresPaymentMethod: PaymentStatusFailed,
	IntentStatusRequiresConfirmation:  PaymentStatusPending,
	IntentStatusRequiresAction:        PaymentStatusRequiresAction,
	IntentStatusRequiresSourceAction:  PaymentStatusRequiresAction,
	IntentStatusProcessing:            PaymentStatusPending,
	IntentStatusSucceeded:             PaymentStatusCompleted,
	IntentStatusCanceled:              PaymentStatusCancelled,
}

// MapIntentStatus maps a gateway intent status onto the local payment status.
// Unknown statuses map to pending.
func MapIntentStatus(s IntentStatus) PaymentStatus {
	if mapped, ok := intentStatusMap[s]; ok {
		return mapped
	}
	return PaymentStatusPending
}

// Gateway webhook event types the reconciler acts on
const (
	WebhookPaymentIntentSucceeded = "payment_intent.succeeded"
	WebhookPaymentIntentFailed    = "payment_intent.payment_failed"
)

// DefaultRefundReason is sent when the caller gives none
const DefaultRefundReason = "requested_by_customer"

// GatewayIntent is the gateway's view of a payment attempt
type GatewayIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Currency     string
}

// CreateIntentRequest asks the gateway for a new intent. Amount is in integer
// minor units; currency is the lowercase ISO code.
type CreateIntentRequest struct {
	BillID         uuid.UUID
	PaymentID      uuid.UUID
	AmountMinor    int64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
}

// RefundRequest asks the gateway to refund part or all of an intent
type RefundRequest struct {
	IntentID       string
	AmountMinor    int64
	Reason         string
	IdempotencyKey string
}

// GatewayRefund is the gateway's refund receipt
type GatewayRefund struct {
	ID          string
	Status      string
	AmountMinor int64
}

// GatewayEvent is a verified webhook delivery
type GatewayEvent struct {
	ID           string
	Type         string
	IntentID     string
	IntentStatus IntentStatus
}

// IsPaymentIntentEvent reports whether the reconciler applies this event
func (e *GatewayEvent) IsPaymentIntentEvent() bool {
	return e.Type == WebhookPaymentIntentSucceeded || e.Type == WebhookPaymentIntentFailed
}

// TargetStatus is the local status the event asks for. When the payload
// carries no intent status it is implied by the event type.
func (e *GatewayEvent) TargetStatus() PaymentStatus {
	if e.IntentStatus != "" {
		return MapIntentStatus(e.IntentStatus)
	}
	if e.Type == WebhookPaymentIntentSucceeded {
		return PaymentStatusCompleted
	}
	return PaymentStatusFailed
}

// PaymentGateway is the port to the external payment processor. Calls are
// blocking network I/O bounded by ctx; failures to reach the gateway are
// reported as ErrGatewayUnavailable.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*GatewayIntent, error)
	Refund(ctx context.Context, req RefundRequest) (*GatewayRefund, error)
	// ParseWebhook verifies the signature header against the shared secret
	// and decodes the event. Verification failures return ErrWebhookVerification.
	ParseWebhook(payload []byte, signature string) (*GatewayEvent, error)
}
