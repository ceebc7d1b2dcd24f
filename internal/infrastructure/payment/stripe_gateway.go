// Package payment adapts the external card processor to the billing
// domain's PaymentGateway port.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

var refundReasons = map[string]bool{
	string(stripe.RefundReasonDuplicate):           true,
	string(stripe.RefundReasonFraudulent):          true,
	string(stripe.RefundReasonRequestedByCustomer): true,
}

// StripeGateway implements billing.PaymentGateway on Stripe PaymentIntents
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// GatewayOption configures a StripeGateway
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	backends *stripe.Backends
}

// WithBackends overrides the HTTP backends, used by tests to fake Stripe
func WithBackends(backends *stripe.Backends) GatewayOption {
	return func(o *gatewayOptions) {
		o.backends = backends
	}
}

// NewStripeGateway builds a gateway client from configuration. Requests are
// bounded by cfg.Timeout and retried cfg.MaxNetworkRetries times by the SDK.
func NewStripeGateway(cfg config.StripeConfig, logger *zap.Logger, opts ...GatewayOption) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &gatewayOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.backends == nil {
		backendCfg := &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: cfg.Timeout},
			MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
			LeveledLogger:     logger.Named("stripe").Sugar(),
		}
		o.backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}
	}

	return &StripeGateway{
		api:           client.New(cfg.SecretKey, o.backends),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}, nil
}

// CreateIntent creates a card PaymentIntent. A payment method token confirms
// the intent immediately; without one the payer completes it client-side.
func (g *StripeGateway) CreateIntent(ctx context.Context, req billing.CreateIntentRequest) (*billing.GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinor),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.AddMetadata("bill_id", req.BillID.String())
	params.AddMetadata("payment_id", req.PaymentID.String())
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
		params.Confirm = stripe.Bool(true)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Error("Failed to create payment intent",
			zap.String("bill_id", req.BillID.String()),
			zap.String("payment_id", req.PaymentID.String()),
			zap.Error(err))
		return nil, classify("create payment intent", err)
	}

	g.logger.Info("Created payment intent",
		zap.String("bill_id", req.BillID.String()),
		zap.String("intent_id", pi.ID),
		zap.String("status", string(pi.Status)))

	return toGatewayIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*billing.GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		g.logger.Warn("Failed to retrieve payment intent",
			zap.String("intent_id", intentID),
			zap.Error(err))
		return nil, classify("retrieve payment intent", err)
	}
	return toGatewayIntent(pi), nil
}

// Refund refunds AmountMinor of the intent. Free-text reasons outside the
// Stripe enumeration travel in metadata.
func (g *StripeGateway) Refund(ctx context.Context, req billing.RefundRequest) (*billing.GatewayRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(req.AmountMinor),
		Reason:        stripe.String(billing.DefaultRefundReason),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Reason != "" {
		if refundReasons[req.Reason] {
			params.Reason = stripe.String(req.Reason)
		} else {
			params.AddMetadata("reason", req.Reason)
		}
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		g.logger.Error("Failed to create refund",
			zap.String("intent_id", req.IntentID),
			zap.Int64("amount_minor", req.AmountMinor),
			zap.Error(err))
		return nil, classify("create refund", err)
	}

	g.logger.Info("Created refund",
		zap.String("intent_id", req.IntentID),
		zap.String("refund_id", r.ID),
		zap.String("status", string(r.Status)))

	return &billing.GatewayRefund{
		ID:          r.ID,
		Status:      string(r.Status),
		AmountMinor: r.Amount,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
// Intent fields are filled only for payment_intent.* events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*billing.GatewayEvent, error) {
	if g.webhookSecret == "" {
		return nil, shared.WrapDomainError(billing.CodeWebhookVerification, errors.New("stripe: webhook secret not configured"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, shared.WrapDomainError(billing.CodeWebhookVerification, err)
	}

	out := &billing.GatewayEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if strings.HasPrefix(out.Type, "payment_intent.") && event.Data != nil {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: failed to decode payment intent in %s: %w", event.ID, err)
		}
		out.IntentID = pi.ID
		out.IntentStatus = billing.IntentStatus(pi.Status)
	}
	return out, nil
}

func toGatewayIntent(pi *stripe.PaymentIntent) *billing.GatewayIntent {
	return &billing.GatewayIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       billing.IntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}

// classify marks transport failures, rate limiting and Stripe-side 5xx as
// ErrGatewayUnavailable. Request and card errors pass through wrapped.
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return shared.WrapDomainError(billing.CodeGatewayUnavailable, fmt.Errorf("stripe: %s: %w", op, err))
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return shared.WrapDomainError(billing.CodeGatewayUnavailable, fmt.Errorf("stripe: %s: %w", op, err))
}

var _ billing.PaymentGateway = (*StripeGateway)(nil)
