package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultWebhookTTL     = 72 * time.Hour
	defaultReconcileBatch = 50
)

// GatewayReconciler keeps local payment status in step with the gateway,
// from synchronous creation, polling and webhooks alike
type GatewayReconciler struct {
	store       billing.LedgerStore
	gateway     billing.PaymentGateway
	idempotency shared.IdempotencyStore
	metrics     Metrics
	logger      *zap.Logger
	now         func() time.Time

	timeout        time.Duration
	webhookTTL     time.Duration
	reconcileBatch int
	reconcileAge   time.Duration
}

// GatewayReconcilerConfig holds the dependencies of a GatewayReconciler
type GatewayReconcilerConfig struct {
	Store   billing.LedgerStore
	Gateway billing.PaymentGateway
	// Idempotency deduplicates webhook redeliveries by event id. Optional.
	Idempotency shared.IdempotencyStore
	Metrics     Metrics
	Logger      *zap.Logger
	Now         func() time.Time

	// Timeout bounds each gateway call
	Timeout    time.Duration
	WebhookTTL time.Duration
	// ReconcileBatch and ReconcileMinAge select what the poller looks at:
	// unsettled payments untouched for at least ReconcileMinAge
	ReconcileBatch  int
	ReconcileMinAge time.Duration
}

// NewGatewayReconciler creates a new GatewayReconciler
func NewGatewayReconciler(cfg GatewayReconcilerConfig) *GatewayReconciler {
	r := &GatewayReconciler{
		store:          cfg.Store,
		gateway:        cfg.Gateway,
		idempotency:    cfg.Idempotency,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
		timeout:        cfg.Timeout,
		webhookTTL:     cfg.WebhookTTL,
		reconcileBatch: cfg.ReconcileBatch,
		reconcileAge:   cfg.ReconcileMinAge,
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.timeout <= 0 {
		r.timeout = defaultGatewayTimeout
	}
	if r.webhookTTL <= 0 {
		r.webhookTTL = defaultWebhookTTL
	}
	if r.reconcileBatch <= 0 {
		r.reconcileBatch = defaultReconcileBatch
	}
	return r
}

// CreateIntent asks the gateway for an intent covering the payment. The
// payment id is the idempotency key and every parameter comes from the
// stored payment, so a retried call sends the same request and gets the
// same intent back.
func (r *GatewayReconciler) CreateIntent(ctx context.Context, p *billing.Payment) (*billing.GatewayIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	intent, err := r.gateway.CreateIntent(ctx, billing.CreateIntentRequest{
		BillID:         p.BillID,
		PaymentID:      p.ID,
		AmountMinor:    p.Money().MinorUnits(),
		Currency:       p.Currency.Lower(),
		PaymentMethod:  p.PaymentMethodToken,
		IdempotencyKey: "payment:" + p.ID.String(),
	})
	if err != nil {
		r.metrics.GatewayFailed(ctx, "create_intent")
		return nil, err
	}
	return intent, nil
}

// AttachNewIntent creates the gateway intent for a pending payment that has
// none and records it. The returned payment carries the client secret.
func (r *GatewayReconciler) AttachNewIntent(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	p, err := r.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.HasIntent() {
		return p, nil
	}

	intent, err := r.CreateIntent(ctx, p)
	if err != nil {
		return nil, err
	}

	var out *billing.Payment
	err = r.store.InPaymentLock(ctx, paymentID, func(tx billing.LedgerTx, bill *billing.Bill, stored *billing.Payment) error {
		out = stored
		if stored.HasIntent() {
			// Attached concurrently by the poller.
			return nil
		}
		from := stored.Status
		if err := stored.AttachIntent(intent, r.now().UTC()); err != nil {
			return err
		}
		if err := settle(ctx, tx, bill, stored, stored.IsCompleted() != (from == billing.PaymentStatusCompleted), r.now()); err != nil {
			return err
		}
		if stored.Status != from {
			r.metrics.PaymentTransitioned(ctx, from, stored.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.ClientSecret == "" {
		out.ClientSecret = intent.ClientSecret
	}

	r.logger.Info("gateway intent attached",
		zap.String("payment_id", out.ID.String()),
		zap.String("intent_id", out.GatewayIntentID),
		zap.String("status", string(out.Status)))
	return out, nil
}

// SyncFromIntent pulls the intent's status from the gateway and applies it.
// A card payment whose intent was never created gets one now.
func (r *GatewayReconciler) SyncFromIntent(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	p, err := r.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.HasIntent() {
		if p.Method == billing.PaymentMethodCard && p.Status == billing.PaymentStatusPending {
			return r.AttachNewIntent(ctx, paymentID)
		}
		return p, nil
	}

	intent, err := r.retrieve(ctx, p.GatewayIntentID)
	if err != nil {
		return nil, err
	}
	return r.applyStatus(ctx, paymentID, billing.MapIntentStatus(intent.Status), "sync")
}

func (r *GatewayReconciler) retrieve(ctx context.Context, intentID string) (*billing.GatewayIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	intent, err := r.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		r.metrics.GatewayFailed(ctx, "retrieve_intent")
		return nil, err
	}
	return intent, nil
}

// RefundIntent issues the gateway refund for amount. requestKey identifies
// one refund request: a retry of that request reuses it, while an empty key
// gets a fresh one so every call is a separate refund.
func (r *GatewayReconciler) RefundIntent(ctx context.Context, p *billing.Payment, amount decimal.Decimal, reason, requestKey string) error {
	if reason == "" {
		reason = billing.DefaultRefundReason
	}
	if requestKey == "" {
		requestKey = uuid.NewString()
	}
	minor := amount.Shift(2).Round(0).IntPart()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	refund, err := r.gateway.Refund(ctx, billing.RefundRequest{
		IntentID:       p.GatewayIntentID,
		AmountMinor:    minor,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund:%s:%s", p.ID, requestKey),
	})
	if err != nil {
		r.metrics.GatewayFailed(ctx, "refund")
		r.logger.Error("gateway refund failed",
			zap.String("payment_id", p.ID.String()),
			zap.String("intent_id", p.GatewayIntentID),
			zap.Error(err))
		return err
	}
	r.logger.Info("gateway refund issued",
		zap.String("payment_id", p.ID.String()),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount_minor", refund.AmountMinor))
	return nil
}

// applyStatus moves the stored payment to target under the payment lock.
// Re-applying the current status is a no-op; a move the table forbids is
// skipped, since gateway deliveries may arrive out of order.
func (r *GatewayReconciler) applyStatus(ctx context.Context, paymentID uuid.UUID, target billing.PaymentStatus, via string) (*billing.Payment, error) {
	var (
		out  *billing.Payment
		from billing.PaymentStatus
	)
	err := r.store.InPaymentLock(ctx, paymentID, func(tx billing.LedgerTx, bill *billing.Bill, p *billing.Payment) error {
		out = p
		from = p.Status
		if p.Status == target {
			return nil
		}
		if !p.Status.CanTransitionTo(target) {
			r.logger.Info("gateway status not applicable, skipped",
				zap.String("payment_id", p.ID.String()),
				zap.String("current", string(p.Status)),
				zap.String("target", string(target)),
				zap.String("via", via))
			return nil
		}
		if err := p.TransitionTo(target, r.now().UTC()); err != nil {
			return err
		}
		touchesPaid := from == billing.PaymentStatusCompleted || target == billing.PaymentStatusCompleted
		return settle(ctx, tx, bill, p, touchesPaid, r.now())
	})
	if err != nil {
		return nil, err
	}

	if out.Status != from {
		r.metrics.PaymentTransitioned(ctx, from, out.Status)
		r.logger.Info("payment status reconciled",
			zap.String("payment_id", out.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(out.Status)),
			zap.String("via", via))
	}
	return out, nil
}

// WebhookResult describes what happened to one webhook delivery
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ProcessWebhook verifies a gateway delivery and applies it through the same
// status path as SyncFromIntent. A verification failure returns a nil
// result with ErrWebhookVerification. A processing failure returns the
// result together with the error, and the event id is released so the
// gateway's redelivery is applied.
func (r *GatewayReconciler) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := r.gateway.ParseWebhook(payload, signature)
	if err != nil {
		r.metrics.WebhookRejected(ctx)
		r.logger.Warn("webhook rejected",
			zap.Bool("security_event", true),
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err))
		if !errors.Is(err, billing.ErrWebhookVerification) {
			err = shared.WrapDomainError(billing.CodeWebhookVerification, err)
		}
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	if !event.IsPaymentIntentEvent() {
		result.Message = "event type not handled"
		return result, nil
	}

	key := "webhook:" + event.ID
	claimed := false
	if r.idempotency != nil {
		isNew, err := r.idempotency.MarkProcessed(ctx, key, r.webhookTTL)
		switch {
		case err != nil:
			r.logger.Warn("webhook idempotency check failed, applying anyway",
				zap.String("event_id", event.ID), zap.Error(err))
		case !isNew:
			result.Duplicate = true
			result.Processed = true
			result.Message = "duplicate delivery"
			return result, nil
		default:
			claimed = true
		}
	}

	if err := r.applyWebhook(ctx, event, result); err != nil {
		if claimed {
			if uerr := r.idempotency.Unmark(ctx, key); uerr != nil {
				r.logger.Warn("failed to release webhook event id", zap.String("event_id", event.ID), zap.Error(uerr))
			}
		}
		r.logger.Error("failed to apply webhook",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		result.Message = err.Error()
		return result, err
	}
	return result, nil
}

func (r *GatewayReconciler) applyWebhook(ctx context.Context, event *billing.GatewayEvent, result *WebhookResult) error {
	if event.IntentID == "" {
		result.Message = "event carries no payment intent"
		return nil
	}
	p, err := r.store.FindPaymentByIntentID(ctx, event.IntentID)
	if errors.Is(err, billing.ErrPaymentNotFound) {
		// Intents created outside this ledger are acknowledged so the
		// gateway stops redelivering.
		r.logger.Warn("webhook for unknown intent",
			zap.String("event_id", event.ID),
			zap.String("intent_id", event.IntentID))
		result.Message = "payment not found"
		return nil
	}
	if err != nil {
		return err
	}

	updated, err := r.applyStatus(ctx, p.ID, event.TargetStatus(), "webhook")
	if err != nil {
		return err
	}
	result.Processed = true
	result.Message = "payment " + string(updated.Status)
	return nil
}

// ReconcileReport summarises one poll
type ReconcileReport struct {
	Checked int
	Updated int
	Failed  int
}

// ReconcilePending syncs unsettled payments that webhooks have not resolved.
// Gateway outages are counted and retried on the next poll.
func (r *GatewayReconciler) ReconcilePending(ctx context.Context) (*ReconcileReport, error) {
	cutoff := r.now().Add(-r.reconcileAge)
	payments, err := r.store.FindUnsettledPayments(ctx, cutoff, r.reconcileBatch)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !p.HasIntent() && p.Method != billing.PaymentMethodCard {
			continue
		}
		report.Checked++

		updated, err := r.SyncFromIntent(ctx, p.ID)
		if err != nil {
			report.Failed++
			level := r.logger.Error
			if isTransient(err) {
				level = r.logger.Warn
			}
			level("payment reconciliation failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}
		if updated.Status != p.Status || updated.GatewayIntentID != p.GatewayIntentID {
			report.Updated++
		}
	}
	return report, nil
}
