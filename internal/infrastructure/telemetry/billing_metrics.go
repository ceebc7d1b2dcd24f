package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
)

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// BillingMetrics records ledger, payment and gateway counters
type BillingMetrics struct {
	itemsAppended      *Counter
	duplicateSources   *Counter
	paymentTransitions *Counter
	webhooksRejected   *Counter
	gatewayFailures    *Counter
}

// NewBillingMetrics registers the billing instruments on meter
func NewBillingMetrics(meter metric.Meter) (*BillingMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &BillingMetrics{}
	var err error
	if m.itemsAppended, err = NewCounter(meter, "billing_items_appended_total",
		"Bill items created from clinical events", "{items}"); err != nil {
		return nil, err
	}
	if m.duplicateSources, err = NewCounter(meter, "billing_duplicate_sources_total",
		"Clinical events that referenced an already billed source", "{events}"); err != nil {
		return nil, err
	}
	if m.paymentTransitions, err = NewCounter(meter, "billing_payment_transitions_total",
		"Payment status transitions", "{transitions}"); err != nil {
		return nil, err
	}
	if m.webhooksRejected, err = NewCounter(meter, "billing_webhooks_rejected_total",
		"Webhook deliveries that failed verification", "{webhooks}"); err != nil {
		return nil, err
	}
	if m.gatewayFailures, err = NewCounter(meter, "billing_gateway_failures_total",
		"Failed payment gateway calls", "{calls}"); err != nil {
		return nil, err
	}
	return m, nil
}

// ItemAppended counts a new bill item
func (m *BillingMetrics) ItemAppended(ctx context.Context, kind billing.SourceKind) {
	m.itemsAppended.Inc(ctx, AttrSourceKind.String(string(kind)))
}

// DuplicateSource counts an event whose source was already billed
func (m *BillingMetrics) DuplicateSource(ctx context.Context, kind billing.SourceKind) {
	m.duplicateSources.Inc(ctx, AttrSourceKind.String(string(kind)))
}

// PaymentTransitioned counts a payment status change
func (m *BillingMetrics) PaymentTransitioned(ctx context.Context, from, to billing.PaymentStatus) {
	m.paymentTransitions.Inc(ctx,
		AttrFromStatus.String(string(from)),
		AttrToStatus.String(string(to)),
	)
}

// WebhookRejected counts a webhook that failed verification
func (m *BillingMetrics) WebhookRejected(ctx context.Context) {
	m.webhooksRejected.Inc(ctx)
}

// GatewayFailed counts a failed gateway call
func (m *BillingMetrics) GatewayFailed(ctx context.Context, op string) {
	m.gatewayFailures.Inc(ctx, AttrOperation.String(op))
}

var _ billingapp.Metrics = (*BillingMetrics)(nil)
