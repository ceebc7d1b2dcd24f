package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func succeededEvent(eventID, intentID string) *billing.GatewayEvent {
	return &billing.GatewayEvent{
		ID:           eventID,
		Type:         billing.WebhookPaymentIntentSucceeded,
		IntentID:     intentID,
		IntentStatus: billing.IntentStatusSucceeded,
	}
}

// deliver stubs one verified webhook delivery and hands it to the reconciler
func (f *fixture) deliver(t *testing.T, event *billing.GatewayEvent) (*WebhookResult, error) {
	t.Helper()
	payload := []byte(`{"id":"` + event.ID + `"}`)
	f.gateway.On("ParseWebhook", payload, "t=1,v1=sig").Return(event, nil).Once()
	return f.reconciler.ProcessWebhook(context.Background(), payload, "t=1,v1=sig")
}

func (f *fixture) stubIntent(intentID string, status billing.IntentStatus) {
	f.gateway.On("RetrieveIntent", mock.Anything, intentID).
		Return(&billing.GatewayIntent{ID: intentID, Status: status}, nil)
}

func TestGatewayReconciler_SyncFromIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.billWithCharge(t, uuid.New(), "80.00")
	p := f.pendingCard(t, bill.ID, "30.00", "pi_sync")
	f.stubIntent("pi_sync", billing.IntentStatusSucceeded)

	got, err := f.reconciler.SyncFromIntent(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentStatusCompleted, got.Status)

	view, err := f.ledger.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", view.Bill.AmountPaid.StringFixed(2))
	assert.Equal(t, billing.BillStatusPartial, view.Bill.Status)

	got, err = f.reconciler.SyncFromIntent(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentStatusCompleted, got.Status)

	view, err = f.ledger.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", view.Bill.AmountPaid.StringFixed(2), "applying the same status twice must not double count")
	assert.Equal(t, []string{"pending->completed"}, f.metrics.transitions)
}

func TestGatewayReconciler_SyncFromIntent_LocalPayment(t *testing.T) {
	f := newFixture(t)
	bill := f.billWithCharge(t, uuid.New(), "10.00")
	p, err := f.payments.CreatePayment(context.Background(), CreatePaymentInput{BillID: bill.ID, Amount: d("10.00"), Method: billing.PaymentMethodCash})
	require.NoError(t, err)

	got, err := f.reconciler.SyncFromIntent(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentStatusPending, got.Status)
	f.gateway.AssertNotCalled(t, "RetrieveIntent", mock.Anything, mock.Anything)
}

func TestGatewayReconciler_SyncFromIntent_GatewayDown(t *testing.T) {
	f := newFixture(t)
	bill := f.billWithCharge(t, uuid.New(), "10.00")
	p := f.pendingCard(t, bill.ID, "10.00", "pi_down")
	f.gateway.On("RetrieveIntent", mock.Anything, "pi_down").Return(nil, billing.ErrGatewayUnavailable)

	_, err := f.reconciler.SyncFromIntent(context.Background(), p.ID)
	assert.ErrorIs(t, err, billing.ErrGatewayUnavailable)
	assert.Equal(t, []string{"retrieve_intent"}, f.metrics.failures)
}

// Webhook and poll may observe the same gateway outcome in either order and
// more than once; the ledger must settle the same way every time.
func TestGatewayReconciler_WebhookAndSyncConverge(t *testing.T) {
	orders := map[string][]string{
		"webhook first": {"webhook", "sync", "webhook"},
		"sync first":    {"sync", "webhook", "sync"},
	}
	for name, steps := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			bill := f.billWithCharge(t, uuid.New(), "50.00")
			p := f.pendingCard(t, bill.ID, "50.00", "pi_both")
			f.stubIntent("pi_both", billing.IntentStatusSucceeded)

			for i, step := range steps {
				switch step {
				case "webhook":
					res, err := f.deliver(t, succeededEvent("evt_"+string(rune('a'+i)), "pi_both"))
					require.NoError(t, err)
					assert.True(t, res.Processed)
					assert.Equal(t, "payment completed", res.Message)
				case "sync":
					_, err := f.reconciler.SyncFromIntent(ctx, p.ID)
					require.NoError(t, err)
				}
			}

			view, err := f.ledger.GetBill(ctx, bill.ID)
			require.NoError(t, err)
			assert.Equal(t, "50.00", view.Bill.AmountPaid.StringFixed(2))
			assert.Equal(t, billing.BillStatusPaid, view.Bill.Status)
			require.Len(t, view.Payments, 1)
			assert.Equal(t, billing.PaymentStatusCompleted, view.Payments[0].Status)
		})
	}
}

func TestGatewayReconciler_ProcessWebhook_Duplicate(t *testing.T) {
	f := newFixture(t)
	bill := f.billWithCharge(t, uuid.New(), "50.00")
	f.pendingCard(t, bill.ID, "20.00", "pi_dup")

	first, err := f.deliver(t, succeededEvent("evt_dup", "pi_dup"))
	require.NoError(t, err)
	assert.True(t, first.Processed)
	assert.False(t, first.Duplicate)

	second, err := f.deliver(t, succeededEvent("evt_dup", "pi_dup"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "evt_dup", second.EventID)

	view, err := f.ledger.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", view.Bill.AmountPaid.StringFixed(2))
}

func TestGatewayReconciler_ProcessWebhook_VerificationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.On("ParseWebhook", []byte("forged"), "bad").
		Return(nil, shared.WrapDomainError(billing.CodeWebhookVerification, errors.New("no signatures found matching the expected signature"))).Once()
	res, err := f.reconciler.ProcessWebhook(ctx, []byte("forged"), "bad")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, billing.ErrWebhookVerification)

	f.gateway.On("ParseWebhook", []byte("garbage"), "").Return(nil, errors.New("invalid payload")).Once()
	res, err = f.reconciler.ProcessWebhook(ctx, []byte("garbage"), "")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, billing.ErrWebhookVerification, "every parse failure is reported as a verification failure")

	assert.Equal(t, 2, f.metrics.rejected)
}

func TestGatewayReconciler_ProcessWebhook_Acknowledged(t *testing.T) {
	f := newFixture(t)

	t.Run("other event types", func(t *testing.T) {
		res, err := f.deliver(t, &billing.GatewayEvent{ID: "evt_charge", Type: "charge.refunded"})
		require.NoError(t, err)
		assert.False(t, res.Processed)
		assert.Equal(t, "event type not handled", res.Message)
	})

	t.Run("unknown intent", func(t *testing.T) {
		res, err := f.deliver(t, succeededEvent("evt_unknown", "pi_elsewhere"))
		require.NoError(t, err)
		assert.False(t, res.Processed)
		assert.Equal(t, "payment not found", res.Message)
	})
}

func TestGatewayReconciler_ProcessWebhook_OutOfOrder(t *testing.T) {
	f := newFixture(t)
	bill := f.billWithCharge(t, uuid.New(), "50.00")
	p := f.pendingCard(t, bill.ID, "50.00", "pi_late")

	_, err := f.deliver(t, succeededEvent("evt_ok", "pi_late"))
	require.NoError(t, err)

	res, err := f.deliver(t, &billing.GatewayEvent{
		ID:       "evt_failed_late",
		Type:     billing.WebhookPaymentIntentFailed,
		IntentID: "pi_late",
	})
	require.NoError(t, err)
	assert.Equal(t, "payment completed", res.Message)

	stored, err := f.payments.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentStatusCompleted, stored.Status)
}

func TestGatewayReconciler_ProcessWebhook_FailureReleasesEvent(t *testing.T) {
	f := newFixture(t)
	event := succeededEvent("evt_retry", "pi_retry")

	require.NoError(t, f.db.Migrator().DropTable(&models.PaymentModel{}))
	res, err := f.deliver(t, event)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Processed)

	require.NoError(t, f.db.AutoMigrate(&models.PaymentModel{}))
	res, err = f.deliver(t, event)
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "a failed delivery must be applied on redelivery")
}

func TestGatewayReconciler_SyncFromIntent_RetriesIntentWithSameRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.billWithCharge(t, uuid.New(), "60.00")

	var requests []billing.CreateIntentRequest
	record := func(args mock.Arguments) {
		requests = append(requests, args.Get(1).(billing.CreateIntentRequest))
	}
	f.gateway.On("CreateIntent", mock.Anything, mock.Anything).
		Run(record).Return(nil, billing.ErrGatewayUnavailable).Once()
	f.gateway.On("CreateIntent", mock.Anything, mock.Anything).
		Run(record).Return(&billing.GatewayIntent{ID: "pi_retry", Status: billing.IntentStatusSucceeded}, nil).Once()

	p, err := f.payments.CreatePayment(ctx, CreatePaymentInput{
		BillID:             bill.ID,
		Amount:             d("60.00"),
		Method:             billing.PaymentMethodCard,
		PaymentMethodToken: "pm_card_visa",
	})
	require.NoError(t, err)
	require.False(t, p.HasIntent())

	got, err := f.reconciler.SyncFromIntent(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_retry", got.GatewayIntentID)
	assert.Equal(t, billing.PaymentStatusCompleted, got.Status)

	require.Len(t, requests, 2)
	assert.Equal(t, "pm_card_visa", requests[0].PaymentMethod)
	assert.Equal(t, requests[0], requests[1], "a retried intent must repeat the original request under its key")
	f.gateway.AssertExpectations(t)
}

func TestGatewayReconciler_ReconcilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Card payment whose intent creation failed.
	orphanBill := f.billWithCharge(t, uuid.New(), "30.00")
	f.gateway.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req billing.CreateIntentRequest) bool {
		return req.BillID == orphanBill.ID
	})).Return(nil, billing.ErrGatewayUnavailable).Once()
	orphan, err := f.payments.CreatePayment(ctx, CreatePaymentInput{BillID: orphanBill.ID, Amount: d("30.00"), Method: billing.PaymentMethodCard})
	require.NoError(t, err)
	require.False(t, orphan.HasIntent())

	// Card payment whose success webhook never arrived.
	missedBill := f.billWithCharge(t, uuid.New(), "45.00")
	missed := f.pendingCard(t, missedBill.ID, "45.00", "pi_missed")
	f.stubIntent("pi_missed", billing.IntentStatusSucceeded)

	// Cash payments are settled by staff, never polled.
	cashBill := f.billWithCharge(t, uuid.New(), "10.00")
	_, err = f.payments.CreatePayment(ctx, CreatePaymentInput{BillID: cashBill.ID, Amount: d("10.00"), Method: billing.PaymentMethodCash})
	require.NoError(t, err)

	f.gateway.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req billing.CreateIntentRequest) bool {
		return req.PaymentID == orphan.ID && req.IdempotencyKey == "payment:"+orphan.ID.String()
	})).Return(&billing.GatewayIntent{ID: "pi_orphan", Status: billing.IntentStatusRequiresPaymentMethod}, nil).Once()

	f.clock.Set(time.Now().UTC().Add(time.Hour))
	report, err := f.reconciler.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Updated)
	assert.Zero(t, report.Failed)

	stored, err := f.payments.GetPayment(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_orphan", stored.GatewayIntentID)

	stored, err = f.payments.GetPayment(ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentStatusCompleted, stored.Status)

	view, err := f.ledger.GetBill(ctx, missedBill.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPaid, view.Bill.Status)
	f.gateway.AssertExpectations(t)
}

func TestGatewayReconciler_ReconcilePending_CountsFailures(t *testing.T) {
	f := newFixture(t)
	bill := f.billWithCharge(t, uuid.New(), "30.00")
	f.pendingCard(t, bill.ID, "30.00", "pi_flaky")
	f.gateway.On("RetrieveIntent", mock.Anything, "pi_flaky").Return(nil, billing.ErrGatewayUnavailable)

	f.clock.Set(time.Now().UTC().Add(time.Hour))
	report, err := f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Updated)
}

func TestGatewayReconciler_ReconcilePending_MinAge(t *testing.T) {
	store, _ := newTestStore(t)
	gateway := new(MockPaymentGateway)
	reconciler := NewGatewayReconciler(GatewayReconcilerConfig{
		Store:           store,
		Gateway:         gateway,
		ReconcileMinAge: time.Hour,
	})

	report, err := reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	gateway.AssertNotCalled(t, "RetrieveIntent", mock.Anything, mock.Anything)
}
