package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/infrastructure/cache"
	"github.com/hms/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLedgerService_FindOrCreateOpenBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	batch := billing.BatchKey{Kind: billing.BatchKindAppointment, ID: uuid.New()}

	first, err := f.ledger.FindOrCreateOpenBill(ctx, patientID, batch)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPending, first.Status)
	assert.NotEmpty(t, first.BillNumber)

	again, err := f.ledger.FindOrCreateOpenBill(ctx, patientID, batch)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := f.ledger.FindOrCreateOpenBill(ctx, patientID, billing.BatchKey{Kind: billing.BatchKindAppointment, ID: uuid.New()})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.NotEqual(t, first.BillNumber, other.BillNumber)

	recalculated, err := f.ledger.RecalculateTotals(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPending, recalculated.Status, "a bill with nothing on it is not paid")
	assert.NoError(t, recalculated.CheckInvariants(nil, billing.TruncateDay(testNow)))
}

func TestLedgerService_FindOrCreateOpenBill_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.FindOrCreateOpenBill(ctx, uuid.Nil, billing.BatchKey{Kind: billing.BatchKindLabRequest, ID: uuid.New()})
	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.ErrorIs(t, err, billing.ErrInvalidPatient)

	_, err = f.ledger.FindOrCreateOpenBill(ctx, uuid.New(), billing.BatchKey{Kind: "ward", ID: uuid.New()})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestLedgerService_FindOrCreateOpenBill_SkipsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	batch := billing.BatchKey{Kind: billing.BatchKindPrescription, ID: uuid.New()}

	first, err := f.ledger.FindOrCreateOpenBill(ctx, patientID, batch)
	require.NoError(t, err)
	_, err = f.ledger.CancelBill(ctx, first.ID)
	require.NoError(t, err)

	next, err := f.ledger.FindOrCreateOpenBill(ctx, patientID, batch)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, billing.BillStatusPending, next.Status)
}

func TestLedgerService_DefaultDueDays(t *testing.T) {
	store, _ := newTestStore(t)
	ledger := NewLedgerService(LedgerServiceConfig{
		Store:          store,
		Now:            func() time.Time { return testNow },
		DefaultDueDays: 30,
	})
	labs := NewLabTestIngestor(ledger, nil)

	res, err := labs.Ingest(context.Background(), labEvent(uuid.New(), uuid.New(), "12.00"))
	require.NoError(t, err)

	require.NotNil(t, res.Bill.DueDate)
	assert.Equal(t, "2026-11-13", res.Bill.DueDate.Format("2006-01-02"))
	assert.Equal(t, billing.BillStatusPending, res.Bill.Status)
}

func TestLedgerService_AppendItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	batch := billing.BatchKey{Kind: billing.BatchKindLabRequest, ID: uuid.New()}
	source := billing.SourceRef{Kind: billing.SourceKindLabItem, ID: uuid.New()}

	res, err := f.ledger.AppendItem(ctx, AppendItemInput{
		PatientID:   patientID,
		Batch:       batch,
		Description: "Malaria RDT (Test) - Qty: 2",
		Quantity:    decimal.NewFromInt(2),
		UnitPrice:   d("7.50"),
		Source:      source,
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.Equal(t, "15.00", res.Item.Amount.StringFixed(2))
	assert.Equal(t, "15.00", res.Bill.Subtotal.StringFixed(2))
	assert.Equal(t, "15.00", res.Bill.TotalAmount.StringFixed(2))
	assert.Equal(t, billing.BillStatusPending, res.Bill.Status)
	assert.Equal(t, 1, f.metrics.appended)

	t.Run("resubmitted source is a no-op", func(t *testing.T) {
		dup, err := f.ledger.AppendItem(ctx, AppendItemInput{
			PatientID:   patientID,
			Batch:       batch,
			Description: "Malaria RDT (Test) - Qty: 2",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   d("7.50"),
			Source:      source,
		})
		require.NoError(t, err)
		assert.False(t, dup.Created)
		assert.Equal(t, res.Item.ID, dup.Item.ID)
		assert.Equal(t, res.Bill.ID, dup.Bill.ID)
		assert.Len(t, dup.Bill.Items, 1)
		assert.Equal(t, "15.00", dup.Bill.TotalAmount.StringFixed(2))
		assert.Equal(t, 1, f.metrics.duplicates)
	})

	t.Run("rejects invalid item", func(t *testing.T) {
		_, err := f.ledger.AppendItem(ctx, AppendItemInput{
			PatientID: patientID,
			Batch:     batch,
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: d("1.00"),
			Source:    billing.SourceRef{Kind: billing.SourceKindLabItem, ID: uuid.New()},
		})
		assert.ErrorIs(t, err, billing.ErrValidation)
	})
}

func TestLedgerService_AppendItem_ToCancelledSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	event := labEvent(patientID, uuid.New(), "20.00")

	res, err := f.labs.Ingest(ctx, event)
	require.NoError(t, err)
	_, err = f.ledger.CancelBill(ctx, res.Bill.ID)
	require.NoError(t, err)

	again, err := f.labs.Ingest(ctx, event)
	require.NoError(t, err)
	assert.False(t, again.Created, "a source billed once is never billed again")
	assert.Equal(t, res.Bill.ID, again.Bill.ID)
	assert.Equal(t, billing.BillStatusCancelled, again.Bill.Status)
}

// Two lab items of one request arriving together for a patient with no bill
// must land on a single bill.
func TestLedgerService_ConcurrentLabItems_OneBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	requestID := uuid.New()

	events := []*clinical.LabTestOrdered{
		clinical.NewLabTestOrdered(requestID, uuid.New(), patientID, "Full Blood Count", d("25.00"), decimal.NewFromInt(1)),
		clinical.NewLabTestOrdered(requestID, uuid.New(), patientID, "Urinalysis", d("10.00"), decimal.NewFromInt(2)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range events {
		g.Go(func() error {
			_, err := f.labs.Ingest(gctx, e)
			return err
		})
	}
	require.NoError(t, g.Wait())

	bills, err := f.ledger.ListPatientBills(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Len(t, bills[0].Items, 2)
	assert.Equal(t, "45.00", bills[0].TotalAmount.StringFixed(2))
}

func TestLedgerService_PaymentsDriveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bill := f.billWithCharge(t, uuid.New(), "100.00")
	bill, err := f.ledger.AdjustBill(ctx, bill.ID, d("5.00"), d("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "95.00", bill.TotalAmount.StringFixed(2))

	f.completeCash(t, bill.ID, "40.00")
	view, err := f.ledger.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", view.Bill.AmountPaid.StringFixed(2))
	assert.Equal(t, billing.BillStatusPartial, view.Bill.Status)
	assert.Equal(t, "55.00", view.Bill.BalanceDue().StringFixed(2))

	f.completeCash(t, bill.ID, "55.00")
	view, err = f.ledger.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "95.00", view.Bill.AmountPaid.StringFixed(2))
	assert.Equal(t, billing.BillStatusPaid, view.Bill.Status)
	assert.Len(t, view.Payments, 2)
}

func TestLedgerService_OverdueWithPartialPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bill := f.billWithCharge(t, uuid.New(), "100.00")
	_, err := f.ledger.AdjustBill(ctx, bill.ID, d("5.00"), d("10.00"))
	require.NoError(t, err)
	f.completeCash(t, bill.ID, "40.00")

	yesterday := testNow.AddDate(0, 0, -1)
	updated, err := f.ledger.SetDueDate(ctx, bill.ID, &yesterday)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusOverdue, updated.Status)

	today := testNow
	updated, err = f.ledger.SetDueDate(ctx, bill.ID, &today)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPartial, updated.Status, "a bill due today is not overdue")
}

func TestLedgerService_RecalculateTotals_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.billWithCharge(t, uuid.New(), "30.00")

	first, err := f.ledger.RecalculateTotals(ctx, bill.ID)
	require.NoError(t, err)
	second, err := f.ledger.RecalculateTotals(ctx, bill.ID)
	require.NoError(t, err)

	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, "30.00", second.Subtotal.StringFixed(2))
}

func TestLedgerService_AdjustBill_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.billWithCharge(t, uuid.New(), "30.00")

	_, err := f.ledger.AdjustBill(ctx, bill.ID, d("-1.00"), decimal.Zero)
	assert.ErrorIs(t, err, billing.ErrNegativeAdjustment)

	_, err = f.ledger.AdjustBill(ctx, bill.ID, decimal.Zero, d("30.01"))
	assert.ErrorIs(t, err, billing.ErrDiscountExceedsTotal)

	_, err = f.ledger.AdjustBill(ctx, uuid.New(), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, billing.ErrBillNotFound)
}

func TestLedgerService_CancelBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("without payments", func(t *testing.T) {
		bill := f.billWithCharge(t, uuid.New(), "10.00")
		cancelled, err := f.ledger.CancelBill(ctx, bill.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.BillStatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)

		_, err = f.ledger.CancelBill(ctx, bill.ID)
		assert.ErrorIs(t, err, billing.ErrBillCancelled)

		_, err = f.payments.CreatePayment(ctx, CreatePaymentInput{BillID: bill.ID, Amount: d("1.00"), Method: billing.PaymentMethodCash})
		assert.ErrorIs(t, err, billing.ErrBillCancelled)
	})

	t.Run("with completed payment", func(t *testing.T) {
		bill := f.billWithCharge(t, uuid.New(), "10.00")
		f.completeCash(t, bill.ID, "4.00")

		_, err := f.ledger.CancelBill(ctx, bill.ID)
		assert.ErrorIs(t, err, billing.ErrBillHasPayments)

		view, err := f.ledger.GetBill(ctx, bill.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.BillStatusPartial, view.Bill.Status)
	})
}

func TestLedgerService_RefreshOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := testNow.AddDate(0, 0, 5)
	open := f.billWithCharge(t, uuid.New(), "50.00")
	_, err := f.ledger.SetDueDate(ctx, open.ID, &due)
	require.NoError(t, err)

	settled := f.billWithCharge(t, uuid.New(), "20.00")
	_, err = f.ledger.SetDueDate(ctx, settled.ID, &due)
	require.NoError(t, err)
	f.completeCash(t, settled.ID, "20.00")

	changed, err := f.ledger.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	f.clock.Set(testNow.AddDate(0, 0, 6))
	changed, err = f.ledger.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	view, err := f.ledger.GetBill(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusOverdue, view.Bill.Status)

	view, err = f.ledger.GetBill(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPaid, view.Bill.Status)

	changed, err = f.ledger.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestLedgerService_RecalculateAllBills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	healthy := f.billWithCharge(t, uuid.New(), "12.00")
	drifted := f.billWithCharge(t, uuid.New(), "30.00")

	// Simulate a row written by an older build.
	require.NoError(t, f.db.Model(&models.BillModel{}).
		Where("id = ?", drifted.ID).
		Updates(map[string]interface{}{"amount_paid": d("30.00"), "payment_status": billing.BillStatusPaid}).Error)

	report, err := f.ledger.RecalculateAllBills(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Failed)

	view, err := f.ledger.GetBill(ctx, drifted.ID)
	require.NoError(t, err)
	assert.True(t, view.Bill.AmountPaid.IsZero())
	assert.Equal(t, billing.BillStatusPending, view.Bill.Status)

	view, err = f.ledger.GetBill(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", view.Bill.TotalAmount.StringFixed(2))

	report, err = f.ledger.RecalculateAllBills(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Updated)
}

func TestLedgerService_RecalculateAllBills_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.billWithCharge(t, uuid.New(), "12.00")
	cancel()

	_, err := f.ledger.RecalculateAllBills(ctx)
	assert.Error(t, err)
}

func TestLedgerService_WithRedisLocker(t *testing.T) {
	store, _ := newTestStore(t)
	client := newRedisClient(t)
	ledger := NewLedgerService(LedgerServiceConfig{
		Store:  store,
		Locker: cache.NewRedisPatientLocker(client, time.Second, time.Second, nil),
		Now:    func() time.Time { return testNow },
	})

	res, err := NewLabTestIngestor(ledger, nil).Ingest(context.Background(), labEvent(uuid.New(), uuid.New(), "8.00"))
	require.NoError(t, err)
	assert.True(t, res.Created)
}
