package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
)

type mockBillService struct {
	mock.Mock
}

func (m *mockBillService) AdjustBill(ctx context.Context, billID uuid.UUID, tax, discount decimal.Decimal) (*billing.Bill, error) {
	args := m.Called(ctx, billID, tax, discount)
	return billArg(args)
}

func (m *mockBillService) SetDueDate(ctx context.Context, billID uuid.UUID, due *time.Time) (*billing.Bill, error) {
	args := m.Called(ctx, billID, due)
	return billArg(args)
}

func (m *mockBillService) CancelBill(ctx context.Context, billID uuid.UUID) (*billing.Bill, error) {
	args := m.Called(ctx, billID)
	return billArg(args)
}

func (m *mockBillService) RecalculateTotals(ctx context.Context, billID uuid.UUID) (*billing.Bill, error) {
	args := m.Called(ctx, billID)
	return billArg(args)
}

func (m *mockBillService) GetBill(ctx context.Context, billID uuid.UUID) (*billingapp.BillView, error) {
	args := m.Called(ctx, billID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingapp.BillView), args.Error(1)
}

func (m *mockBillService) ListPatientBills(ctx context.Context, patientID uuid.UUID) ([]*billing.Bill, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Bill), args.Error(1)
}

func billArg(args mock.Arguments) (*billing.Bill, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Bill), args.Error(1)
}

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, in billingapp.CreatePaymentInput) (*billing.Payment, error) {
	args := m.Called(ctx, in)
	return paymentArg(args)
}

func (m *mockPaymentService) CreateIntentForBalance(ctx context.Context, billID uuid.UUID, token string, processedBy *uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, billID, token, processedBy)
	return paymentArg(args)
}

func (m *mockPaymentService) UpdatePayment(ctx context.Context, paymentID uuid.UUID, in billingapp.UpdatePaymentInput) (*billing.Payment, error) {
	args := m.Called(ctx, paymentID, in)
	return paymentArg(args)
}

func (m *mockPaymentService) Refund(ctx context.Context, paymentID uuid.UUID, in billingapp.RefundInput) (*billing.Payment, error) {
	args := m.Called(ctx, paymentID, in)
	return paymentArg(args)
}

func (m *mockPaymentService) GetPayment(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, paymentID)
	return paymentArg(args)
}

type mockPaymentSyncer struct {
	mock.Mock
}

func (m *mockPaymentSyncer) SyncFromIntent(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, paymentID)
	return paymentArg(args)
}

func paymentArg(args mock.Arguments) (*billing.Payment, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

type mockWebhookProcessor struct {
	mock.Mock
}

func (m *mockWebhookProcessor) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*billingapp.WebhookResult, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingapp.WebhookResult), args.Error(1)
}

type mockEventQueue struct {
	mock.Mock
}

func (m *mockEventQueue) EnqueueConsultation(ctx context.Context, e *clinical.ConsultationBooked) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockEventQueue) EnqueueLabItem(ctx context.Context, e *clinical.LabTestOrdered) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockEventQueue) EnqueuePrescriptionItem(ctx context.Context, e *clinical.PrescriptionItemWritten) error {
	return m.Called(ctx, e).Error(0)
}

type mockConsultationIngestor struct {
	mock.Mock
}

func (m *mockConsultationIngestor) Ingest(ctx context.Context, e *clinical.ConsultationBooked) (*billingapp.AppendResult, error) {
	args := m.Called(ctx, e)
	return appendArg(args)
}

type mockLabTestIngestor struct {
	mock.Mock
}

func (m *mockLabTestIngestor) Ingest(ctx context.Context, e *clinical.LabTestOrdered) (*billingapp.AppendResult, error) {
	args := m.Called(ctx, e)
	return appendArg(args)
}

type mockPrescriptionIngestor struct {
	mock.Mock
}

func (m *mockPrescriptionIngestor) Ingest(ctx context.Context, e *clinical.PrescriptionItemWritten) (*billingapp.AppendResult, error) {
	args := m.Called(ctx, e)
	return appendArg(args)
}

func appendArg(args mock.Arguments) (*billingapp.AppendResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingapp.AppendResult), args.Error(1)
}
