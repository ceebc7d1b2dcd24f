package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Aggregate type names
const (
	AggregateTypeBill    = "Bill"
	AggregateTypePayment = "Payment"
)

// Event types emitted by the ledger
const (
	EventTypeBillOpened           = "BillOpened"
	EventTypeBillItemAppended     = "BillItemAppended"
	EventTypeBillSettled          = "BillSettled"
	EventTypeBillCancelled        = "BillCancelled"
	EventTypePaymentStatusChanged = "PaymentStatusChanged"
)

// BillOpenedEvent is raised when a new bill is opened for a patient batch
type BillOpenedEvent struct {
	shared.BaseDomainEvent
	BillID    uuid.UUID `json:"bill_id"`
	PatientID uuid.UUID `json:"patient_id"`
	BatchKind BatchKind `json:"batch_kind"`
	BatchID   uuid.UUID `json:"batch_id"`
}

// NewBillOpenedEvent creates a new BillOpenedEvent
func NewBillOpenedEvent(b *Bill) *BillOpenedEvent {
	return &BillOpenedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBillOpened, AggregateTypeBill, b.ID),
		BillID:          b.ID,
		PatientID:       b.PatientID,
		BatchKind:       b.Batch.Kind,
		BatchID:         b.Batch.ID,
	}
}

// BillItemAppendedEvent is raised when a priced item lands on a bill
type BillItemAppendedEvent struct {
	shared.BaseDomainEvent
	BillID      uuid.UUID       `json:"bill_id"`
	ItemID      uuid.UUID       `json:"item_id"`
	SourceKind  SourceKind      `json:"source_kind"`
	SourceID    uuid.UUID       `json:"source_id"`
	Amount      decimal.Decimal `json:"amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// NewBillItemAppendedEvent creates a new BillItemAppendedEvent
func NewBillItemAppendedEvent(b *Bill, item *BillItem) *BillItemAppendedEvent {
	return &BillItemAppendedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBillItemAppended, AggregateTypeBill, b.ID),
		BillID:          b.ID,
		ItemID:          item.ID,
		SourceKind:      item.Source.Kind,
		SourceID:        item.Source.ID,
		Amount:          item.Amount,
		TotalAmount:     b.TotalAmount,
	}
}

// BillSettledEvent is raised when a bill becomes fully paid
type BillSettledEvent struct {
	shared.BaseDomainEvent
	BillID      uuid.UUID       `json:"bill_id"`
	BillNumber  string          `json:"bill_number"`
	PatientID   uuid.UUID       `json:"patient_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
}

// NewBillSettledEvent creates a new BillSettledEvent
func NewBillSettledEvent(b *Bill) *BillSettledEvent {
	return &BillSettledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBillSettled, AggregateTypeBill, b.ID),
		BillID:          b.ID,
		BillNumber:      b.BillNumber,
		PatientID:       b.PatientID,
		TotalAmount:     b.TotalAmount,
		AmountPaid:      b.AmountPaid,
	}
}

// BillCancelledEvent is raised on administrative cancellation
type BillCancelledEvent struct {
	shared.BaseDomainEvent
	BillID      uuid.UUID `json:"bill_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// NewBillCancelledEvent creates a new BillCancelledEvent
func NewBillCancelledEvent(b *Bill) *BillCancelledEvent {
	var at time.Time
	if b.CancelledAt != nil {
		at = *b.CancelledAt
	}
	return &BillCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBillCancelled, AggregateTypeBill, b.ID),
		BillID:          b.ID,
		PatientID:       b.PatientID,
		CancelledAt:     at,
	}
}

// PaymentStatusChangedEvent is raised on every payment state transition
type PaymentStatusChangedEvent struct {
	shared.BaseDomainEvent
	PaymentID       uuid.UUID       `json:"payment_id"`
	BillID          uuid.UUID       `json:"bill_id"`
	From            PaymentStatus   `json:"from"`
	To              PaymentStatus   `json:"to"`
	Amount          decimal.Decimal `json:"amount"`
	Method          PaymentMethod   `json:"method"`
	GatewayIntentID string          `json:"gateway_intent_id,omitempty"`
}

// NewPaymentStatusChangedEvent creates a new PaymentStatusChangedEvent
func NewPaymentStatusChangedEvent(p *Payment, from PaymentStatus) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentStatusChanged, AggregateTypePayment, p.ID),
		PaymentID:       p.ID,
		BillID:          p.BillID,
		From:            from,
		To:              p.Status,
		Amount:          p.Amount,
		Method:          p.Method,
		GatewayIntentID: p.GatewayIntentID,
	}
}

// TouchesCompleted reports whether the move entered or left completed, the
// only moves that change a bill's paid amount
func (e *PaymentStatusChangedEvent) TouchesCompleted() bool {
	return e.From == PaymentStatusCompleted || e.To == PaymentStatusCompleted
}
