package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// BillingAccountModel is the per-patient lock row. Find-or-create of a
// patient's bill runs while holding this row FOR UPDATE.
type BillingAccountModel struct {
	PatientID uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (BillingAccountModel) TableName() string {
	return "billing_accounts"
}

// BillNumberSequenceModel holds the per-day bill number counter
type BillNumberSequenceModel struct {
	Day       string `gorm:"type:varchar(8);primaryKey"`
	LastValue int64  `gorm:"not null"`
}

func (BillNumberSequenceModel) TableName() string {
	return "bill_number_sequences"
}

// BillModel is the persistence model for the Bill aggregate root.
// At most one non-cancelled bill exists per (patient, batch).
type BillModel struct {
	AggregateColumns
	BillNumber     string             `gorm:"type:varchar(32);not null;uniqueIndex"`
	PatientID      uuid.UUID          `gorm:"type:uuid;not null;index;uniqueIndex:idx_bills_open_batch,priority:1,where:payment_status <> 'CANCELLED'"`
	BatchKind      billing.BatchKind  `gorm:"type:varchar(32);not null;uniqueIndex:idx_bills_open_batch,priority:2"`
	BatchID        uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_bills_open_batch,priority:3"`
	DueDate        *time.Time         `gorm:"type:date;index"`
	Subtotal       decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	TaxAmount      decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	DiscountAmount decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	TotalAmount    decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	AmountPaid     decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	PaymentStatus  billing.BillStatus `gorm:"type:varchar(20);not null;index"`
	CancelledAt    *time.Time
}

func (BillModel) TableName() string {
	return "bills"
}

// ToDomain converts the persistence model to a domain Bill. Items are
// attached by the caller.
func (m *BillModel) ToDomain(items []BillItemModel) *billing.Bill {
	b := &billing.Bill{
		BaseAggregateRoot: m.aggregate(),
		BillNumber:        m.BillNumber,
		PatientID:         m.PatientID,
		Batch:             billing.BatchKey{Kind: m.BatchKind, ID: m.BatchID},
		DueDate:           m.DueDate,
		Subtotal:          m.Subtotal,
		TaxAmount:         m.TaxAmount,
		DiscountAmount:    m.DiscountAmount,
		TotalAmount:       m.TotalAmount,
		AmountPaid:        m.AmountPaid,
		Status:            m.PaymentStatus,
		CancelledAt:       m.CancelledAt,
		Items:             make([]billing.BillItem, 0, len(items)),
	}
	for i := range items {
		b.Items = append(b.Items, *items[i].ToDomain())
	}
	return b
}

// FromDomain populates the persistence model from a domain Bill
func (m *BillModel) FromDomain(b *billing.Bill) {
	m.AggregateColumns = aggregateColumns(b.BaseAggregateRoot)
	m.BillNumber = b.BillNumber
	m.PatientID = b.PatientID
	m.BatchKind = b.Batch.Kind
	m.BatchID = b.Batch.ID
	m.DueDate = b.DueDate
	m.Subtotal = b.Subtotal
	m.TaxAmount = b.TaxAmount
	m.DiscountAmount = b.DiscountAmount
	m.TotalAmount = b.TotalAmount
	m.AmountPaid = b.AmountPaid
	m.PaymentStatus = b.Status
	m.CancelledAt = b.CancelledAt
}

// BillModelFromDomain creates a new persistence model from a domain Bill
func BillModelFromDomain(b *billing.Bill) *BillModel {
	m := &BillModel{}
	m.FromDomain(b)
	return m
}

// BillItemModel is the persistence model for a bill line. The unique
// (source_kind, source_id) index makes re-ingesting a source event a no-op.
type BillItemModel struct {
	EntityColumns
	BillID      uuid.UUID          `gorm:"type:uuid;not null;index"`
	Description string             `gorm:"type:varchar(500);not null"`
	Quantity    decimal.Decimal    `gorm:"type:decimal(12,3);not null"`
	UnitPrice   decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	Amount      decimal.Decimal    `gorm:"type:decimal(12,2);not null"`
	SourceKind  billing.SourceKind `gorm:"type:varchar(32);not null;uniqueIndex:idx_bill_items_source,priority:1"`
	SourceID    uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_bill_items_source,priority:2"`
}

func (BillItemModel) TableName() string {
	return "bill_items"
}

// ToDomain converts the persistence model to a domain BillItem
func (m *BillItemModel) ToDomain() *billing.BillItem {
	return &billing.BillItem{
		BaseEntity:  m.entity(),
		BillID:      m.BillID,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Amount:      m.Amount,
		Source:      billing.SourceRef{Kind: m.SourceKind, ID: m.SourceID},
	}
}

// BillItemModelFromDomain creates a new persistence model from a domain BillItem
func BillItemModelFromDomain(item *billing.BillItem) *BillItemModel {
	return &BillItemModel{
		EntityColumns: entityColumns(item.BaseEntity),
		BillID:        item.BillID,
		Description:   item.Description,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Amount:        item.Amount,
		SourceKind:    item.Source.Kind,
		SourceID:      item.Source.ID,
	}
}

// PaymentModel is the persistence model for the Payment aggregate root
type PaymentModel struct {
	AggregateColumns
	BillID             uuid.UUID             `gorm:"type:uuid;not null;index"`
	Amount             decimal.Decimal       `gorm:"type:decimal(12,2);not null"`
	Currency           string                `gorm:"type:varchar(3);not null"`
	Method             billing.PaymentMethod `gorm:"type:varchar(32);not null"`
	Status             billing.PaymentStatus `gorm:"type:varchar(20);not null;index"`
	GatewayIntentID    *string               `gorm:"type:varchar(255);uniqueIndex"`
	PaymentMethodToken string                `gorm:"type:varchar(255)"`
	ReferenceNumber    string                `gorm:"type:varchar(100)"`
	Notes              string                `gorm:"type:text"`
	ProcessedBy        *uuid.UUID            `gorm:"type:uuid"`
	CompletedAt        *time.Time
	RefundedAt         *time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *billing.Payment {
	p := &billing.Payment{
		BaseAggregateRoot:  m.aggregate(),
		BillID:             m.BillID,
		Amount:             m.Amount,
		Currency:           valueobject.Currency(m.Currency),
		Method:             m.Method,
		Status:             m.Status,
		PaymentMethodToken: m.PaymentMethodToken,
		ReferenceNumber:    m.ReferenceNumber,
		Notes:              m.Notes,
		ProcessedBy:        m.ProcessedBy,
		CompletedAt:        m.CompletedAt,
		RefundedAt:         m.RefundedAt,
	}
	if m.GatewayIntentID != nil {
		p.GatewayIntentID = *m.GatewayIntentID
	}
	return p
}

// FromDomain populates the persistence model from a domain Payment.
// The client secret is never persisted.
func (m *PaymentModel) FromDomain(p *billing.Payment) {
	m.AggregateColumns = aggregateColumns(p.BaseAggregateRoot)
	m.BillID = p.BillID
	m.Amount = p.Amount
	m.Currency = string(p.Currency)
	m.Method = p.Method
	m.Status = p.Status
	m.GatewayIntentID = nil
	if p.GatewayIntentID != "" {
		id := p.GatewayIntentID
		m.GatewayIntentID = &id
	}
	m.PaymentMethodToken = p.PaymentMethodToken
	m.ReferenceNumber = p.ReferenceNumber
	m.Notes = p.Notes
	m.ProcessedBy = p.ProcessedBy
	m.CompletedAt = p.CompletedAt
	m.RefundedAt = p.RefundedAt
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment
func PaymentModelFromDomain(p *billing.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// LedgerModels lists the models AutoMigrate needs for the ledger tables
func LedgerModels() []any {
	return []any{
		&BillingAccountModel{},
		&BillNumberSequenceModel{},
		&BillModel{},
		&BillItemModel{},
		&PaymentModel{},
		&OutboxEntryModel{},
	}
}
