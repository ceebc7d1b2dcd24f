package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
)

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// AdjustBillRequest sets a bill's tax and discount
type AdjustBillRequest struct {
	TaxAmount      *decimal.Decimal `json:"tax_amount" binding:"required"`
	DiscountAmount *decimal.Decimal `json:"discount_amount" binding:"required"`
}

// SetDueDateRequest sets or clears a bill's due date
type SetDueDateRequest struct {
	DueDate *string `json:"due_date" binding:"omitempty,datetime=2006-01-02"`
}

// ParseDueDate returns the due date as UTC midnight, nil when cleared
func (r SetDueDateRequest) ParseDueDate() (*time.Time, error) {
	if r.DueDate == nil || *r.DueDate == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(DateLayout, *r.DueDate, time.UTC)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreatePaymentRequest records a payment against a bill
type CreatePaymentRequest struct {
	Amount             *decimal.Decimal `json:"amount" binding:"required"`
	Method             string           `json:"method" binding:"required,payment_method"`
	Currency           string           `json:"currency" binding:"omitempty,currency"`
	PaymentMethodToken string           `json:"payment_method_token" binding:"max=255"`
	ReferenceNumber    string           `json:"reference_number" binding:"max=100"`
	Notes              string           `json:"notes" binding:"max=1000"`
	ProcessedBy        *uuid.UUID       `json:"processed_by"`
}

// CreateIntentRequest asks for a card intent covering the bill's balance
type CreateIntentRequest struct {
	PaymentMethodToken string     `json:"payment_method_token" binding:"max=255"`
	ProcessedBy        *uuid.UUID `json:"processed_by"`
}

// UpdatePaymentRequest is an operator's edit of a payment
type UpdatePaymentRequest struct {
	Status *string          `json:"status" binding:"omitempty,payment_status"`
	Amount *decimal.Decimal `json:"amount"`
	Method *string          `json:"method" binding:"omitempty,payment_method"`
	Notes  *string          `json:"notes" binding:"omitempty,max=1000"`
}

// ToInput converts the request to the application input
func (r UpdatePaymentRequest) ToInput() billingapp.UpdatePaymentInput {
	in := billingapp.UpdatePaymentInput{Amount: r.Amount, Notes: r.Notes}
	if r.Status != nil {
		s := billing.PaymentStatus(*r.Status)
		in.Status = &s
	}
	if r.Method != nil {
		m := billing.PaymentMethod(*r.Method)
		in.Method = &m
	}
	return in
}

// RefundRequest refunds all or part of a completed payment
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// BillItemResponse is one line on a bill
type BillItemResponse struct {
	ID          uuid.UUID          `json:"id"`
	Description string             `json:"description"`
	Quantity    decimal.Decimal    `json:"quantity"`
	UnitPrice   decimal.Decimal    `json:"unit_price"`
	Amount      decimal.Decimal    `json:"amount"`
	SourceKind  billing.SourceKind `json:"source_kind"`
	SourceID    uuid.UUID          `json:"source_id"`
	CreatedAt   time.Time          `json:"created_at"`
}

// BillResponse is a bill with its lines and, on the detail view, its payments
type BillResponse struct {
	ID             uuid.UUID          `json:"id"`
	BillNumber     string             `json:"bill_number"`
	PatientID      uuid.UUID          `json:"patient_id"`
	BatchKind      billing.BatchKind  `json:"batch_kind"`
	BatchKey       uuid.UUID          `json:"batch_key"`
	DueDate        *string            `json:"due_date,omitempty"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	TaxAmount      decimal.Decimal    `json:"tax_amount"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	AmountPaid     decimal.Decimal    `json:"amount_paid"`
	BalanceDue     decimal.Decimal    `json:"balance_due"`
	PaymentStatus  billing.BillStatus `json:"payment_status"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	Items          []BillItemResponse `json:"items"`
	Payments       []PaymentResponse  `json:"payments,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PaymentResponse is a payment. ClientSecret is only present on the
// response that created the gateway intent.
type PaymentResponse struct {
	ID              uuid.UUID             `json:"id"`
	BillID          uuid.UUID             `json:"bill_id"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        string                `json:"currency"`
	Method          billing.PaymentMethod `json:"method"`
	Status          billing.PaymentStatus `json:"status"`
	GatewayIntentID string                `json:"gateway_intent_id,omitempty"`
	ClientSecret    string                `json:"client_secret,omitempty"`
	ReferenceNumber string                `json:"reference_number,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	ProcessedBy     *uuid.UUID            `json:"processed_by,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	RefundedAt      *time.Time            `json:"refunded_at,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewBillResponse maps a bill
func NewBillResponse(b *billing.Bill) BillResponse {
	resp := BillResponse{
		ID:             b.ID,
		BillNumber:     b.BillNumber,
		PatientID:      b.PatientID,
		BatchKind:      b.Batch.Kind,
		BatchKey:       b.Batch.ID,
		Subtotal:       b.Subtotal,
		TaxAmount:      b.TaxAmount,
		DiscountAmount: b.DiscountAmount,
		TotalAmount:    b.TotalAmount,
		AmountPaid:     b.AmountPaid,
		BalanceDue:     b.BalanceDue(),
		PaymentStatus:  b.Status,
		CancelledAt:    b.CancelledAt,
		Items:          make([]BillItemResponse, 0, len(b.Items)),
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	if b.DueDate != nil {
		d := b.DueDate.Format(DateLayout)
		resp.DueDate = &d
	}
	for i := range b.Items {
		item := &b.Items[i]
		resp.Items = append(resp.Items, BillItemResponse{
			ID:          item.ID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
			SourceKind:  item.Source.Kind,
			SourceID:    item.Source.ID,
			CreatedAt:   item.CreatedAt,
		})
	}
	return resp
}

// NewBillDetailResponse maps a bill together with its payments
func NewBillDetailResponse(v *billingapp.BillView) BillResponse {
	resp := NewBillResponse(v.Bill)
	resp.Payments = make([]PaymentResponse, 0, len(v.Payments))
	for _, p := range v.Payments {
		resp.Payments = append(resp.Payments, NewPaymentResponse(p))
	}
	return resp
}

// NewBillListResponse maps a patient's bills
func NewBillListResponse(bills []*billing.Bill) []BillResponse {
	out := make([]BillResponse, 0, len(bills))
	for _, b := range bills {
		out = append(out, NewBillResponse(b))
	}
	return out
}

// NewPaymentResponse maps a payment
func NewPaymentResponse(p *billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		BillID:          p.BillID,
		Amount:          p.Amount,
		Currency:        string(p.Currency),
		Method:          p.Method,
		Status:          p.Status,
		GatewayIntentID: p.GatewayIntentID,
		ClientSecret:    p.ClientSecret,
		ReferenceNumber: p.ReferenceNumber,
		Notes:           p.Notes,
		ProcessedBy:     p.ProcessedBy,
		CompletedAt:     p.CompletedAt,
		RefundedAt:      p.RefundedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
