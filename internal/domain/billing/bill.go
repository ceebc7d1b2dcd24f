package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// Bill is the aggregate root for one patient's accumulated charges
type Bill struct {
	shared.BaseAggregateRoot
	BillNumber     string
	PatientID      uuid.UUID
	Batch          BatchKey
	DueDate        *time.Time
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	AmountPaid     decimal.Decimal
	Status         BillStatus
	CancelledAt    *time.Time
	Items          []BillItem
}

// NewBill opens an empty bill for a patient's batch
func NewBill(patientID uuid.UUID, batch BatchKey) (*Bill, error) {
	if patientID == uuid.Nil {
		return nil, validationError(ErrInvalidPatient)
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	b := &Bill{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		PatientID:         patientID,
		Batch:             batch,
		Subtotal:          decimal.Zero,
		TaxAmount:         decimal.Zero,
		DiscountAmount:    decimal.Zero,
		TotalAmount:       decimal.Zero,
		AmountPaid:        decimal.Zero,
		Status:            BillStatusPending,
		Items:             make([]BillItem, 0),
	}
	b.AddDomainEvent(NewBillOpenedEvent(b))
	return b, nil
}

// FormatBillNumber renders BL-<YYYYMMDD>-<seq>
func FormatBillNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("BL-%s-%04d", day.UTC().Format("20060102"), seq)
}

// AssignNumber sets the human-readable number. It is set once, on first persist.
func (b *Bill) AssignNumber(number string) error {
	if b.BillNumber != "" {
		return stateError(ErrBillNumberAlreadySet)
	}
	b.BillNumber = number
	return nil
}

// IsCancelled returns true once an administrator cancelled the bill
func (b *Bill) IsCancelled() bool {
	return b.Status == BillStatusCancelled
}

// HasSource reports whether an item priced from ref is already on the bill
func (b *Bill) HasSource(ref SourceRef) bool {
	for i := range b.Items {
		if b.Items[i].Source == ref {
			return true
		}
	}
	return false
}

// AddItem appends an item and recalculates totals
func (b *Bill) AddItem(item *BillItem, today time.Time) error {
	if b.IsCancelled() {
		return stateError(ErrBillCancelled)
	}
	if b.HasSource(item.Source) {
		return validationError(ErrDuplicateSourceOnBill)
	}

	item.BillID = b.ID
	b.Items = append(b.Items, *item)
	b.RecalculateTotals(today)
	b.AddDomainEvent(NewBillItemAppendedEvent(b, item))
	return nil
}

// RecalculateTotals sets subtotal to the sum of item amounts and total to
// round(subtotal + tax - discount, 2), then re-derives status. It is a pure
// function of the item set, so calling it again changes nothing.
// Returns true if any figure changed.
func (b *Bill) RecalculateTotals(today time.Time) bool {
	subtotal := decimal.Zero
	for i := range b.Items {
		subtotal = subtotal.Add(b.Items[i].Amount)
	}
	subtotal = valueobject.RoundMoney(subtotal)
	total := valueobject.RoundMoney(subtotal.Add(b.TaxAmount).Sub(b.DiscountAmount))

	changed := !subtotal.Equal(b.Subtotal) || !total.Equal(b.TotalAmount)
	b.Subtotal = subtotal
	b.TotalAmount = total
	if b.RefreshStatus(today) {
		changed = true
	}
	if changed {
		b.Touch()
	}
	return changed
}

// Adjust replaces the bill-level tax and discount
func (b *Bill) Adjust(tax, discount decimal.Decimal, today time.Time) error {
	if b.IsCancelled() {
		return stateError(ErrBillCancelled)
	}
	tax = valueobject.RoundMoney(tax)
	discount = valueobject.RoundMoney(discount)
	if tax.IsNegative() || discount.IsNegative() {
		return validationError(ErrNegativeAdjustment)
	}
	if discount.GreaterThan(b.Subtotal.Add(tax)) {
		return validationError(ErrDiscountExceedsTotal)
	}

	b.TaxAmount = tax
	b.DiscountAmount = discount
	b.RecalculateTotals(today)
	return nil
}

// ApplyPayments sets the paid amount to the sum of completed payments and
// re-derives status. Payments of other bills are ignored.
func (b *Bill) ApplyPayments(payments []*Payment, today time.Time) {
	wasPaid := b.Status == BillStatusPaid
	b.AmountPaid = CompletedTotal(b.ID, payments)
	b.RefreshStatus(today)
	b.Touch()
	if !wasPaid && b.Status == BillStatusPaid {
		b.AddDomainEvent(NewBillSettledEvent(b))
	}
}

// CompletedTotal sums the amounts of completed payments belonging to billID
func CompletedTotal(billID uuid.UUID, payments []*Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.BillID == billID && p.Status == PaymentStatusCompleted {
			sum = sum.Add(p.Amount)
		}
	}
	return valueobject.RoundMoney(sum)
}

// IsEmpty reports whether no item has been billed yet
func (b *Bill) IsEmpty() bool {
	return len(b.Items) == 0
}

// ExpectedStatus is the status the bill must carry for today. A bill with no
// items is PENDING: it owes nothing yet and nothing has been settled. Every
// other open bill carries DeriveStatus of its figures.
func (b *Bill) ExpectedStatus(today time.Time) BillStatus {
	if b.IsEmpty() {
		return BillStatusPending
	}
	return DeriveStatus(b.AmountPaid, b.TotalAmount, b.DueDate, today)
}

// RefreshStatus re-derives status for today. Cancelled bills keep their status.
// Returns true if the status changed.
func (b *Bill) RefreshStatus(today time.Time) bool {
	if b.IsCancelled() {
		return false
	}
	next := b.ExpectedStatus(today)
	if next == b.Status {
		return false
	}
	b.Status = next
	return true
}

// SetDueDate replaces the due date (nil clears it) and re-derives status
func (b *Bill) SetDueDate(due *time.Time, today time.Time) error {
	if b.IsCancelled() {
		return stateError(ErrBillCancelled)
	}
	if due != nil {
		d := TruncateDay(*due)
		due = &d
	}
	b.DueDate = due
	b.RefreshStatus(today)
	b.Touch()
	return nil
}

// Cancel marks the bill cancelled. Bills with completed payments must be
// refunded first.
func (b *Bill) Cancel(now time.Time) error {
	if b.IsCancelled() {
		return stateError(ErrBillCancelled)
	}
	if b.AmountPaid.IsPositive() {
		return stateError(ErrBillHasPayments)
	}
	b.Status = BillStatusCancelled
	b.CancelledAt = &now
	b.Touch()
	b.AddDomainEvent(NewBillCancelledEvent(b))
	return nil
}

// BalanceDue is total minus paid, floored at zero
func (b *Bill) BalanceDue() decimal.Decimal {
	return floorZero(b.TotalAmount.Sub(b.AmountPaid))
}

// BalanceDueExcluding is the balance computed as if p's contribution to the
// paid amount were first removed
func (b *Bill) BalanceDueExcluding(p *Payment) decimal.Decimal {
	paid := b.AmountPaid
	if p.BillID == b.ID && p.Status == PaymentStatusCompleted {
		paid = paid.Sub(p.Amount)
	}
	return floorZero(b.TotalAmount.Sub(paid))
}

// CheckInvariants verifies the ledger equations before a write commits.
// payments may be nil when the caller did not load them. Status is checked
// against ExpectedStatus, so an empty bill must be PENDING.
func (b *Bill) CheckInvariants(payments []*Payment, today time.Time) error {
	subtotal := decimal.Zero
	for i := range b.Items {
		subtotal = subtotal.Add(b.Items[i].Amount)
	}
	if !valueobject.RoundMoney(subtotal).Equal(b.Subtotal) {
		return fmt.Errorf("%w: subtotal %s != sum of items %s", ErrInvariantViolated, b.Subtotal, subtotal)
	}
	total := valueobject.RoundMoney(b.Subtotal.Add(b.TaxAmount).Sub(b.DiscountAmount))
	if !total.Equal(b.TotalAmount) {
		return fmt.Errorf("%w: total %s != %s", ErrInvariantViolated, b.TotalAmount, total)
	}
	if payments != nil {
		if paid := CompletedTotal(b.ID, payments); !paid.Equal(b.AmountPaid) {
			return fmt.Errorf("%w: amount paid %s != completed payments %s", ErrInvariantViolated, b.AmountPaid, paid)
		}
	}
	if !b.IsCancelled() {
		if want := b.ExpectedStatus(today); want != b.Status {
			return fmt.Errorf("%w: status %s, derived %s", ErrInvariantViolated, b.Status, want)
		}
	}
	return nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
