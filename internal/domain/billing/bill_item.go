package billing

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// BillItem is one priced line on a bill, attributable to one clinical event
type BillItem struct {
	shared.BaseEntity
	BillID      uuid.UUID
	Description string
	Quantity    decimal.Decimal // 3 fractional digits
	UnitPrice   decimal.Decimal // 2 fractional digits
	Amount      decimal.Decimal // 2 fractional digits
	Source      SourceRef
}

// NewBillItem prices an item as round(quantity * unit_price, 2)
func NewBillItem(description string, quantity, unitPrice decimal.Decimal, source SourceRef) (*BillItem, error) {
	q := valueobject.RoundQuantity(quantity)
	p := valueobject.RoundMoney(unitPrice)
	return newBillItem(description, q, p, valueobject.RoundMoney(q.Mul(p)), source)
}

// NewPricedBillItem creates an item whose amount was computed by the caller,
// e.g. weight-based dosing where amount is not quantity * unit price.
func NewPricedBillItem(description string, quantity, unitPrice, amount decimal.Decimal, source SourceRef) (*BillItem, error) {
	if amount.IsNegative() {
		return nil, validationError(ErrNegativeUnitPrice)
	}
	return newBillItem(
		description,
		valueobject.RoundQuantity(quantity),
		valueobject.RoundMoney(unitPrice),
		valueobject.RoundMoney(amount),
		source,
	)
}

func newBillItem(description string, quantity, unitPrice, amount decimal.Decimal, source SourceRef) (*BillItem, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, validationError(ErrEmptyDescription)
	}
	if !quantity.IsPositive() {
		return nil, validationError(ErrInvalidQuantity)
	}
	if unitPrice.IsNegative() {
		return nil, validationError(ErrNegativeUnitPrice)
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	return &BillItem{
		BaseEntity:  shared.NewBaseEntity(),
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      amount,
		Source:      source,
	}, nil
}
