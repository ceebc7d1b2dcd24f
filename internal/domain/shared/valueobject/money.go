package valueobject

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code (ISO 4217), always upper-case
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	KES Currency = "KES"
	NGN Currency = "NGN"
)

// DefaultCurrency is the default currency for payments
const DefaultCurrency = USD

// Fixed-point scales used by the ledger
const (
	MoneyScale    int32 = 2
	QuantityScale int32 = 3
)

var minorUnitFactor = decimal.NewFromInt(100)

// ErrInvalidCurrency is returned for codes that are not three ASCII letters
var ErrInvalidCurrency = errors.New("currency must be a 3-letter ISO code")

// ParseCurrency normalizes a currency code. An empty code yields DefaultCurrency.
func ParseCurrency(code string) (Currency, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return "", ErrInvalidCurrency
		}
	}
	return Currency(strings.ToUpper(code)), nil
}

// Lower returns the lowercase form used on the gateway wire
func (c Currency) Lower() string {
	return strings.ToLower(string(c))
}

// RoundMoney rounds half away from zero to 2 places
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// RoundQuantity rounds half away from zero to 3 places
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// Money is an immutable monetary amount in a single currency
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates Money rounded to 2 places
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	return Money{amount: RoundMoney(amount), currency: currency}, nil
}

// NewMoneyFromMinorUnits creates Money from integer cents
func NewMoneyFromMinorUnits(cents int64, currency Currency) (Money, error) {
	return NewMoney(decimal.NewFromInt(cents).Div(minorUnitFactor), currency)
}

func (m Money) Amount() decimal.Decimal {
	return m.amount
}

func (m Money) Currency() Currency {
	return m.currency
}

// IsPositive returns true if the amount is greater than zero
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// MinorUnits returns the amount in integer cents
func (m Money) MinorUnits() int64 {
	return m.amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// Add returns the sum of both amounts
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// String returns "12.50 USD"
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(MoneyScale), m.currency)
}

// MarshalJSON writes {"amount":"12.50","currency":"USD"}
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   m.amount.StringFixed(MoneyScale),
		Currency: m.currency,
	})
}
