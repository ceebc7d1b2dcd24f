package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how the payer settled
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodInsurance    PaymentMethod = "insurance"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheck        PaymentMethod = "check"
)

// IsValid returns true if the method is known
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodInsurance,
		PaymentMethodMobileMoney, PaymentMethodBankTransfer, PaymentMethodCheck:
		return true
	}
	return false
}

// PaymentStatus is the state of a payment
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusCompleted      PaymentStatus = "completed"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRefunded       PaymentStatus = "refunded"
	PaymentStatusCancelled      PaymentStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:        {PaymentStatusRequiresAction, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusRequiresAction: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusPending, PaymentStatusCancelled},
	PaymentStatusCompleted:      {PaymentStatusRefunded},
	PaymentStatusFailed:         {PaymentStatusPending, PaymentStatusRequiresAction},
	PaymentStatusRefunded:       {},
	PaymentStatusCancelled:      {},
}

// Operator-initiated moves. Everything else comes from the gateway.
var manualTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:        {PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusFailed:         {PaymentStatusPending},
	PaymentStatusRequiresAction: {PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:      {PaymentStatusRefunded},
}

// IsValid returns true if the status is known
func (s PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsTerminal returns true for refunded and cancelled
func (s PaymentStatus) IsTerminal() bool {
	return s.IsValid() && len(paymentTransitions[s]) == 0
}

// CanTransitionTo reports whether target is listed for s in the transitions table
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	return contains(paymentTransitions[s], target)
}

// IsManualTransition reports whether an operator may request s -> target directly
func (s PaymentStatus) IsManualTransition(target PaymentStatus) bool {
	return contains(manualTransitions[s], target)
}

func contains(list []PaymentStatus, s PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Payment is one attempted or completed transfer of funds against a bill
type Payment struct {
	shared.BaseAggregateRoot
	BillID          uuid.UUID
	Amount          decimal.Decimal
	Currency        valueobject.Currency
	Method          PaymentMethod
	Status          PaymentStatus
	GatewayIntentID string
	ReferenceNumber string
	Notes           string
	ProcessedBy     *uuid.UUID
	CompletedAt     *time.Time
	RefundedAt      *time.Time

	// PaymentMethodToken is the card token the intent is confirmed with.
	// It is kept so a retried intent creation sends the same parameters.
	PaymentMethodToken string

	// ClientSecret is returned by the gateway at intent creation for the
	// payer's browser. It is handed back once and never persisted.
	ClientSecret string
}

// NewPaymentInput carries the payer's request
type NewPaymentInput struct {
	Amount          decimal.Decimal
	Currency        string
	Method          PaymentMethod
	ReferenceNumber string
	Notes           string
	ProcessedBy     *uuid.UUID

	// PaymentMethodToken is only used by card payments
	PaymentMethodToken string
}

// NewPayment validates a new payment against the bill: the amount must be
// positive and must not exceed the balance due.
func NewPayment(bill *Bill, in NewPaymentInput) (*Payment, error) {
	if bill.IsCancelled() {
		return nil, stateError(ErrBillCancelled)
	}
	amount := valueobject.RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, validationError(ErrNonPositiveAmount)
	}
	if amount.GreaterThan(bill.BalanceDue()) {
		return nil, validationError(fmt.Errorf("%w: %s > %s", ErrAmountExceedsBalance, amount.StringFixed(2), bill.BalanceDue().StringFixed(2)))
	}
	if !in.Method.IsValid() {
		return nil, validationError(ErrInvalidPaymentMethod)
	}
	currency, err := valueobject.ParseCurrency(in.Currency)
	if err != nil {
		return nil, validationError(err)
	}
	token := ""
	if in.Method == PaymentMethodCard {
		token = strings.TrimSpace(in.PaymentMethodToken)
	}

	return &Payment{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		BillID:             bill.ID,
		Amount:             amount,
		Currency:           currency,
		Method:             in.Method,
		Status:             PaymentStatusPending,
		ReferenceNumber:    strings.TrimSpace(in.ReferenceNumber),
		Notes:              in.Notes,
		ProcessedBy:        in.ProcessedBy,
		PaymentMethodToken: token,
	}, nil
}

// Money returns the payment amount with its currency
func (p *Payment) Money() valueobject.Money {
	m, _ := valueobject.NewMoney(p.Amount, p.Currency)
	return m
}

// HasIntent reports whether the payment is backed by a gateway intent
func (p *Payment) HasIntent() bool {
	return p.GatewayIntentID != ""
}

// IsGatewayBacked reports whether the gateway holds the amount and method of
// the payment: card payments, with or without an intent yet
func (p *Payment) IsGatewayBacked() bool {
	return p.Method == PaymentMethodCard || p.HasIntent()
}

// IsCompleted returns true if the payment counts toward the bill's paid amount
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// AttachIntent records the gateway intent created for a new payment. A
// pending payment adopts the intent's initial status when that status is
// requires_action or completed; other initial statuses leave it pending.
func (p *Payment) AttachIntent(intent *GatewayIntent, now time.Time) error {
	p.GatewayIntentID = intent.ID
	p.ClientSecret = intent.ClientSecret
	p.Touch()

	switch initial := MapIntentStatus(intent.Status); initial {
	case PaymentStatusRequiresAction, PaymentStatusCompleted:
		if initial != p.Status {
			return p.TransitionTo(initial, now)
		}
	}
	return nil
}

// TransitionTo moves the payment to target. Moves outside the transitions
// table fail with ErrInvalidTransition and leave the payment untouched.
func (p *Payment) TransitionTo(target PaymentStatus, now time.Time) error {
	if !target.IsValid() {
		return validationError(ErrInvalidPaymentStatus)
	}
	if !p.Status.CanTransitionTo(target) {
		return shared.NewDomainError(CodeInvalidTransition,
			fmt.Sprintf("payment: cannot move from %s to %s", p.Status, target))
	}

	from := p.Status
	p.Status = target
	switch target {
	case PaymentStatusCompleted:
		p.CompletedAt = &now
	case PaymentStatusRefunded:
		p.RefundedAt = &now
	}
	p.Touch()
	p.AddDomainEvent(NewPaymentStatusChangedEvent(p, from))
	return nil
}

// ChangeAmount replaces the amount of a local payment. The new amount may not
// exceed the bill's balance due computed as if this payment's old amount were
// first removed.
func (p *Payment) ChangeAmount(amount decimal.Decimal, bill *Bill) error {
	if p.Status.IsTerminal() {
		return stateError(ErrPaymentTerminal)
	}
	if p.IsGatewayBacked() {
		return stateError(ErrGatewayBackedPayment)
	}
	amount = valueobject.RoundMoney(amount)
	if !amount.IsPositive() {
		return validationError(ErrNonPositiveAmount)
	}
	if allowed := bill.BalanceDueExcluding(p); amount.GreaterThan(allowed) {
		return validationError(fmt.Errorf("%w: %s > %s", ErrAmountExceedsBalance, amount.StringFixed(2), allowed.StringFixed(2)))
	}
	p.Amount = amount
	p.Touch()
	return nil
}

// ChangeMethod replaces the method of a local payment. Card payments are only
// opened through the gateway.
func (p *Payment) ChangeMethod(method PaymentMethod) error {
	if p.Status.IsTerminal() {
		return stateError(ErrPaymentTerminal)
	}
	if !method.IsValid() {
		return validationError(ErrInvalidPaymentMethod)
	}
	if method == p.Method {
		return nil
	}
	if p.IsGatewayBacked() || method == PaymentMethodCard {
		return stateError(ErrGatewayBackedPayment)
	}
	p.Method = method
	p.Touch()
	return nil
}

// CheckRefund validates a refund request and returns the amount to refund.
// A nil amount means the full payment amount.
func (p *Payment) CheckRefund(amount *decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsCompleted() {
		return decimal.Zero, shared.NewDomainError(CodeInvalidTransition,
			fmt.Sprintf("payment: cannot refund a %s payment", p.Status))
	}
	if amount == nil {
		return p.Amount, nil
	}
	a := valueobject.RoundMoney(*amount)
	if !a.IsPositive() {
		return decimal.Zero, validationError(ErrNonPositiveAmount)
	}
	if a.GreaterThan(p.Amount) {
		return decimal.Zero, validationError(ErrRefundExceedsPayment)
	}
	return a, nil
}
