package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultSyncDelay = 30 * time.Second

// PaymentProcessor records payments against bills and drives them through
// the payment state table
type PaymentProcessor struct {
	store      billing.LedgerStore
	reconciler *GatewayReconciler
	scheduler  SyncScheduler
	metrics    Metrics
	logger     *zap.Logger
	now        func() time.Time

	defaultCurrency string
	syncDelay       time.Duration
}

// PaymentProcessorConfig holds the dependencies of a PaymentProcessor
type PaymentProcessorConfig struct {
	Store      billing.LedgerStore
	Reconciler *GatewayReconciler
	// Scheduler, when set, receives a deferred sync for payments whose
	// intent could not be created
	Scheduler       SyncScheduler
	Metrics         Metrics
	Logger          *zap.Logger
	Now             func() time.Time
	DefaultCurrency string
	SyncDelay       time.Duration
}

// NewPaymentProcessor creates a new PaymentProcessor
func NewPaymentProcessor(cfg PaymentProcessorConfig) *PaymentProcessor {
	p := &PaymentProcessor{
		store:           cfg.Store,
		reconciler:      cfg.Reconciler,
		scheduler:       cfg.Scheduler,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		now:             cfg.Now,
		defaultCurrency: cfg.DefaultCurrency,
		syncDelay:       cfg.SyncDelay,
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.defaultCurrency == "" {
		p.defaultCurrency = string(valueobject.DefaultCurrency)
	}
	if p.syncDelay <= 0 {
		p.syncDelay = defaultSyncDelay
	}
	return p
}

// CreatePaymentInput is a payer's request to pay against a bill
type CreatePaymentInput struct {
	BillID          uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Method          billing.PaymentMethod
	ReferenceNumber string
	Notes           string
	ProcessedBy     *uuid.UUID
	// PaymentMethodToken confirms a card intent immediately when set
	PaymentMethodToken string
}

// CreatePayment validates the amount against the bill's balance and records a
// pending payment. Card payments then get a gateway intent; when the gateway
// cannot be reached the payment stays pending without an intent and is
// picked up by reconciliation.
func (s *PaymentProcessor) CreatePayment(ctx context.Context, in CreatePaymentInput) (*billing.Payment, error) {
	currency := in.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	var payment *billing.Payment
	err := s.store.InBillLock(ctx, in.BillID, func(tx billing.LedgerTx, bill *billing.Bill) error {
		var err error
		payment, err = billing.NewPayment(bill, billing.NewPaymentInput{
			Amount:             in.Amount,
			Currency:           currency,
			Method:             in.Method,
			ReferenceNumber:    in.ReferenceNumber,
			Notes:              in.Notes,
			ProcessedBy:        in.ProcessedBy,
			PaymentMethodToken: in.PaymentMethodToken,
		})
		if err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("bill_id", payment.BillID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("method", string(payment.Method)))

	if payment.Method != billing.PaymentMethodCard || s.reconciler == nil {
		return payment, nil
	}

	attached, err := s.reconciler.AttachNewIntent(ctx, payment.ID)
	if err != nil {
		s.logger.Warn("gateway intent not created, payment left pending for reconciliation",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
		s.scheduleSync(ctx, payment.ID)
		return payment, nil
	}
	return attached, nil
}

// CreateIntentForBalance opens a card payment for the bill's full balance due
func (s *PaymentProcessor) CreateIntentForBalance(ctx context.Context, billID uuid.UUID, token string, processedBy *uuid.UUID) (*billing.Payment, error) {
	bill, err := s.store.FindBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.IsCancelled() {
		return nil, fmt.Errorf("%w: %w", billing.ErrInvalidState, billing.ErrBillCancelled)
	}
	balance := bill.BalanceDue()
	if !balance.IsPositive() {
		return nil, fmt.Errorf("%w: %w", billing.ErrInvalidState, billing.ErrNothingToPay)
	}
	return s.CreatePayment(ctx, CreatePaymentInput{
		BillID:             billID,
		Amount:             balance,
		Method:             billing.PaymentMethodCard,
		ProcessedBy:        processedBy,
		PaymentMethodToken: token,
	})
}

// UpdatePaymentInput carries the fields an operator may change. Nil fields
// are left as they are.
type UpdatePaymentInput struct {
	Status *billing.PaymentStatus
	Amount *decimal.Decimal
	Method *billing.PaymentMethod
	Notes  *string
}

// UpdatePayment applies an operator's edit. Gateway-backed payments keep
// their amount and method and accept only the manual status moves; any
// other requested status is resolved by syncing from the gateway instead.
// Every move is checked against the stored status.
func (s *PaymentProcessor) UpdatePayment(ctx context.Context, paymentID uuid.UUID, in UpdatePaymentInput) (*billing.Payment, error) {
	var (
		out      *billing.Payment
		needSync bool
		from     billing.PaymentStatus
	)
	err := s.store.InPaymentLock(ctx, paymentID, func(tx billing.LedgerTx, bill *billing.Bill, p *billing.Payment) error {
		from = p.Status
		wasCompleted := p.IsCompleted()
		oldAmount := p.Amount

		if in.Method != nil {
			if err := p.ChangeMethod(*in.Method); err != nil {
				return err
			}
		}
		if in.Amount != nil {
			if err := p.ChangeAmount(*in.Amount, bill); err != nil {
				return err
			}
		}
		if in.Notes != nil {
			p.Notes = *in.Notes
			p.Touch()
		}

		if in.Status != nil && *in.Status != p.Status {
			target := *in.Status
			if p.HasIntent() && !p.Status.IsManualTransition(target) {
				if !target.IsValid() {
					return fmt.Errorf("%w: %w", billing.ErrValidation, billing.ErrInvalidPaymentStatus)
				}
				needSync = true
			} else if err := p.TransitionTo(target, s.now().UTC()); err != nil {
				return err
			}
		}

		touchesPaid := wasCompleted != p.IsCompleted() || (p.IsCompleted() && !oldAmount.Equal(p.Amount))
		if err := settle(ctx, tx, bill, p, touchesPaid, s.now()); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Status != from {
		s.metrics.PaymentTransitioned(ctx, from, out.Status)
		s.logger.Info("payment status updated",
			zap.String("payment_id", out.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(out.Status)))
	}

	if needSync && s.reconciler != nil {
		return s.reconciler.SyncFromIntent(ctx, paymentID)
	}
	return out, nil
}

// RefundInput is a refund request. A nil amount refunds the whole payment.
type RefundInput struct {
	Amount *decimal.Decimal
	Reason string

	// IdempotencyKey is supplied by callers that may resend the same request.
	// Without one each call is refunded separately.
	IdempotencyKey string
}

// Refund refunds a completed payment. The gateway is called outside the
// ledger lock; afterwards the payment is re-read and a full refund moves
// it to refunded and lowers the bill's paid amount. A partial refund keeps
// the payment completed.
func (s *PaymentProcessor) Refund(ctx context.Context, paymentID uuid.UUID, in RefundInput) (*billing.Payment, error) {
	current, err := s.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	amount, err := current.CheckRefund(in.Amount)
	if err != nil {
		return nil, err
	}

	if current.HasIntent() {
		if s.reconciler == nil {
			return nil, fmt.Errorf("%w: no gateway configured", billing.ErrGatewayUnavailable)
		}
		if err := s.reconciler.RefundIntent(ctx, current, amount, in.Reason, in.IdempotencyKey); err != nil {
			return nil, err
		}
	}

	var out *billing.Payment
	err = s.store.InPaymentLock(ctx, paymentID, func(tx billing.LedgerTx, bill *billing.Bill, p *billing.Payment) error {
		if _, err := p.CheckRefund(&amount); err != nil {
			return err
		}
		out = p
		if amount.LessThan(p.Amount) {
			return nil
		}
		if err := p.TransitionTo(billing.PaymentStatusRefunded, s.now().UTC()); err != nil {
			return err
		}
		return settle(ctx, tx, bill, p, true, s.now())
	})
	if err != nil {
		return nil, err
	}

	full := out.Status == billing.PaymentStatusRefunded
	if full {
		s.metrics.PaymentTransitioned(ctx, billing.PaymentStatusCompleted, billing.PaymentStatusRefunded)
	}
	s.logger.Info("payment refunded",
		zap.String("payment_id", out.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.Bool("full", full))
	return out, nil
}

// GetPayment returns a payment by id
func (s *PaymentProcessor) GetPayment(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	return s.store.FindPayment(ctx, paymentID)
}

func (s *PaymentProcessor) scheduleSync(ctx context.Context, paymentID uuid.UUID) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleSync(ctx, paymentID, s.syncDelay); err != nil {
		s.logger.Warn("failed to schedule payment sync", zap.String("payment_id", paymentID.String()), zap.Error(err))
	}
}

// settle saves the payment and, when its change moves money in or out of
// completed, recomputes the bill's paid amount from the stored payments
// and saves the bill. The ledger equations are checked before either write
// commits.
func settle(ctx context.Context, tx billing.LedgerTx, bill *billing.Bill, p *billing.Payment, touchesPaid bool, now time.Time) error {
	if err := tx.SavePayment(ctx, p); err != nil {
		return err
	}
	if !touchesPaid {
		return nil
	}

	payments, err := tx.ListPayments(ctx, bill.ID)
	if err != nil {
		return err
	}
	today := billing.TruncateDay(now)
	bill.ApplyPayments(payments, today)
	if err := bill.CheckInvariants(payments, today); err != nil {
		return err
	}
	return tx.SaveBill(ctx, bill)
}

// isTransient reports whether err is worth retrying later
func isTransient(err error) bool {
	return errors.Is(err, billing.ErrGatewayUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
