package billing

import (
	"context"

	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// LedgerAuditHandler writes an audit line for ledger events relayed from
// the outbox
type LedgerAuditHandler struct {
	logger *zap.Logger
}

// NewLedgerAuditHandler creates a new LedgerAuditHandler
func NewLedgerAuditHandler(logger *zap.Logger) *LedgerAuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerAuditHandler{logger: logger.Named("ledger_audit")}
}

func (h *LedgerAuditHandler) EventTypes() []string {
	return []string{
		billing.EventTypeBillSettled,
		billing.EventTypeBillCancelled,
		billing.EventTypePaymentStatusChanged,
	}
}

func (h *LedgerAuditHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *billing.BillSettledEvent:
		h.logger.Info("bill settled",
			zap.String("bill_id", e.BillID.String()),
			zap.String("bill_number", e.BillNumber),
			zap.String("patient_id", e.PatientID.String()),
			zap.String("amount_paid", e.AmountPaid.StringFixed(2)))
	case *billing.BillCancelledEvent:
		h.logger.Info("bill cancelled",
			zap.String("bill_id", e.BillID.String()),
			zap.Time("cancelled_at", e.CancelledAt))
	case *billing.PaymentStatusChangedEvent:
		h.logger.Info("payment status changed",
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("bill_id", e.BillID.String()),
			zap.String("from", string(e.From)),
			zap.String("to", string(e.To)))
	default:
		h.logger.Debug("ignoring event", zap.String("event_type", event.EventType()))
	}
	return nil
}

var _ shared.EventHandler = (*LedgerAuditHandler)(nil)
