package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LedgerStore persists bills, items and payments. Every mutation runs inside
// one of the locked units of work; locks are always taken in the order
// patient account, bill, payment.
type LedgerStore interface {
	// InPatientLock runs fn in a transaction holding the patient's billing
	// account row lock, serializing find-or-create for that patient.
	InPatientLock(ctx context.Context, patientID uuid.UUID, fn func(tx LedgerTx) error) error
	// InBillLock runs fn in a transaction holding the bill row lock. The bill
	// is re-read under the lock with its items.
	InBillLock(ctx context.Context, billID uuid.UUID, fn func(tx LedgerTx, bill *Bill) error) error
	// InPaymentLock locks the owning bill, then the payment, and hands both
	// to fn as stored.
	InPaymentLock(ctx context.Context, paymentID uuid.UUID, fn func(tx LedgerTx, bill *Bill, payment *Payment) error) error

	FindBill(ctx context.Context, id uuid.UUID) (*Bill, error)
	FindBillsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error)
	FindPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error)
	FindPaymentsByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error)

	// FindUnsettledPayments returns pending, requires_action and failed
	// payments last touched before the cutoff, oldest first
	FindUnsettledPayments(ctx context.Context, touchedBefore time.Time, limit int) ([]*Payment, error)
	// FindOverdueCandidates returns bills due before today still PENDING or PARTIAL
	FindOverdueCandidates(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error)
	// ListBillIDs pages through every bill id in ascending order after afterID
	ListBillIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// LedgerTx is the view of the store inside a locked unit of work. Pending
// domain events on saved aggregates are written to the outbox in the same
// transaction.
type LedgerTx interface {
	// FindOpenBill returns the non-cancelled bill for the patient's batch,
	// locked and with items, or nil if there is none
	FindOpenBill(ctx context.Context, patientID uuid.UUID, batch BatchKey) (*Bill, error)
	// CreateBill allocates the bill number and inserts the bill
	CreateBill(ctx context.Context, bill *Bill) error
	// FindItemBySource returns the item priced from ref anywhere in the ledger, or nil
	FindItemBySource(ctx context.Context, ref SourceRef) (*BillItem, error)
	// InsertItem inserts the item unless one already exists for its source.
	// Returns false, without error, when the source was already billed.
	InsertItem(ctx context.Context, item *BillItem) (bool, error)
	SaveBill(ctx context.Context, bill *Bill) error
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	InsertPayment(ctx context.Context, payment *Payment) error
	SavePayment(ctx context.Context, payment *Payment) error
}
