package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/hms/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate is the row lock used by every locked unit of work. The sqlite
// driver drops it; there the single connection serializes writers instead.
var forUpdate = clause.Locking{Strength: "UPDATE"}

// GormLedgerStore implements billing.LedgerStore using GORM
type GormLedgerStore struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewGormLedgerStore creates a new GORM ledger store. outbox may be nil, in
// which case domain events are dropped on save.
func NewGormLedgerStore(db *gorm.DB, outbox shared.OutboxEventSaver) *GormLedgerStore {
	return &GormLedgerStore{db: db, outbox: outbox}
}

// InPatientLock runs fn holding the patient's billing_accounts row lock
func (s *GormLedgerStore) InPatientLock(ctx context.Context, patientID uuid.UUID, fn func(tx billing.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBillingAccount(tx, patientID); err != nil {
			return err
		}
		return fn(s.newTx(tx))
	})
}

// InBillLock runs fn holding the bill row lock
func (s *GormLedgerStore) InBillLock(ctx context.Context, billID uuid.UUID, fn func(tx billing.LedgerTx, bill *billing.Bill) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bill, err := lockBill(tx, billID)
		if err != nil {
			return err
		}
		return fn(s.newTx(tx), bill)
	})
}

// InPaymentLock locks the owning bill, then the payment
func (s *GormLedgerStore) InPaymentLock(ctx context.Context, paymentID uuid.UUID, fn func(tx billing.LedgerTx, bill *billing.Bill, payment *billing.Payment) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// bill_id never changes, so reading it before taking the locks is safe
		var owner struct{ BillID uuid.UUID }
		if err := tx.Model(&models.PaymentModel{}).Select("bill_id").Where("id = ?", paymentID).Take(&owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billing.ErrPaymentNotFound
			}
			return err
		}

		bill, err := lockBill(tx, owner.BillID)
		if err != nil {
			return err
		}

		var pm models.PaymentModel
		if err := tx.Clauses(forUpdate).Where("id = ?", paymentID).Take(&pm).Error; err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		return fn(s.newTx(tx), bill, pm.ToDomain())
	})
}

// FindBill finds a bill by ID with its items
func (s *GormLedgerStore) FindBill(ctx context.Context, id uuid.UUID) (*billing.Bill, error) {
	db := s.db.WithContext(ctx)
	var m models.BillModel
	if err := db.Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrBillNotFound
		}
		return nil, err
	}
	items, err := findItems(db, m.ID)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(items), nil
}

// FindBillsByPatient returns the patient's bills, newest first
func (s *GormLedgerStore) FindBillsByPatient(ctx context.Context, patientID uuid.UUID) ([]*billing.Bill, error) {
	db := s.db.WithContext(ctx)
	var rows []models.BillModel
	if err := db.Where("patient_id = ?", patientID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*billing.Bill{}, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	var items []models.BillItemModel
	if err := db.Where("bill_id IN ?", ids).Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	byBill := make(map[uuid.UUID][]models.BillItemModel, len(rows))
	for _, item := range items {
		byBill[item.BillID] = append(byBill[item.BillID], item)
	}

	bills := make([]*billing.Bill, len(rows))
	for i := range rows {
		bills[i] = rows[i].ToDomain(byBill[rows[i].ID])
	}
	return bills, nil
}

// FindPayment finds a payment by ID
func (s *GormLedgerStore) FindPayment(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	var m models.PaymentModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindPaymentByIntentID finds the payment backed by a gateway intent
func (s *GormLedgerStore) FindPaymentByIntentID(ctx context.Context, intentID string) (*billing.Payment, error) {
	var m models.PaymentModel
	if err := s.db.WithContext(ctx).Where("gateway_intent_id = ?", intentID).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindPaymentsByBill returns every payment of the bill, oldest first
func (s *GormLedgerStore) FindPaymentsByBill(ctx context.Context, billID uuid.UUID) ([]*billing.Payment, error) {
	return findPayments(s.db.WithContext(ctx), billID)
}

// FindUnsettledPayments returns payments the reconciler should look at
func (s *GormLedgerStore) FindUnsettledPayments(ctx context.Context, touchedBefore time.Time, limit int) ([]*billing.Payment, error) {
	var rows []models.PaymentModel
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []billing.PaymentStatus{
			billing.PaymentStatusPending,
			billing.PaymentStatusRequiresAction,
			billing.PaymentStatusFailed,
		}, touchedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return paymentsToDomain(rows), nil
}

// FindOverdueCandidates returns ids of open bills due before today
func (s *GormLedgerStore) FindOverdueCandidates(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.BillModel{}).
		Where("due_date < ? AND payment_status IN ?", billing.TruncateDay(today), []billing.BillStatus{
			billing.BillStatusPending,
			billing.BillStatusPartial,
		}).
		Order("due_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListBillIDs pages through bill ids in ascending order
func (s *GormLedgerStore) ListBillIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.BillModel{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *GormLedgerStore) newTx(tx *gorm.DB) *gormLedgerTx {
	return &gormLedgerTx{tx: tx, outbox: s.outbox}
}

// lockBillingAccount creates the patient's lock row if needed and locks it.
// A concurrent inserter blocks on the uncommitted row, then finds it.
func lockBillingAccount(tx *gorm.DB, patientID uuid.UUID) error {
	account := models.BillingAccountModel{PatientID: patientID, CreatedAt: time.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
		return fmt.Errorf("ensure billing account: %w", err)
	}
	if err := tx.Clauses(forUpdate).Where("patient_id = ?", patientID).Take(&account).Error; err != nil {
		return fmt.Errorf("lock billing account: %w", err)
	}
	return nil
}

func lockBill(tx *gorm.DB, billID uuid.UUID) (*billing.Bill, error) {
	var m models.BillModel
	if err := tx.Clauses(forUpdate).Where("id = ?", billID).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrBillNotFound
		}
		return nil, fmt.Errorf("lock bill: %w", err)
	}
	items, err := findItems(tx, m.ID)
	if err != nil {
		return nil, err
	}
	return m.ToDomain(items), nil
}

func findItems(db *gorm.DB, billID uuid.UUID) ([]models.BillItemModel, error) {
	var items []models.BillItemModel
	err := db.Where("bill_id = ?", billID).Order("created_at ASC, id ASC").Find(&items).Error
	return items, err
}

func findPayments(db *gorm.DB, billID uuid.UUID) ([]*billing.Payment, error) {
	var rows []models.PaymentModel
	if err := db.Where("bill_id = ?", billID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return paymentsToDomain(rows), nil
}

func paymentsToDomain(rows []models.PaymentModel) []*billing.Payment {
	payments := make([]*billing.Payment, len(rows))
	for i := range rows {
		payments[i] = rows[i].ToDomain()
	}
	return payments
}

// gormLedgerTx implements billing.LedgerTx on an open transaction
type gormLedgerTx struct {
	tx     *gorm.DB
	outbox shared.OutboxEventSaver
}

// FindOpenBill returns the locked non-cancelled bill for the batch, or nil
func (t *gormLedgerTx) FindOpenBill(ctx context.Context, patientID uuid.UUID, batch billing.BatchKey) (*billing.Bill, error) {
	db := t.tx.WithContext(ctx)
	var rows []models.BillModel
	err := db.Clauses(forUpdate).
		Where("patient_id = ? AND batch_kind = ? AND batch_id = ? AND payment_status <> ?",
			patientID, batch.Kind, batch.ID, billing.BillStatusCancelled).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	items, err := findItems(db, rows[0].ID)
	if err != nil {
		return nil, err
	}
	return rows[0].ToDomain(items), nil
}

// CreateBill allocates the next bill number for the bill's creation day and
// inserts the bill
func (t *gormLedgerTx) CreateBill(ctx context.Context, bill *billing.Bill) error {
	db := t.tx.WithContext(ctx)
	seq, err := nextBillSequence(db, bill.CreatedAt)
	if err != nil {
		return err
	}
	if err := bill.AssignNumber(billing.FormatBillNumber(bill.CreatedAt, seq)); err != nil {
		return err
	}
	if err := db.Create(models.BillModelFromDomain(bill)).Error; err != nil {
		return fmt.Errorf("create bill: %w", err)
	}
	return t.flush(ctx, bill)
}

func nextBillSequence(db *gorm.DB, at time.Time) (int64, error) {
	day := at.UTC().Format("20060102")
	seq := models.BillNumberSequenceModel{Day: day}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return 0, fmt.Errorf("ensure bill number sequence: %w", err)
	}
	if err := db.Clauses(forUpdate).Where("day = ?", day).Take(&seq).Error; err != nil {
		return 0, fmt.Errorf("lock bill number sequence: %w", err)
	}
	seq.LastValue++
	if err := db.Model(&models.BillNumberSequenceModel{}).
		Where("day = ?", day).
		Update("last_value", seq.LastValue).Error; err != nil {
		return 0, fmt.Errorf("advance bill number sequence: %w", err)
	}
	return seq.LastValue, nil
}

// FindItemBySource returns the item billed for ref, or nil
func (t *gormLedgerTx) FindItemBySource(ctx context.Context, ref billing.SourceRef) (*billing.BillItem, error) {
	var rows []models.BillItemModel
	err := t.tx.WithContext(ctx).
		Where("source_kind = ? AND source_id = ?", ref.Kind, ref.ID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDomain(), nil
}

// InsertItem inserts the item unless its source was already billed
func (t *gormLedgerTx) InsertItem(ctx context.Context, item *billing.BillItem) (bool, error) {
	result := t.tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_kind"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(models.BillItemModelFromDomain(item))
	if result.Error != nil {
		return false, fmt.Errorf("insert bill item: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SaveBill writes the bill's mutable fields with a version check
func (t *gormLedgerTx) SaveBill(ctx context.Context, bill *billing.Bill) error {
	bill.IncrementVersion()
	result := t.tx.WithContext(ctx).
		Model(&models.BillModel{}).
		Where("id = ? AND version = ?", bill.ID, bill.Version-1).
		Updates(map[string]any{
			"due_date":        bill.DueDate,
			"subtotal":        bill.Subtotal,
			"tax_amount":      bill.TaxAmount,
			"discount_amount": bill.DiscountAmount,
			"total_amount":    bill.TotalAmount,
			"amount_paid":     bill.AmountPaid,
			"payment_status":  bill.Status,
			"cancelled_at":    bill.CancelledAt,
			"version":         bill.Version,
			"updated_at":      bill.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("save bill: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return t.flush(ctx, bill)
}

// ListPayments returns the bill's payments as stored in this transaction
func (t *gormLedgerTx) ListPayments(ctx context.Context, billID uuid.UUID) ([]*billing.Payment, error) {
	return findPayments(t.tx.WithContext(ctx), billID)
}

// InsertPayment inserts a new payment
func (t *gormLedgerTx) InsertPayment(ctx context.Context, payment *billing.Payment) error {
	if err := t.tx.WithContext(ctx).Create(models.PaymentModelFromDomain(payment)).Error; err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return t.flush(ctx, payment)
}

// SavePayment writes the payment's mutable fields with a version check
func (t *gormLedgerTx) SavePayment(ctx context.Context, payment *billing.Payment) error {
	m := models.PaymentModelFromDomain(payment)
	payment.IncrementVersion()
	result := t.tx.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version-1).
		Updates(map[string]any{
			"amount":            m.Amount,
			"method":            m.Method,
			"status":            m.Status,
			"gateway_intent_id": m.GatewayIntentID,
			"reference_number":  m.ReferenceNumber,
			"notes":             m.Notes,
			"completed_at":      m.CompletedAt,
			"refunded_at":       m.RefundedAt,
			"version":           payment.Version,
			"updated_at":        payment.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("save payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return t.flush(ctx, payment)
}

// flush writes the aggregate's pending events to the outbox in this transaction
func (t *gormLedgerTx) flush(ctx context.Context, agg shared.AggregateRoot) error {
	events := agg.GetDomainEvents()
	if len(events) > 0 && t.outbox != nil {
		if err := t.outbox.SaveEvents(ctx, t.tx, events...); err != nil {
			return fmt.Errorf("save outbox events: %w", err)
		}
	}
	agg.ClearDomainEvents()
	return nil
}

// Ensure GormLedgerStore implements billing.LedgerStore
var _ billing.LedgerStore = (*GormLedgerStore)(nil)
