package billing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepBatch   = 200
	defaultRecalcBatch  = 500
	defaultRecalcWorker = 4
)

// LedgerService owns every mutation of bills and their items
type LedgerService struct {
	store   billing.LedgerStore
	locker  PatientLocker
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time

	defaultDueDays int
	recalcWorkers  int
	sweepBatch     int
}

// LedgerServiceConfig holds the dependencies and settings of a LedgerService
type LedgerServiceConfig struct {
	Store   billing.LedgerStore
	Locker  PatientLocker
	Metrics Metrics
	Logger  *zap.Logger
	// Now defaults to time.Now
	Now func() time.Time

	// DefaultDueDays, when positive, sets the due date of new bills
	DefaultDueDays     int
	RecalculateWorkers int
	SweepBatch         int
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(cfg LedgerServiceConfig) *LedgerService {
	s := &LedgerService{
		store:          cfg.Store,
		locker:         cfg.Locker,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
		defaultDueDays: cfg.DefaultDueDays,
		recalcWorkers:  cfg.RecalculateWorkers,
		sweepBatch:     cfg.SweepBatch,
	}
	if s.locker == nil {
		s.locker = noopLocker{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.recalcWorkers <= 0 {
		s.recalcWorkers = defaultRecalcWorker
	}
	if s.sweepBatch <= 0 {
		s.sweepBatch = defaultSweepBatch
	}
	return s
}

func (s *LedgerService) today() time.Time {
	return billing.TruncateDay(s.now())
}

// FindOrCreateOpenBill returns the patient's open bill for the batch, opening
// one if none exists. Concurrent callers for the same patient observe the
// same bill.
func (s *LedgerService) FindOrCreateOpenBill(ctx context.Context, patientID uuid.UUID, batch billing.BatchKey) (*billing.Bill, error) {
	if err := validateTarget(patientID, batch); err != nil {
		return nil, err
	}

	var bill *billing.Bill
	err := s.inPatientLock(ctx, patientID, func(tx billing.LedgerTx) error {
		var err error
		bill, err = s.findOrCreate(ctx, tx, patientID, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// AppendItemInput describes one charge to record. Amount overrides
// quantity x unit price when set.
type AppendItemInput struct {
	PatientID   uuid.UUID
	Batch       billing.BatchKey
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      *decimal.Decimal
	Source      billing.SourceRef
}

// AppendResult reports where the item landed. Created is false when the
// source had already been billed and Item is the existing line.
type AppendResult struct {
	Bill    *billing.Bill
	Item    *billing.BillItem
	Created bool
}

// AppendItem finds or creates the batch's open bill, appends the priced item
// and recalculates totals in one transaction. Re-submitting the same source
// is a no-op that returns the existing item.
func (s *LedgerService) AppendItem(ctx context.Context, in AppendItemInput) (*AppendResult, error) {
	if err := validateTarget(in.PatientID, in.Batch); err != nil {
		return nil, err
	}
	item, err := newItem(in)
	if err != nil {
		return nil, err
	}

	var result *AppendResult
	err = s.inPatientLock(ctx, in.PatientID, func(tx billing.LedgerTx) error {
		existing, err := tx.FindItemBySource(ctx, in.Source)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &AppendResult{Item: existing}
			return nil
		}

		bill, err := s.findOrCreate(ctx, tx, in.PatientID, in.Batch)
		if err != nil {
			return err
		}

		item.BillID = bill.ID
		inserted, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost a race with a writer outside the patient lock.
			existing, err := tx.FindItemBySource(ctx, in.Source)
			if err != nil {
				return err
			}
			result = &AppendResult{Item: existing}
			return nil
		}

		today := s.today()
		if err := bill.AddItem(item, today); err != nil {
			return err
		}
		if err := s.checkAndSave(ctx, tx, bill, today); err != nil {
			return err
		}
		result = &AppendResult{Bill: bill, Item: item, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Created {
		s.metrics.DuplicateSource(ctx, in.Source.Kind)
		s.logger.Info("source already billed, skipping",
			zap.String("source", in.Source.String()),
			zap.String("bill_id", result.Item.BillID.String()))
		if result.Bill, err = s.store.FindBill(ctx, result.Item.BillID); err != nil {
			return nil, err
		}
		return result, nil
	}

	s.metrics.ItemAppended(ctx, in.Source.Kind)
	s.logger.Info("bill item appended",
		zap.String("bill_id", result.Bill.ID.String()),
		zap.String("bill_number", result.Bill.BillNumber),
		zap.String("source", in.Source.String()),
		zap.String("amount", result.Item.Amount.StringFixed(2)),
		zap.String("total_amount", result.Bill.TotalAmount.StringFixed(2)))
	return result, nil
}

// RecalculateTotals recomputes subtotal, total and status from the current
// item set. Calling it again without an item change is a no-op.
func (s *LedgerService) RecalculateTotals(ctx context.Context, billID uuid.UUID) (*billing.Bill, error) {
	return s.mutateBill(ctx, billID, func(bill *billing.Bill, _ []*billing.Payment, today time.Time) (bool, error) {
		return bill.RecalculateTotals(today), nil
	})
}

// AdjustBill replaces the bill's tax and discount and recalculates totals
func (s *LedgerService) AdjustBill(ctx context.Context, billID uuid.UUID, tax, discount decimal.Decimal) (*billing.Bill, error) {
	return s.mutateBill(ctx, billID, func(bill *billing.Bill, _ []*billing.Payment, today time.Time) (bool, error) {
		if err := bill.Adjust(tax, discount, today); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SetDueDate sets or clears the due date and re-derives status
func (s *LedgerService) SetDueDate(ctx context.Context, billID uuid.UUID, due *time.Time) (*billing.Bill, error) {
	return s.mutateBill(ctx, billID, func(bill *billing.Bill, _ []*billing.Payment, today time.Time) (bool, error) {
		if err := bill.SetDueDate(due, today); err != nil {
			return false, err
		}
		return true, nil
	})
}

// CancelBill cancels a bill that has no completed payments
func (s *LedgerService) CancelBill(ctx context.Context, billID uuid.UUID) (*billing.Bill, error) {
	bill, err := s.mutateBill(ctx, billID, func(bill *billing.Bill, _ []*billing.Payment, _ time.Time) (bool, error) {
		if err := bill.Cancel(s.now().UTC()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bill cancelled", zap.String("bill_id", bill.ID.String()), zap.String("bill_number", bill.BillNumber))
	return bill, nil
}

// BillView is a bill with its payments
type BillView struct {
	Bill     *billing.Bill
	Payments []*billing.Payment
}

// GetBill returns a bill with items and payments
func (s *LedgerService) GetBill(ctx context.Context, billID uuid.UUID) (*BillView, error) {
	bill, err := s.store.FindBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.FindPaymentsByBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	return &BillView{Bill: bill, Payments: payments}, nil
}

// ListPatientBills returns every bill of a patient, newest first
func (s *LedgerService) ListPatientBills(ctx context.Context, patientID uuid.UUID) ([]*billing.Bill, error) {
	return s.store.FindBillsByPatient(ctx, patientID)
}

// RefreshOverdue re-derives the status of bills whose due date has passed.
// Returns the number of bills whose status changed.
func (s *LedgerService) RefreshOverdue(ctx context.Context) (int, error) {
	today := s.today()
	changed := 0
	for {
		ids, err := s.store.FindOverdueCandidates(ctx, today, s.sweepBatch)
		if err != nil {
			return changed, err
		}

		progressed := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return changed, err
			}
			var did bool
			_, err := s.mutateBill(ctx, id, func(bill *billing.Bill, _ []*billing.Payment, today time.Time) (bool, error) {
				did = bill.RefreshStatus(today)
				return did, nil
			})
			if err != nil {
				s.logger.Warn("overdue refresh failed", zap.String("bill_id", id.String()), zap.Error(err))
				continue
			}
			if did {
				progressed++
			}
		}
		changed += progressed

		if len(ids) < s.sweepBatch || progressed == 0 {
			return changed, nil
		}
	}
}

// RecalculateReport summarises a bulk recalculation
type RecalculateReport struct {
	Scanned int
	Updated int
	Failed  int
}

// RecalculateAllBills recomputes totals, paid amount and status for every
// bill, paging through ids and fanning each page out to a worker pool.
func (s *LedgerService) RecalculateAllBills(ctx context.Context) (*RecalculateReport, error) {
	var (
		scanned        int
		updated, fails atomic.Int64
		after          = uuid.Nil
	)

	for {
		ids, err := s.store.ListBillIDs(ctx, after, defaultRecalcBatch)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		scanned += len(ids)
		after = ids[len(ids)-1]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.recalcWorkers)
		for _, id := range ids {
			g.Go(func() error {
				did, err := s.recalculateBill(gctx, id)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					fails.Add(1)
					s.logger.Error("bill recalculation failed", zap.String("bill_id", id.String()), zap.Error(err))
					return nil
				}
				if did {
					updated.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if len(ids) < defaultRecalcBatch {
			break
		}
	}

	report := &RecalculateReport{Scanned: scanned, Updated: int(updated.Load()), Failed: int(fails.Load())}
	s.logger.Info("bulk recalculation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *LedgerService) recalculateBill(ctx context.Context, billID uuid.UUID) (bool, error) {
	var did bool
	_, err := s.mutateBill(ctx, billID, func(bill *billing.Bill, payments []*billing.Payment, today time.Time) (bool, error) {
		paid := bill.AmountPaid
		status := bill.Status
		totals := bill.RecalculateTotals(today)
		if !billing.CompletedTotal(bill.ID, payments).Equal(paid) {
			bill.ApplyPayments(payments, today)
		}
		did = totals || !bill.AmountPaid.Equal(paid) || bill.Status != status
		return did, nil
	})
	return did, err
}

func (s *LedgerService) inPatientLock(ctx context.Context, patientID uuid.UUID, fn func(tx billing.LedgerTx) error) error {
	return s.locker.WithPatientLock(ctx, patientID, func(ctx context.Context) error {
		return s.store.InPatientLock(ctx, patientID, fn)
	})
}

func (s *LedgerService) findOrCreate(ctx context.Context, tx billing.LedgerTx, patientID uuid.UUID, batch billing.BatchKey) (*billing.Bill, error) {
	bill, err := tx.FindOpenBill(ctx, patientID, batch)
	if err != nil {
		return nil, err
	}
	if bill != nil {
		return bill, nil
	}

	bill, err = billing.NewBill(patientID, batch)
	if err != nil {
		return nil, err
	}
	if s.defaultDueDays > 0 {
		// Set directly: an empty bill would derive PAID. The first item
		// re-derives status.
		due := s.today().AddDate(0, 0, s.defaultDueDays)
		bill.DueDate = &due
	}
	if err := tx.CreateBill(ctx, bill); err != nil {
		return nil, err
	}
	s.logger.Info("bill opened",
		zap.String("bill_id", bill.ID.String()),
		zap.String("bill_number", bill.BillNumber),
		zap.String("patient_id", patientID.String()),
		zap.String("batch", batch.String()))
	return bill, nil
}

// mutateBill runs fn on the locked bill. When fn reports a change, the ledger
// equations are checked against the stored payments before the bill is saved.
func (s *LedgerService) mutateBill(ctx context.Context, billID uuid.UUID, fn func(bill *billing.Bill, payments []*billing.Payment, today time.Time) (bool, error)) (*billing.Bill, error) {
	var out *billing.Bill
	err := s.store.InBillLock(ctx, billID, func(tx billing.LedgerTx, bill *billing.Bill) error {
		payments, err := tx.ListPayments(ctx, bill.ID)
		if err != nil {
			return err
		}
		today := s.today()
		changed, err := fn(bill, payments, today)
		if err != nil {
			return err
		}
		out = bill
		if !changed {
			return nil
		}
		if err := bill.CheckInvariants(payments, today); err != nil {
			return err
		}
		return tx.SaveBill(ctx, bill)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerService) checkAndSave(ctx context.Context, tx billing.LedgerTx, bill *billing.Bill, today time.Time) error {
	payments, err := tx.ListPayments(ctx, bill.ID)
	if err != nil {
		return err
	}
	if err := bill.CheckInvariants(payments, today); err != nil {
		return err
	}
	return tx.SaveBill(ctx, bill)
}

func validateTarget(patientID uuid.UUID, batch billing.BatchKey) error {
	if patientID == uuid.Nil {
		return fmt.Errorf("%w: %w", billing.ErrValidation, billing.ErrInvalidPatient)
	}
	return batch.Validate()
}

func newItem(in AppendItemInput) (*billing.BillItem, error) {
	if in.Amount != nil {
		return billing.NewPricedBillItem(in.Description, in.Quantity, in.UnitPrice, *in.Amount, in.Source)
	}
	return billing.NewBillItem(in.Description, in.Quantity, in.UnitPrice, in.Source)
}
