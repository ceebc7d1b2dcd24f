package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConsultationIngestor bills a booked consultation at the doctor's fee.
// Each appointment is its own batch.
type ConsultationIngestor struct {
	ledger *LedgerService
	logger *zap.Logger
}

// NewConsultationIngestor creates a new ConsultationIngestor
func NewConsultationIngestor(ledger *LedgerService, logger *zap.Logger) *ConsultationIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationIngestor{ledger: ledger, logger: logger}
}

func (i *ConsultationIngestor) EventTypes() []string {
	return []string{clinical.EventTypeConsultationBooked}
}

// Handle ingests a ConsultationBooked delivered on the event bus
func (i *ConsultationIngestor) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*clinical.ConsultationBooked)
	if !ok {
		return unexpectedEvent(clinical.EventTypeConsultationBooked, event)
	}
	_, err := i.Ingest(ctx, e)
	return err
}

// Ingest appends the consultation fee. A zero or unset fee is skipped and
// returns a nil result.
func (i *ConsultationIngestor) Ingest(ctx context.Context, e *clinical.ConsultationBooked) (*AppendResult, error) {
	if !e.Fee.IsPositive() {
		i.logger.Debug("consultation has no fee, not billed",
			zap.String("appointment_id", e.AppointmentID.String()))
		return nil, nil
	}

	at := e.ScheduledAt.UTC()
	return i.ledger.AppendItem(ctx, AppendItemInput{
		PatientID:   e.PatientID,
		Batch:       billing.BatchKey{Kind: billing.BatchKindAppointment, ID: e.AppointmentID},
		Description: fmt.Sprintf("Consultation with Dr. %s on %s at %s", strings.TrimSpace(e.DoctorName), at.Format("2006-01-02"), at.Format("15:04")),
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   e.Fee,
		Source:      billing.SourceRef{Kind: billing.SourceKindConsultation, ID: e.AppointmentID},
	})
}

// LabTestIngestor bills ordered lab tests. All items of one lab request
// accumulate on one bill.
type LabTestIngestor struct {
	ledger *LedgerService
	logger *zap.Logger
}

// NewLabTestIngestor creates a new LabTestIngestor
func NewLabTestIngestor(ledger *LedgerService, logger *zap.Logger) *LabTestIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabTestIngestor{ledger: ledger, logger: logger}
}

func (i *LabTestIngestor) EventTypes() []string {
	return []string{clinical.EventTypeLabTestOrdered}
}

// Handle ingests a LabTestOrdered delivered on the event bus
func (i *LabTestIngestor) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*clinical.LabTestOrdered)
	if !ok {
		return unexpectedEvent(clinical.EventTypeLabTestOrdered, event)
	}
	_, err := i.Ingest(ctx, e)
	return err
}

// Ingest appends price x quantity for one lab item, quantity defaulting to 1
func (i *LabTestIngestor) Ingest(ctx context.Context, e *clinical.LabTestOrdered) (*AppendResult, error) {
	qty, amount := billing.PriceLabTest(e.Price, e.Quantity)
	return i.ledger.AppendItem(ctx, AppendItemInput{
		PatientID:   e.PatientID,
		Batch:       billing.BatchKey{Kind: billing.BatchKindLabRequest, ID: e.LabRequestID},
		Description: fmt.Sprintf("%s (Test) - Qty: %s", strings.TrimSpace(e.TestName), qty.String()),
		Quantity:    qty,
		UnitPrice:   e.Price,
		Amount:      &amount,
		Source:      billing.SourceRef{Kind: billing.SourceKindLabItem, ID: e.LabItemID},
	})
}

// PrescriptionIngestor bills prescription items, one bill per prescription
type PrescriptionIngestor struct {
	ledger *LedgerService
	logger *zap.Logger
}

// NewPrescriptionIngestor creates a new PrescriptionIngestor
func NewPrescriptionIngestor(ledger *LedgerService, logger *zap.Logger) *PrescriptionIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionIngestor{ledger: ledger, logger: logger}
}

func (i *PrescriptionIngestor) EventTypes() []string {
	return []string{clinical.EventTypePrescriptionItemWritten}
}

// Handle ingests a PrescriptionItemWritten delivered on the event bus
func (i *PrescriptionIngestor) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*clinical.PrescriptionItemWritten)
	if !ok {
		return unexpectedEvent(clinical.EventTypePrescriptionItemWritten, event)
	}
	_, err := i.Ingest(ctx, e)
	return err
}

// Ingest prices the item from frequency and duration, applying weight-based
// dosing when the dose per kg and the patient weight are both known.
func (i *PrescriptionIngestor) Ingest(ctx context.Context, e *clinical.PrescriptionItemWritten) (*AppendResult, error) {
	charge := billing.PricePrescription(e.Frequency, e.Duration, e.DurationUnit, e.UnitPrice, e.Dosing)
	if e.Dosing.Applies() {
		i.logger.Debug("weight-based dosing applied",
			zap.String("item_id", e.ItemID.String()),
			zap.String("dose", e.Dosing.Dose().String()))
	}

	desc := strings.TrimSpace(strings.TrimSpace(e.DrugName) + " " + strings.TrimSpace(e.Strength))
	return i.ledger.AppendItem(ctx, AppendItemInput{
		PatientID:   e.PatientID,
		Batch:       billing.BatchKey{Kind: billing.BatchKindPrescription, ID: e.PrescriptionID},
		Description: fmt.Sprintf("%s - Qty: %s", desc, charge.Quantity.String()),
		Quantity:    charge.Quantity,
		UnitPrice:   charge.UnitPrice,
		Amount:      &charge.Amount,
		Source:      billing.SourceRef{Kind: billing.SourceKindPrescriptionItem, ID: e.ItemID},
	})
}

func unexpectedEvent(expected string, event shared.DomainEvent) error {
	return fmt.Errorf("unexpected event type: expected %s, got %s", expected, event.EventType())
}

var (
	_ shared.EventHandler = (*ConsultationIngestor)(nil)
	_ shared.EventHandler = (*LabTestIngestor)(nil)
	_ shared.EventHandler = (*PrescriptionIngestor)(nil)
)
