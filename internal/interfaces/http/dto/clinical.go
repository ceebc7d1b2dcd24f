package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
)

// ConsultationEventRequest is pushed when an appointment is booked
type ConsultationEventRequest struct {
	AppointmentID uuid.UUID        `json:"appointment_id" binding:"required"`
	PatientID     uuid.UUID        `json:"patient_id" binding:"required"`
	DoctorName    string           `json:"doctor_name" binding:"required,max=200"`
	ScheduledAt   *time.Time       `json:"scheduled_at" binding:"required"`
	Fee           *decimal.Decimal `json:"fee" binding:"required"`
}

// ToEvent builds the clinical event
func (r ConsultationEventRequest) ToEvent() *clinical.ConsultationBooked {
	return clinical.NewConsultationBooked(r.AppointmentID, r.PatientID, r.DoctorName, *r.ScheduledAt, *r.Fee)
}

// LabItemEventRequest is pushed for each test on a lab request
type LabItemEventRequest struct {
	LabRequestID uuid.UUID        `json:"lab_request_id" binding:"required"`
	LabItemID    uuid.UUID        `json:"lab_item_id" binding:"required"`
	PatientID    uuid.UUID        `json:"patient_id" binding:"required"`
	TestName     string           `json:"test_name" binding:"required,max=200"`
	Price        *decimal.Decimal `json:"price" binding:"required"`
	Quantity     *decimal.Decimal `json:"quantity"`
}

// ToEvent builds the clinical event. Quantity defaults to one.
func (r LabItemEventRequest) ToEvent() *clinical.LabTestOrdered {
	qty := decimal.NewFromInt(1)
	if r.Quantity != nil {
		qty = *r.Quantity
	}
	return clinical.NewLabTestOrdered(r.LabRequestID, r.LabItemID, r.PatientID, r.TestName, *r.Price, qty)
}

// PrescriptionItemEventRequest is pushed for each drug line of a prescription
type PrescriptionItemEventRequest struct {
	PrescriptionID uuid.UUID                  `json:"prescription_id" binding:"required"`
	ItemID         uuid.UUID                  `json:"item_id" binding:"required"`
	PatientID      uuid.UUID                  `json:"patient_id" binding:"required"`
	DrugName       string                     `json:"drug_name" binding:"required,max=200"`
	Strength       string                     `json:"strength" binding:"max=100"`
	Frequency      string                     `json:"frequency" binding:"required,max=20"`
	Duration       int64                      `json:"duration" binding:"gt=0"`
	DurationUnit   string                     `json:"duration_unit" binding:"omitempty,oneof=DAYS WEEKS MONTHS days weeks months"`
	UnitPrice      *decimal.Decimal           `json:"unit_price" binding:"required"`
	Dosing         *billing.WeightBasedDosing `json:"dosing"`
}

// ToEvent builds the clinical event. The duration unit defaults to days.
func (r PrescriptionItemEventRequest) ToEvent() *clinical.PrescriptionItemWritten {
	e := clinical.NewPrescriptionItemWritten(r.PrescriptionID, r.ItemID, r.PatientID)
	e.DrugName = r.DrugName
	e.Strength = r.Strength
	e.Frequency = r.Frequency
	e.Duration = r.Duration
	if r.DurationUnit != "" {
		e.DurationUnit = billing.DurationUnit(r.DurationUnit)
	}
	e.UnitPrice = *r.UnitPrice
	e.Dosing = r.Dosing
	return e
}

// EventAcceptedResponse acknowledges a clinical event push. BillID is set
// when the event was ingested inline instead of queued.
type EventAcceptedResponse struct {
	EventType string     `json:"event_type"`
	SourceID  uuid.UUID  `json:"source_id"`
	Queued    bool       `json:"queued"`
	BillID    *uuid.UUID `json:"bill_id,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
}
