// Package clinical holds the clinical-domain occurrences that cause charges.
// The billing engine consumes them; it never reads clinical records directly.
package clinical

import (
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Aggregate type names of the clinical collaborators
const (
	AggregateTypeAppointment  = "Appointment"
	AggregateTypeLabRequest   = "LabRequest"
	AggregateTypePrescription = "Prescription"
)

// Event types
const (
	EventTypeConsultationBooked      = "ConsultationBooked"
	EventTypeLabTestOrdered          = "LabTestOrdered"
	EventTypePrescriptionItemWritten = "PrescriptionItemWritten"
)

// ConsultationBooked is published when an appointment is booked with a doctor
type ConsultationBooked struct {
	shared.BaseDomainEvent
	AppointmentID uuid.UUID       `json:"appointment_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	DoctorName    string          `json:"doctor_name"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	Fee           decimal.Decimal `json:"fee"`
}

// NewConsultationBooked creates a new ConsultationBooked event
func NewConsultationBooked(appointmentID, patientID uuid.UUID, doctor string, at time.Time, fee decimal.Decimal) *ConsultationBooked {
	return &ConsultationBooked{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConsultationBooked, AggregateTypeAppointment, appointmentID),
		AppointmentID:   appointmentID,
		PatientID:       patientID,
		DoctorName:      doctor,
		ScheduledAt:     at,
		Fee:             fee,
	}
}

// LabTestOrdered is published for each test item on a lab request
type LabTestOrdered struct {
	shared.BaseDomainEvent
	LabRequestID uuid.UUID       `json:"lab_request_id"`
	LabItemID    uuid.UUID       `json:"lab_item_id"`
	PatientID    uuid.UUID       `json:"patient_id"`
	TestName     string          `json:"test_name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// NewLabTestOrdered creates a new LabTestOrdered event
func NewLabTestOrdered(requestID, itemID, patientID uuid.UUID, testName string, price, quantity decimal.Decimal) *LabTestOrdered {
	return &LabTestOrdered{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLabTestOrdered, AggregateTypeLabRequest, requestID),
		LabRequestID:    requestID,
		LabItemID:       itemID,
		PatientID:       patientID,
		TestName:        testName,
		Price:           price,
		Quantity:        quantity,
	}
}

// PrescriptionItemWritten is published for each drug line on a prescription
type PrescriptionItemWritten struct {
	shared.BaseDomainEvent
	PrescriptionID uuid.UUID                  `json:"prescription_id"`
	ItemID         uuid.UUID                  `json:"item_id"`
	PatientID      uuid.UUID                  `json:"patient_id"`
	DrugName       string                     `json:"drug_name"`
	Strength       string                     `json:"strength"`
	Frequency      string                     `json:"frequency"`
	Duration       int64                      `json:"duration"`
	DurationUnit   billing.DurationUnit       `json:"duration_unit"`
	UnitPrice      decimal.Decimal            `json:"unit_price"`
	Dosing         *billing.WeightBasedDosing `json:"dosing,omitempty"`
}

// NewPrescriptionItemWritten creates a new PrescriptionItemWritten event
func NewPrescriptionItemWritten(prescriptionID, itemID, patientID uuid.UUID) *PrescriptionItemWritten {
	return &PrescriptionItemWritten{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePrescriptionItemWritten, AggregateTypePrescription, prescriptionID),
		PrescriptionID:  prescriptionID,
		ItemID:          itemID,
		PatientID:       patientID,
		DurationUnit:    billing.DurationDays,
	}
}
