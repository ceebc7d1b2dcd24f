package billing

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceKind identifies the kind of clinical event a BillItem was priced from
type SourceKind string

const (
	SourceKindConsultation     SourceKind = "CONSULTATION"
	SourceKindLabItem          SourceKind = "LAB_ITEM"
	SourceKindPrescriptionItem SourceKind = "PRESCRIPTION_ITEM"
)

// IsValid returns true if the kind is known
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindConsultation, SourceKindLabItem, SourceKindPrescriptionItem:
		return true
	}
	return false
}

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	return string(k)
}

// SourceRef is the idempotency key of a BillItem. The ledger never
// dereferences the source record; deleting it leaves the item in place.
type SourceRef struct {
	Kind SourceKind `json:"source_kind"`
	ID   uuid.UUID  `json:"source_id"`
}

// NewSourceRef creates a validated SourceRef
func NewSourceRef(kind SourceKind, id uuid.UUID) (SourceRef, error) {
	ref := SourceRef{Kind: kind, ID: id}
	if err := ref.Validate(); err != nil {
		return SourceRef{}, err
	}
	return ref, nil
}

// Validate checks the kind and id
func (r SourceRef) Validate() error {
	if !r.Kind.IsValid() || r.ID == uuid.Nil {
		return validationError(ErrInvalidSource)
	}
	return nil
}

// String returns "LAB_ITEM:<uuid>", used as a lock and log key
func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// BatchKind names the clinical aggregate a bill collects items for
type BatchKind string

const (
	BatchKindAppointment  BatchKind = "APPOINTMENT"
	BatchKindLabRequest   BatchKind = "LAB_REQUEST"
	BatchKindPrescription BatchKind = "PRESCRIPTION"
)

// IsValid returns true if the kind is known
func (k BatchKind) IsValid() bool {
	switch k {
	case BatchKindAppointment, BatchKindLabRequest, BatchKindPrescription:
		return true
	}
	return false
}

// BatchKey groups the items of one clinical aggregate onto one open bill.
// At most one non-cancelled bill exists per (patient, batch key).
type BatchKey struct {
	Kind BatchKind `json:"batch_kind"`
	ID   uuid.UUID `json:"batch_id"`
}

// Validate checks the kind and id
func (k BatchKey) Validate() error {
	if !k.Kind.IsValid() || k.ID == uuid.Nil {
		return validationError(ErrInvalidBatch)
	}
	return nil
}

// String returns "LAB_REQUEST:<uuid>"
func (k BatchKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}
