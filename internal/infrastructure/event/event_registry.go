package event

import (
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
)

// RegisterAllEvents registers every event type that can sit in the outbox.
// The OutboxProcessor cannot relay an entry whose type is not registered.
func RegisterAllEvents(serializer *EventSerializer) {
	// Billing ledger
	serializer.Register(billing.EventTypeBillOpened, &billing.BillOpenedEvent{})
	serializer.Register(billing.EventTypeBillItemAppended, &billing.BillItemAppendedEvent{})
	serializer.Register(billing.EventTypeBillSettled, &billing.BillSettledEvent{})
	serializer.Register(billing.EventTypeBillCancelled, &billing.BillCancelledEvent{})
	serializer.Register(billing.EventTypePaymentStatusChanged, &billing.PaymentStatusChangedEvent{})

	// Clinical source events, relayed when collaborators write them to the outbox
	serializer.Register(clinical.EventTypeConsultationBooked, &clinical.ConsultationBooked{})
	serializer.Register(clinical.EventTypeLabTestOrdered, &clinical.LabTestOrdered{})
	serializer.Register(clinical.EventTypePrescriptionItemWritten, &clinical.PrescriptionItemWritten{})
}
