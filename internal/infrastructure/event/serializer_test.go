package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegisteredSerializer() *EventSerializer {
	s := NewEventSerializer()
	RegisterAllEvents(s)
	return s
}

func TestRegisterAllEvents(t *testing.T) {
	s := newRegisteredSerializer()

	for _, et := range []string{
		billing.EventTypeBillOpened,
		billing.EventTypeBillItemAppended,
		billing.EventTypeBillSettled,
		billing.EventTypeBillCancelled,
		billing.EventTypePaymentStatusChanged,
		clinical.EventTypeConsultationBooked,
		clinical.EventTypeLabTestOrdered,
		clinical.EventTypePrescriptionItemWritten,
	} {
		assert.True(t, s.IsRegistered(et), et)
	}
	assert.Len(t, s.RegisteredTypes(), 8)
}

func TestEventSerializer_BillSettledRoundTrip(t *testing.T) {
	s := newRegisteredSerializer()
	b, err := billing.NewBill(uuid.New(), billing.BatchKey{Kind: billing.BatchKindAppointment, ID: uuid.New()})
	require.NoError(t, err)
	b.BillNumber = "BL-20261014-0007"
	b.TotalAmount = decimal.RequireFromString("75.00")
	b.AmountPaid = decimal.RequireFromString("75.00")
	original := billing.NewBillSettledEvent(b)

	data, err := s.Serialize(original)
	require.NoError(t, err)
	decoded, err := s.Deserialize(billing.EventTypeBillSettled, data)
	require.NoError(t, err)

	got, ok := decoded.(*billing.BillSettledEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID(), got.EventID())
	assert.Equal(t, original.AggregateID(), got.AggregateID())
	assert.Equal(t, billing.AggregateTypeBill, got.AggregateType())
	assert.Equal(t, "BL-20261014-0007", got.BillNumber)
	assert.True(t, got.AmountPaid.Equal(original.AmountPaid))
}

func TestEventSerializer_ClinicalRoundTrip(t *testing.T) {
	s := newRegisteredSerializer()
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	original := clinical.NewConsultationBooked(uuid.New(), uuid.New(), "Adams", at, decimal.RequireFromString("50.00"))

	data, err := s.Serialize(original)
	require.NoError(t, err)
	decoded, err := s.Deserialize(clinical.EventTypeConsultationBooked, data)
	require.NoError(t, err)

	got := decoded.(*clinical.ConsultationBooked)
	assert.Equal(t, original.AppointmentID, got.AppointmentID)
	assert.Equal(t, "Adams", got.DoctorName)
	assert.True(t, at.Equal(got.ScheduledAt))
}

func TestEventSerializer_Errors(t *testing.T) {
	s := newRegisteredSerializer()

	_, err := s.Deserialize("NoSuchEvent", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = s.Deserialize(billing.EventTypeBillOpened, []byte(`not json`))
	assert.ErrorContains(t, err, "decode "+billing.EventTypeBillOpened)
}
