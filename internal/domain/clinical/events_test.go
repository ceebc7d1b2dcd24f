package clinical

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsultationBooked(t *testing.T) {
	appt, patient := uuid.New(), uuid.New()
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	e := NewConsultationBooked(appt, patient, "Okafor", at, decimal.NewFromInt(50))

	assert.Equal(t, EventTypeConsultationBooked, e.EventType())
	assert.Equal(t, AggregateTypeAppointment, e.AggregateType())
	assert.Equal(t, appt, e.AggregateID())
	assert.NotEqual(t, uuid.Nil, e.EventID())
}

func TestPrescriptionItemWritten_JSON(t *testing.T) {
	e := NewPrescriptionItemWritten(uuid.New(), uuid.New(), uuid.New())
	e.DrugName = "Amoxicillin"
	e.Strength = "250mg"
	e.Frequency = "BID"
	e.Duration = 5
	kg := decimal.RequireFromString("1.2")
	perKg := decimal.RequireFromString("5")
	e.Dosing = &billing.WeightBasedDosing{WeightBased: true, DosePerKg: &perKg, PatientWeight: &kg}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded PrescriptionItemWritten
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e.ItemID, decoded.ItemID)
	assert.Equal(t, billing.DurationDays, decoded.DurationUnit)
	assert.Equal(t, EventTypePrescriptionItemWritten, decoded.EventType())
	require.True(t, decoded.Dosing.Applies())
	assert.True(t, decoded.Dosing.PatientWeight.Equal(kg))
}
