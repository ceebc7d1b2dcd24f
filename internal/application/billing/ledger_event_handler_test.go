package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLedgerAuditHandler(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := NewLedgerAuditHandler(zap.New(core))
	ctx := context.Background()

	bill, err := billing.NewBill(uuid.New(), billing.BatchKey{Kind: billing.BatchKindAppointment, ID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, bill.AssignNumber("BL-20261014-0001"))

	require.NoError(t, handler.Handle(ctx, billing.NewBillSettledEvent(bill)))
	require.NoError(t, bill.Cancel(testNow))
	require.NoError(t, handler.Handle(ctx, billing.NewBillCancelledEvent(bill)))
	require.NoError(t, handler.Handle(ctx, labEvent(uuid.New(), uuid.New(), "1.00")))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "ledger_audit", entries[0].LoggerName)
	assert.Equal(t, "bill settled", entries[0].Message)
	assert.Equal(t, "BL-20261014-0001", entries[0].ContextMap()["bill_number"])
	assert.Equal(t, "bill cancelled", entries[1].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)

	assert.ElementsMatch(t, []string{
		billing.EventTypeBillSettled,
		billing.EventTypeBillCancelled,
		billing.EventTypePaymentStatusChanged,
	}, handler.EventTypes())
}
