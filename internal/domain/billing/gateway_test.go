package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapIntentStatus(t *testing.T) {
	tests := map[IntentStatus]PaymentStatus{
		IntentStatusRequiresPaymentMethod: PaymentStatusFailed,
		IntentStatusRequiresConfirmation:  PaymentStatusPending,
		IntentStatusRequiresAction:        PaymentStatusRequiresAction,
		IntentStatusRequiresSourceAction:  PaymentStatusRequiresAction,
		IntentStatusProcessing:            PaymentStatusPending,
		IntentStatusSucceeded:             PaymentStatusCompleted,
		IntentStatusCanceled:              PaymentStatusCancelled,
		"requires_capture":                PaymentStatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, MapIntentStatus(in), string(in))
	}
}

func TestGatewayEvent_TargetStatus(t *testing.T) {
	succeeded := &GatewayEvent{Type: WebhookPaymentIntentSucceeded}
	assert.True(t, succeeded.IsPaymentIntentEvent())
	assert.Equal(t, PaymentStatusCompleted, succeeded.TargetStatus())

	failed := &GatewayEvent{Type: WebhookPaymentIntentFailed, IntentStatus: IntentStatusRequiresPaymentMethod}
	assert.Equal(t, PaymentStatusFailed, failed.TargetStatus())

	other := &GatewayEvent{Type: "charge.refunded"}
	assert.False(t, other.IsPaymentIntentEvent())
}
