package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hms/backend/internal/domain/billing"
)

// PatientLocker serializes find-or-create for one patient across processes
// ahead of the database row lock
type PatientLocker interface {
	WithPatientLock(ctx context.Context, patientID uuid.UUID, fn func(context.Context) error) error
}

type noopLocker struct{}

func (noopLocker) WithPatientLock(ctx context.Context, _ uuid.UUID, fn func(context.Context) error) error {
	return fn(ctx)
}

// SyncScheduler defers a gateway sync for a payment, typically through the
// task queue, after a gateway call timed out
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, paymentID uuid.UUID, delay time.Duration) error
}

// Metrics receives billing counters. The telemetry package provides the
// OpenTelemetry implementation.
type Metrics interface {
	ItemAppended(ctx context.Context, kind billing.SourceKind)
	DuplicateSource(ctx context.Context, kind billing.SourceKind)
	PaymentTransitioned(ctx context.Context, from, to billing.PaymentStatus)
	WebhookRejected(ctx context.Context)
	GatewayFailed(ctx context.Context, op string)
}

type noopMetrics struct{}

func (noopMetrics) ItemAppended(context.Context, billing.SourceKind) {}
func (noopMetrics) DuplicateSource(context.Context, billing.SourceKind) {}
func (noopMetrics) PaymentTransitioned(context.Context, billing.PaymentStatus, billing.PaymentStatus) {}
func (noopMetrics) WebhookRejected(context.Context) {}
func (noopMetrics) GatewayFailed(context.Context, string) {}
