// Package queue carries billing work over asynq: clinical events pushed by
// collaborator systems and deferred payment syncs.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hms/backend/internal/domain/clinical"
)

// Queue names
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Task types
const (
	TypeIngestConsultation     = "billing:ingest:consultation"
	TypeIngestLabItem          = "billing:ingest:lab_item"
	TypeIngestPrescriptionItem = "billing:ingest:prescription_item"
	TypePaymentSync            = "billing:payment:sync"
)

const (
	ingestMaxRetry = 10
	syncMaxRetry   = 8
	taskTimeout    = 30 * time.Second
)

// PaymentSyncPayload asks the worker to pull a payment's status from the gateway
type PaymentSyncPayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

// NewConsultationTask builds the ingestion task for a booked consultation.
// The task id is derived from the appointment so a re-pushed event is
// rejected by the queue while the first is still pending.
func NewConsultationTask(e *clinical.ConsultationBooked) (*asynq.Task, error) {
	return newIngestTask(TypeIngestConsultation, e.AppointmentID, e)
}

// NewLabItemTask builds the ingestion task for one ordered lab item
func NewLabItemTask(e *clinical.LabTestOrdered) (*asynq.Task, error) {
	return newIngestTask(TypeIngestLabItem, e.LabItemID, e)
}

// NewPrescriptionItemTask builds the ingestion task for one prescription line
func NewPrescriptionItemTask(e *clinical.PrescriptionItemWritten) (*asynq.Task, error) {
	return newIngestTask(TypeIngestPrescriptionItem, e.ItemID, e)
}

// NewPaymentSyncTask builds a sync task for the payment
func NewPaymentSyncTask(paymentID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(PaymentSyncPayload{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentSync, data,
		asynq.Queue(QueueCritical),
		asynq.TaskID(syncTaskID(paymentID)),
		asynq.MaxRetry(syncMaxRetry),
		asynq.Timeout(taskTimeout),
	), nil
}

func newIngestTask(taskType string, sourceID uuid.UUID, event any) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(taskType+":"+sourceID.String()),
		asynq.MaxRetry(ingestMaxRetry),
		asynq.Timeout(taskTimeout),
	), nil
}

func syncTaskID(paymentID uuid.UUID) string {
	return TypePaymentSync + ":" + paymentID.String()
}
