package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/clinical"
	"github.com/hms/backend/internal/interfaces/http/dto"
)

// EventQueue defers clinical events to the task worker
type EventQueue interface {
	EnqueueConsultation(ctx context.Context, e *clinical.ConsultationBooked) error
	EnqueueLabItem(ctx context.Context, e *clinical.LabTestOrdered) error
	EnqueuePrescriptionItem(ctx context.Context, e *clinical.PrescriptionItemWritten) error
}

// ConsultationIngestor bills a booked consultation
type ConsultationIngestor interface {
	Ingest(ctx context.Context, e *clinical.ConsultationBooked) (*billingapp.AppendResult, error)
}

// LabTestIngestor bills an ordered lab test
type LabTestIngestor interface {
	Ingest(ctx context.Context, e *clinical.LabTestOrdered) (*billingapp.AppendResult, error)
}

// PrescriptionIngestor bills a prescription line
type PrescriptionIngestor interface {
	Ingest(ctx context.Context, e *clinical.PrescriptionItemWritten) (*billingapp.AppendResult, error)
}

// ClinicalEventHandlerConfig holds the dependencies of a ClinicalEventHandler.
// Queue is optional; without it events are ingested inline.
type ClinicalEventHandlerConfig struct {
	Queue         EventQueue
	Consultations ConsultationIngestor
	LabItems      LabTestIngestor
	Prescriptions PrescriptionIngestor
}

// ClinicalEventHandler is the push endpoint for clinical collaborators
type ClinicalEventHandler struct {
	BaseHandler
	cfg ClinicalEventHandlerConfig
}

// NewClinicalEventHandler creates a new ClinicalEventHandler
func NewClinicalEventHandler(cfg ClinicalEventHandlerConfig) *ClinicalEventHandler {
	return &ClinicalEventHandler{cfg: cfg}
}

// Consultation accepts a booked consultation
// POST /clinical-events/consultations
func (h *ClinicalEventHandler) Consultation(c *gin.Context) {
	var req dto.ConsultationEventRequest
	if !h.BindJSON(c, &req) {
		return
	}
	e := req.ToEvent()
	h.accept(c, e.EventType(), e.AppointmentID,
		func(ctx context.Context) error { return h.cfg.Queue.EnqueueConsultation(ctx, e) },
		func(ctx context.Context) (*billingapp.AppendResult, error) { return h.cfg.Consultations.Ingest(ctx, e) })
}

// LabItem accepts an ordered lab test
// POST /clinical-events/lab-items
func (h *ClinicalEventHandler) LabItem(c *gin.Context) {
	var req dto.LabItemEventRequest
	if !h.BindJSON(c, &req) {
		return
	}
	e := req.ToEvent()
	h.accept(c, e.EventType(), e.LabItemID,
		func(ctx context.Context) error { return h.cfg.Queue.EnqueueLabItem(ctx, e) },
		func(ctx context.Context) (*billingapp.AppendResult, error) { return h.cfg.LabItems.Ingest(ctx, e) })
}

// PrescriptionItem accepts a prescription line
// POST /clinical-events/prescription-items
func (h *ClinicalEventHandler) PrescriptionItem(c *gin.Context) {
	var req dto.PrescriptionItemEventRequest
	if !h.BindJSON(c, &req) {
		return
	}
	e := req.ToEvent()
	h.accept(c, e.EventType(), e.ItemID,
		func(ctx context.Context) error { return h.cfg.Queue.EnqueuePrescriptionItem(ctx, e) },
		func(ctx context.Context) (*billingapp.AppendResult, error) { return h.cfg.Prescriptions.Ingest(ctx, e) })
}

func (h *ClinicalEventHandler) accept(
	c *gin.Context,
	eventType string,
	sourceID uuid.UUID,
	enqueue func(context.Context) error,
	ingest func(context.Context) (*billingapp.AppendResult, error),
) {
	ctx := c.Request.Context()
	resp := dto.EventAcceptedResponse{EventType: eventType, SourceID: sourceID}

	if h.cfg.Queue != nil {
		if err := enqueue(ctx); err != nil {
			h.HandleError(c, err)
			return
		}
		resp.Queued = true
		h.Accepted(c, resp)
		return
	}

	result, err := ingest(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp.BillID = &result.Bill.ID
	resp.Duplicate = !result.Created
	h.Accepted(c, resp)
}
