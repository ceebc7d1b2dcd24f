package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	billingapp "github.com/hms/backend/internal/application/billing"
	"github.com/hms/backend/internal/domain/billing"
	"github.com/hms/backend/internal/interfaces/http/dto"
)

// BillService is the slice of the ledger the bill endpoints use
type BillService interface {
	AdjustBill(ctx context.Context, billID uuid.UUID, tax, discount decimal.Decimal) (*billing.Bill, error)
	SetDueDate(ctx context.Context, billID uuid.UUID, due *time.Time) (*billing.Bill, error)
	CancelBill(ctx context.Context, billID uuid.UUID) (*billing.Bill, error)
	RecalculateTotals(ctx context.Context, billID uuid.UUID) (*billing.Bill, error)
	GetBill(ctx context.Context, billID uuid.UUID) (*billingapp.BillView, error)
	ListPatientBills(ctx context.Context, patientID uuid.UUID) ([]*billing.Bill, error)
}

// BillHandler handles bill endpoints
type BillHandler struct {
	BaseHandler
	bills BillService
}

// NewBillHandler creates a new BillHandler
func NewBillHandler(bills BillService) *BillHandler {
	return &BillHandler{bills: bills}
}

// Adjust sets tax and discount and recalculates totals
// POST /bills/:id/adjustments
func (h *BillHandler) Adjust(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.AdjustBillRequest
	if !h.BindJSON(c, &req) {
		return
	}

	bill, err := h.bills.AdjustBill(c.Request.Context(), billID, *req.TaxAmount, *req.DiscountAmount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillResponse(bill))
}

// SetDueDate sets or clears the due date
// PUT /bills/:id/due-date
func (h *BillHandler) SetDueDate(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.SetDueDateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	due, err := req.ParseDueDate()
	if err != nil {
		h.BadRequest(c, "Invalid due_date: use YYYY-MM-DD")
		return
	}

	bill, err := h.bills.SetDueDate(c.Request.Context(), billID, due)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillResponse(bill))
}

// Cancel cancels a bill that has nothing paid
// POST /bills/:id/cancel
func (h *BillHandler) Cancel(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	bill, err := h.bills.CancelBill(c.Request.Context(), billID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillResponse(bill))
}

// Recalculate recomputes totals and the paid amount from the stored rows
// POST /bills/:id/recalculate
func (h *BillHandler) Recalculate(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	bill, err := h.bills.RecalculateTotals(c.Request.Context(), billID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillResponse(bill))
}

// Get returns a bill with items and payments
// GET /bills/:id
func (h *BillHandler) Get(c *gin.Context) {
	billID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	view, err := h.bills.GetBill(c.Request.Context(), billID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillDetailResponse(view))
}

// ListByPatient returns every bill of a patient
// GET /patients/:id/bills
func (h *BillHandler) ListByPatient(c *gin.Context) {
	patientID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	bills, err := h.bills.ListPatientBills(c.Request.Context(), patientID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBillListResponse(bills))
}
