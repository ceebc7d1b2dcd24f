package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus is the derived payment status of a bill
type BillStatus string

const (
	BillStatusPending   BillStatus = "PENDING"
	BillStatusPartial   BillStatus = "PARTIAL"
	BillStatusPaid      BillStatus = "PAID"
	BillStatusOverdue   BillStatus = "OVERDUE"
	BillStatusCancelled BillStatus = "CANCELLED"
)

// IsValid returns true if the status is known
func (s BillStatus) IsValid() bool {
	switch s {
	case BillStatusPending, BillStatusPartial, BillStatusPaid, BillStatusOverdue, BillStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of BillStatus
func (s BillStatus) String() string {
	return string(s)
}

// DeriveStatus computes a bill's status from what has been paid against what
// is owed. CANCELLED is never derived. Due dates are compared by calendar day
// in UTC: a bill due today is not overdue yet.
func DeriveStatus(amountPaid, totalAmount decimal.Decimal, dueDate *time.Time, today time.Time) BillStatus {
	overdue := dueDate != nil && dayBefore(*dueDate, today) && amountPaid.LessThan(totalAmount)

	switch {
	case amountPaid.GreaterThanOrEqual(totalAmount):
		return BillStatusPaid
	case amountPaid.IsPositive():
		if overdue {
			return BillStatusOverdue
		}
		return BillStatusPartial
	default:
		if overdue {
			return BillStatusOverdue
		}
		return BillStatusPending
	}
}

// dayBefore reports whether a falls on an earlier calendar day than b
func dayBefore(a, b time.Time) bool {
	return TruncateDay(a).Before(TruncateDay(b))
}

// TruncateDay normalizes a time to midnight UTC of its calendar day
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
