// Package billing holds the patient billing ledger: bills, their priced line
// items, payments against them and the rules that keep the three consistent.
//
// A Bill batches items for one patient under an explicit BatchKey (an
// appointment, a lab request or a prescription). Every item carries a
// SourceRef naming the clinical event it was priced from; the pair is unique
// across the ledger so redelivered events never bill twice.
//
// Totals and payment status are never written directly: RecalculateTotals
// derives subtotal and total from the items, ApplyPayments derives the paid
// amount from completed payments, and DeriveStatus maps the result onto
// BillStatus. Payment status moves only along the transitions table.
package billing
