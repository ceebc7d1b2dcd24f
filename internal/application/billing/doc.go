// Package billing holds the billing engine's use cases: the ledger service
// that owns every bill mutation, the clinical-event ingestors that feed it,
// the payment processor and the gateway reconciler.
//
// Locking follows one order everywhere: patient account, then bill, then
// payment. Gateway calls never run while a ledger lock is held.
package billing
