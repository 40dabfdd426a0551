// Package payments owns the payment intent lifecycle: pricing, intent
// creation against an external payment oracle and the reconcile loop
// that turns settled payments into provisioned accounts exactly once.
package payments

import "context"

// Settlement is the oracle's verdict on a payment reference.
type Settlement string

const (
	SettlementPending Settlement = "pending"
	SettlementSettled Settlement = "settled"
	SettlementFailed  Settlement = "failed"
)

// Payable is a payment created at the oracle.
type Payable struct {
	// URL the user opens to pay.
	URL string
	// ExternalID is the oracle's reference for status queries.
	ExternalID string
}

// Oracle abstracts the payment provider. The reconcile loop only ever
// asks two questions: make a payable, and has this reference settled.
type Oracle interface {
	CreatePayable(ctx context.Context, amount float64, label string) (Payable, error)
	QueryStatus(ctx context.Context, reference string) (Settlement, error)
}
