package types

import "time"

const (
	// QueueCheckoutOutcome carries every routed outcome to the reconciliation worker.
	QueueCheckoutOutcome = "checkout.outcome"

	EventOutcome        = "checkout.outcome"
	EventReconciliation = "checkout.reconciliation"
)

// OutcomeEvent is published once per routed outcome.
type OutcomeEvent struct {
	Type                   string    `json:"type"`
	OrderID                string    `json:"order_id"`
	SessionID              string    `json:"session_id"`
	State                  string    `json:"state"`
	Kind                   string    `json:"kind"`
	Reason                 string    `json:"reason,omitempty"`
	Amount                 int64     `json:"amount"`
	PaymentType            string    `json:"payment_type"`
	AwaitingSettlement     bool      `json:"awaiting_settlement"`
	ReconciliationRequired bool      `json:"reconciliation_required"`
	ServerStatus           string    `json:"server_status,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}
