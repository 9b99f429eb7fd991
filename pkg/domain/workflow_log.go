package domain

import "time"

// WorkflowLogEntry is immutable and append-only: one entry per successful
// transition, ordered by performed_at descending for display. TransactionID
// stays empty when the ledger call produced only a fallback id; it is
// backfilled once an authoritative id exists.
type WorkflowLogEntry struct {
	ID            int64         `json:"id"`
	ContractID    string        `json:"contract_id"`
	Action        Action        `json:"action"`
	FromState     ContractState `json:"from_state,omitempty"`
	ToState       ContractState `json:"to_state"`
	PerformedBy   string        `json:"performed_by"`
	PerformedAt   time.Time     `json:"performed_at"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}
