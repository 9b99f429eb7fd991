package domain

import "time"

type PaymentMethod string

const (
	PaymentCheck      PaymentMethod = "CHECK"
	PaymentWire       PaymentMethod = "WIRE"
	PaymentACH        PaymentMethod = "ACH"
	PaymentCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentCash       PaymentMethod = "CASH"
	PaymentOther      PaymentMethod = "OTHER"
)

// PaymentRecord is append-only. A contract's paid amount is always the sum
// of its payment record amounts, recomputed from the surviving rows after
// any administrative deletion.
type PaymentRecord struct {
	PaymentID     string        `json:"payment_id"`
	ContractID    string        `json:"contract_id"`
	AmountCents   int64         `json:"amount_cents"`
	Date          time.Time     `json:"date"`
	Reference     string        `json:"reference"`
	Method        PaymentMethod `json:"method"`
	Notes         string        `json:"notes,omitempty"`
	RecordedBy    string        `json:"recorded_by"`
	RecordedAt    time.Time     `json:"recorded_at"`
	TransactionID string        `json:"transaction_id,omitempty"`
	SyncStatus    SyncStatus    `json:"sync_status"`
}

func (p *PaymentRecord) Validate() error {
	if p.AmountCents <= 0 {
		return &ValidationError{Field: "amount_cents", Reason: "payment amount must be greater than zero"}
	}
	if p.Reference == "" {
		return &ValidationError{Field: "reference", Reason: "payment reference is required"}
	}
	switch p.Method {
	case PaymentCheck, PaymentWire, PaymentACH, PaymentCreditCard, PaymentCash, PaymentOther:
	default:
		return &ValidationError{Field: "method", Reason: "unknown payment method"}
	}
	return nil
}
