package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

type EntityType string

const (
	EntityVendor   EntityType = "vendor"
	EntityContract EntityType = "contract"
	EntityPayment  EntityType = "payment"
)

// VendorDoc, ContractDoc and PaymentDoc are the fixed per-entity payload
// schemas crossing the gateway boundary. No open-ended maps are submitted.
type VendorDoc struct {
	VendorID           string `json:"vendor_id"`
	Name               string `json:"name"`
	VendorType         string `json:"vendor_type"`
	Status             string `json:"status"`
	ContactEmail       string `json:"contact_email"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	LedgerIdentity     string `json:"ledger_identity,omitempty"`
}

type ContractDoc struct {
	ContractID      string `json:"contract_id"`
	VendorID        string `json:"vendor_id"`
	ContractType    string `json:"contract_type"`
	Description     string `json:"description,omitempty"`
	State           string `json:"state"`
	TotalValueCents int64  `json:"total_value_cents"`
	ExpiryDate      string `json:"expiry_date"`
}

type PaymentDoc struct {
	PaymentID   string `json:"payment_id"`
	ContractID  string `json:"contract_id"`
	AmountCents int64  `json:"amount_cents"`
	Date        string `json:"date"`
	Reference   string `json:"reference"`
	Method      string `json:"method"`
}

// Event is one state-changing occurrence to record on the ledger. Exactly
// one of Vendor, Contract, Payment is set, matching Type.
type Event struct {
	Type        EntityType   `json:"type"`
	EntityID    string       `json:"entity_id"`
	Action      string       `json:"action"`
	SubmittedAt time.Time    `json:"submitted_at"`
	Vendor      *VendorDoc   `json:"vendor,omitempty"`
	Contract    *ContractDoc `json:"contract,omitempty"`
	Payment     *PaymentDoc  `json:"payment,omitempty"`
}

func (e Event) payload() any {
	switch {
	case e.Vendor != nil:
		return e.Vendor
	case e.Contract != nil:
		return e.Contract
	case e.Payment != nil:
		return e.Payment
	}
	return nil
}

// DedupKey is the deterministic idempotency key for this event: resubmitting
// the same (entity_id, action, payload digest) must not create a duplicate
// ledger document.
func (e Event) DedupKey() string {
	raw, _ := json.Marshal(e.payload())
	payloadSum := sha256.Sum256(raw)
	sum := sha256.Sum256([]byte(e.EntityID + "\x00" + e.Action + "\x00" + hex.EncodeToString(payloadSum[:])))
	return hex.EncodeToString(sum[:])
}

// FallbackTxID derives a stable local transaction id for degraded mode. It
// is formatted like an on-ledger id but is only ever recorded with status
// fallback, never presented as authoritative.
func FallbackTxID(entityID, action string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%d", entityID, action, at.UnixNano())))
	return "0x" + hex.EncodeToString(sum[:])
}
