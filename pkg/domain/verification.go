package domain

import "time"

// VerificationStatus summarizes the last integrity check of an entity
// against the external ledger.
//
// NOT_ON_CHAIN means no ledger write was ever attempted for the entity;
// PENDING means a write was attempted but no matching document is readable
// yet. The two are never conflated.
type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationMismatch   VerificationStatus = "mismatch"
	VerificationNotOnChain VerificationStatus = "not_on_chain"
	VerificationPending    VerificationStatus = "pending"
)

type FieldMatch struct {
	Field  string `json:"field"`
	Local  any    `json:"local"`
	Ledger any    `json:"ledger"`
	Match  bool   `json:"match"`
}

// VerificationResult is transient; it is never persisted as its own entity,
// only summarized onto the entity's verification_status and
// last_verified_at.
type VerificationResult struct {
	Status    VerificationStatus `json:"status"`
	Fields    []FieldMatch       `json:"fields,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

func (r VerificationResult) Verified() bool { return r.Status == VerificationVerified }

// TamperAlert is the security signal raised when an entity's digest drifted
// outside a sanctioned transition and the ledger comparison came back as a
// mismatch. Alerts are detected and reported, never auto-corrected.
type TamperAlert struct {
	ID           int64              `json:"id"`
	EntityType   string             `json:"entity_type"`
	EntityID     string             `json:"entity_id"`
	StoredDigest string             `json:"stored_digest"`
	ActualDigest string             `json:"actual_digest"`
	Status       VerificationStatus `json:"status"`
	DetectedAt   time.Time          `json:"detected_at"`
}
