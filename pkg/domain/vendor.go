package domain

import (
	"regexp"
	"time"
)

type VendorType string

const (
	VendorSupplier        VendorType = "SUPPLIER"
	VendorServiceProvider VendorType = "SERVICE_PROVIDER"
	VendorContractor      VendorType = "CONTRACTOR"
	VendorConsultant      VendorType = "CONSULTANT"
)

type VendorStatus string

const (
	VendorActive      VendorStatus = "ACTIVE"
	VendorInactive    VendorStatus = "INACTIVE"
	VendorSuspended   VendorStatus = "SUSPENDED"
	VendorBlacklisted VendorStatus = "BLACKLISTED"
)

type Vendor struct {
	VendorID           string             `json:"vendor_id"`
	Name               string             `json:"name"`
	RegistrationNumber string             `json:"registration_number,omitempty"`
	ContactEmail       string             `json:"contact_email"`
	ContactPhone       string             `json:"contact_phone,omitempty"`
	Address            string             `json:"address,omitempty"`
	VendorType         VendorType         `json:"vendor_type"`
	Status             VendorStatus       `json:"status"`
	LedgerIdentity     string             `json:"ledger_identity,omitempty"`
	TransactionID      string             `json:"transaction_id,omitempty"`
	SyncStatus         SyncStatus         `json:"sync_status"`
	// PendingAction is the ledger operation an unacknowledged submission
	// carries, so a retry replays CREATE vs UPDATE correctly.
	PendingAction string `json:"-"`
	DataDigest         string             `json:"data_digest,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	LastVerifiedAt     *time.Time         `json:"last_verified_at,omitempty"`
	Active             bool               `json:"active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func (v *Vendor) Validate() error {
	if v.Name == "" {
		return &ValidationError{Field: "name", Reason: "vendor name is required"}
	}
	if !emailRe.MatchString(v.ContactEmail) {
		return &ValidationError{Field: "contact_email", Reason: "invalid email format"}
	}
	switch v.VendorType {
	case VendorSupplier, VendorServiceProvider, VendorContractor, VendorConsultant:
	default:
		return &ValidationError{Field: "vendor_type", Reason: "unknown vendor type"}
	}
	return nil
}

// LedgerSyncFields are the vendor attributes whose mutation requires a new
// ledger submission. Touching anything else is an administrative edit with
// no ledger side effect.
var LedgerSyncFields = []string{"name", "status", "vendor_type", "contact_email"}
