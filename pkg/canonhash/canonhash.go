// Package canonhash defines the canonical hash-relevant field list for each
// entity and its deterministic digest. The digest is a cheap change
// detector: the integrity verifier compares a subset of the same field list
// value by value, so "what counts as identity" is defined exactly once here.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/akhdaniel/vendorchain/pkg/domain"
)

// Digest serializes the field map with lexicographically sorted keys and
// returns the SHA-256 hex of the result.
func Digest(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ContractFields is the full hash-relevant field set of a contract.
func ContractFields(c *domain.Contract) map[string]any {
	return map[string]any{
		"contract_id":       c.ContractID,
		"vendor_id":         c.VendorID,
		"contract_type":     string(c.ContractType),
		"description":       c.Description,
		"total_value_cents": c.TotalValueCents,
		"expiry_date":       c.ExpiryDate.Format("2006-01-02"),
		"state":             string(c.State),
	}
}

// VendorFields is the full hash-relevant field set of a vendor.
func VendorFields(v *domain.Vendor) map[string]any {
	return map[string]any{
		"vendor_id":           v.VendorID,
		"name":                v.Name,
		"vendor_type":         string(v.VendorType),
		"status":              string(v.Status),
		"contact_email":       v.ContactEmail,
		"registration_number": v.RegistrationNumber,
		"ledger_identity":     v.LedgerIdentity,
	}
}

// ContractCompareKeys is the identity-and-value subset the integrity
// verifier compares field by field against the ledger document.
var ContractCompareKeys = []string{"contract_id", "vendor_id", "total_value_cents", "state"}

// VendorCompareKeys is the vendor counterpart of ContractCompareKeys.
var VendorCompareKeys = []string{"vendor_id", "name", "status", "contact_email"}

func ContractDigest(c *domain.Contract) (string, error) {
	return Digest(ContractFields(c))
}

func VendorDigest(v *domain.Vendor) (string, error) {
	return Digest(VendorFields(v))
}
