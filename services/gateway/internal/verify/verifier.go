// Package verify checks local entities against the documents the ledger
// actually holds. The stored digest only detects local drift; the verdict
// here always comes from comparing fields against the ledger copy.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/canonhash"
	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/ledger"
)

type DocumentFinder interface {
	FindDocument(ctx context.Context, entityType ledger.EntityType, entityID, txID string) (*ledger.Document, error)
}

type Store interface {
	GetContract(ctx context.Context, id string) (domain.Contract, error)
	GetVendor(ctx context.Context, id string) (domain.Vendor, error)
	SetContractVerification(ctx context.Context, contractID string, status domain.VerificationStatus, at time.Time) error
	SetVendorVerification(ctx context.Context, vendorID string, status domain.VerificationStatus, at time.Time) error
}

type Verifier struct {
	store  Store
	finder DocumentFinder
	log    *slog.Logger
	now    func() time.Time
}

func New(st Store, finder DocumentFinder, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{store: st, finder: finder, log: log, now: time.Now}
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyContract runs the integrity check for one contract and persists the
// outcome onto the entity. A fallback transaction id is not evidence of a
// ledger write, so it is ignored here.
func (v *Verifier) VerifyContract(ctx context.Context, contractID string) (domain.VerificationResult, error) {
	c, err := v.store.GetContract(ctx, contractID)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	res, err := v.check(ctx, ledger.EntityContract, c.ContractID, authoritativeTxID(c.TransactionID, c.SyncStatus), canonhash.ContractFields(&c), canonhash.ContractCompareKeys)
	if err != nil {
		// The attempt is still stamped; the previous verdict stands.
		if perr := v.store.SetContractVerification(ctx, contractID, c.VerificationStatus, v.now().UTC()); perr != nil {
			v.log.Error("record verification attempt", "contract_id", contractID, "err", perr)
		}
		return domain.VerificationResult{}, err
	}
	if perr := v.store.SetContractVerification(ctx, contractID, res.Status, res.CheckedAt); perr != nil {
		return res, perr
	}
	return res, nil
}

// VerifyVendor is the vendor counterpart of VerifyContract.
func (v *Verifier) VerifyVendor(ctx context.Context, vendorID string) (domain.VerificationResult, error) {
	vn, err := v.store.GetVendor(ctx, vendorID)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	res, err := v.check(ctx, ledger.EntityVendor, vn.VendorID, authoritativeTxID(vn.TransactionID, vn.SyncStatus), canonhash.VendorFields(&vn), canonhash.VendorCompareKeys)
	if err != nil {
		if perr := v.store.SetVendorVerification(ctx, vendorID, vn.VerificationStatus, v.now().UTC()); perr != nil {
			v.log.Error("record verification attempt", "vendor_id", vendorID, "err", perr)
		}
		return domain.VerificationResult{}, err
	}
	if perr := v.store.SetVendorVerification(ctx, vendorID, res.Status, res.CheckedAt); perr != nil {
		return res, perr
	}
	return res, nil
}

func authoritativeTxID(txID string, status domain.SyncStatus) string {
	if status == domain.SyncFallback {
		return ""
	}
	return txID
}

func (v *Verifier) check(ctx context.Context, entityType ledger.EntityType, entityID, txID string, local map[string]any, compareKeys []string) (domain.VerificationResult, error) {
	checkedAt := v.now().UTC()
	if txID == "" {
		return domain.VerificationResult{Status: domain.VerificationNotOnChain, CheckedAt: checkedAt}, nil
	}

	doc, err := v.finder.FindDocument(ctx, entityType, entityID, txID)
	if errors.Is(err, ledger.ErrNoDocument) {
		// The write was acknowledged but the document is not readable yet.
		return domain.VerificationResult{Status: domain.VerificationPending, CheckedAt: checkedAt}, nil
	}
	if err != nil {
		return domain.VerificationResult{}, err
	}

	var fields []domain.FieldMatch
	allMatch := true
	for _, key := range compareKeys {
		lv := local[key]
		rv, ok := doc.Fields[key]
		match := ok && sameValue(lv, rv)
		if !match {
			allMatch = false
		}
		fields = append(fields, domain.FieldMatch{Field: key, Local: lv, Ledger: rv, Match: match})
	}

	status := domain.VerificationVerified
	if !allMatch {
		status = domain.VerificationMismatch
		v.log.Warn("ledger field mismatch", "entity_type", entityType, "entity_id", entityID)
	}
	return domain.VerificationResult{Status: status, Fields: fields, CheckedAt: checkedAt}, nil
}

// sameValue compares a local field against the JSON-decoded ledger value.
// Numbers decode as float64, so numeric types compare by value.
func sameValue(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
