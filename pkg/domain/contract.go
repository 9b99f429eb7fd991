package domain

import (
	"time"
)

type ContractState string

const (
	StateCreated    ContractState = "CREATED"
	StateVerified   ContractState = "VERIFIED"
	StateSubmitted  ContractState = "SUBMITTED"
	StateExpired    ContractState = "EXPIRED"
	StateTerminated ContractState = "TERMINATED"
)

type Action string

const (
	ActionCreate    Action = "CREATE"
	ActionVerify    Action = "VERIFY"
	ActionSubmit    Action = "SUBMIT"
	ActionExpire    Action = "EXPIRE"
	ActionTerminate Action = "TERMINATE"
)

type ContractType string

const (
	ContractPurchase    ContractType = "PURCHASE"
	ContractService     ContractType = "SERVICE"
	ContractLease       ContractType = "LEASE"
	ContractMaintenance ContractType = "MAINTENANCE"
	ContractConsulting  ContractType = "CONSULTING"
)

// SyncStatus tracks the outcome of the ledger submission for an entity.
// A fallback or pending id is never silently upgraded to authoritative;
// only an accepted ledger response or a commit notification sets synced.
type SyncStatus string

const (
	SyncSynced   SyncStatus = "SYNCED"
	SyncPending  SyncStatus = "PENDING"
	SyncFallback SyncStatus = "FALLBACK"
)

type Contract struct {
	ContractID         string             `json:"contract_id"`
	VendorID           string             `json:"vendor_id"`
	ContractType       ContractType       `json:"contract_type"`
	Description        string             `json:"description"`
	State              ContractState      `json:"state"`
	TotalValueCents    int64              `json:"total_value_cents"`
	PaidAmountCents    int64              `json:"paid_amount_cents"`
	ExpiryDate         time.Time          `json:"expiry_date"`
	TransactionID      string             `json:"transaction_id,omitempty"`
	SyncStatus         SyncStatus         `json:"sync_status"`
	DataDigest         string             `json:"data_digest,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	LastVerifiedAt     *time.Time         `json:"last_verified_at,omitempty"`
	CreatedBy          string             `json:"created_by"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// RemainingCents is derived on every read; it is never persisted
// independently of total minus the live payment sum.
func (c *Contract) RemainingCents() int64 {
	return c.TotalValueCents - c.PaidAmountCents
}

func (c *Contract) Active() bool {
	switch c.State {
	case StateCreated, StateVerified, StateSubmitted:
		return true
	}
	return false
}

var transitions = map[Action]struct {
	from []ContractState
	to   ContractState
}{
	ActionVerify:    {from: []ContractState{StateCreated}, to: StateVerified},
	ActionSubmit:    {from: []ContractState{StateVerified}, to: StateSubmitted},
	ActionExpire:    {from: []ContractState{StateCreated, StateVerified, StateSubmitted}, to: StateExpired},
	ActionTerminate: {from: []ContractState{StateCreated, StateVerified, StateSubmitted}, to: StateTerminated},
}

// NextState validates action against the contract's current state and the
// expire guard, returning the resulting state. The state graph has no
// backward edges; EXPIRED and TERMINATED are both terminal.
func (c *Contract) NextState(action Action, now time.Time) (ContractState, error) {
	t, ok := transitions[action]
	if !ok {
		return "", &StateTransitionError{Action: action, State: c.State}
	}
	allowed := false
	for _, s := range t.from {
		if s == c.State {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", &StateTransitionError{Action: action, State: c.State}
	}
	if action == ActionExpire && now.Before(c.ExpiryDate) {
		return "", &StateTransitionError{
			Action: action,
			State:  c.State,
			Reason: "expiry date not reached",
		}
	}
	return t.to, nil
}

// ValidateNew checks the create guard: positive value, future expiry,
// vendor reference present. Rejected before any state mutation.
func (c *Contract) ValidateNew(now time.Time) error {
	if c.VendorID == "" {
		return &ValidationError{Field: "vendor_id", Reason: "vendor reference is required"}
	}
	if c.TotalValueCents <= 0 {
		return &ValidationError{Field: "total_value_cents", Reason: "total value must be greater than zero"}
	}
	if !c.ExpiryDate.After(now) {
		return &ValidationError{Field: "expiry_date", Reason: "expiry date must be in the future"}
	}
	return nil
}
