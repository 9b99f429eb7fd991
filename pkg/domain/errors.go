package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed or out-of-range input before any state
// mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// StateTransitionError reports a guard violation. Local state is untouched
// and the error is surfaced verbatim, never silently ignored.
type StateTransitionError struct {
	Action Action
	State  ContractState
	Reason string
}

func (e *StateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s from state %s: %s", e.Action, e.State, e.Reason)
	}
	return fmt.Sprintf("cannot %s from state %s", e.Action, e.State)
}

// NotFoundError covers both record-store and ledger lookups.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// LedgerUnavailableError is transient: the workflow transition still commits
// locally but the entity is marked sync-pending for a later retry.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// IntegrityMismatchError is the tamper signal. It must propagate to an
// alerting path and is never retried away or swallowed.
type IntegrityMismatchError struct {
	EntityType string
	EntityID   string
	Fields     []FieldMatch
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s %s", e.EntityType, e.EntityID)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsStateTransition(err error) bool {
	var st *StateTransitionError
	return errors.As(err, &st)
}
