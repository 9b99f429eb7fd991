package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akhdaniel/vendorchain/pkg/domain"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError maps the error taxonomy onto HTTP statuses. Ledger
// unavailability is 202: the local commit stands and the entity proceeds in
// sync-pending mode.
func WriteDomainError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		se *domain.StateTransitionError
		nf *domain.NotFoundError
		lu *domain.LedgerUnavailableError
		im *domain.IntegrityMismatchError
	)
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error(), map[string]any{"field": ve.Field})
	case errors.As(err, &se):
		WriteError(w, http.StatusConflict, "STATE_TRANSITION_ERROR", se.Error(), map[string]any{
			"action": se.Action, "current_state": se.State,
		})
	case errors.As(err, &nf):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", nf.Error(), nil)
	case errors.As(err, &lu):
		WriteError(w, http.StatusAccepted, "LEDGER_UNAVAILABLE", lu.Error(), map[string]any{"sync_status": "PENDING"})
	case errors.As(err, &im):
		WriteError(w, http.StatusConflict, "INTEGRITY_MISMATCH", im.Error(), map[string]any{"fields": im.Fields})
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
