package httpx

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/akhdaniel/vendorchain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj, _ := body["error"].(map[string]any)
	require.NotNil(t, errObj)
	return errObj
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.ValidationError{Field: "amount_cents", Reason: "must be positive"}, 400, "VALIDATION_ERROR"},
		{&domain.StateTransitionError{Action: domain.ActionSubmit, State: domain.StateCreated}, 409, "STATE_TRANSITION_ERROR"},
		{&domain.NotFoundError{Kind: "contract", ID: "ctr_x"}, 404, "NOT_FOUND"},
		{&domain.LedgerUnavailableError{Op: "CREATE", Err: errors.New("timeout")}, 202, "LEDGER_UNAVAILABLE"},
		{&domain.IntegrityMismatchError{EntityType: "contract", EntityID: "ctr_x"}, 409, "INTEGRITY_MISMATCH"},
		{errors.New("boom"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.code)
		errObj := decodeError(t, rec)
		assert.Equal(t, tc.code, errObj["code"])
	}
}

func TestWriteDomainErrorUnwrapsWrapped(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := errors.Join(errors.New("context"), &domain.NotFoundError{Kind: "vendor", ID: "vnd_x"})
	WriteDomainError(rec, wrapped)
	assert.Equal(t, 404, rec.Code)
}
