package webhooks

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"entity_type":"contract","entity_id":"ctr_1","transaction_id":"0xabc"}`)
	secret := "topsecret"

	h := http.Header{}
	h.Set(SignatureHeader, Sign(body, secret))
	h.Set(EventIDHeader, "evt_1")
	h.Set(EventTypeHeader, "ledger.commit")

	res, err := VerifyHMAC(h, body, secret)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, "ledger.commit", res.Type)
}

func TestVerifyHMACRejectsBadSignature(t *testing.T) {
	body := []byte(`{}`)
	h := http.Header{}
	h.Set(SignatureHeader, Sign(body, "other-secret"))

	res, err := VerifyHMAC(h, body, "topsecret")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerifyHMACMissingSignature(t *testing.T) {
	res, err := VerifyHMAC(http.Header{}, []byte(`{}`), "topsecret")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerifyHMACEmptySecret(t *testing.T) {
	_, err := VerifyHMAC(http.Header{}, nil, " ")
	require.Error(t, err)
}

func TestParseCommitEvent(t *testing.T) {
	ev, err := ParseCommitEvent([]byte(`{"entity_type":"contract","entity_id":"ctr_1","action":"VERIFY","transaction_id":"0xabc"}`))
	require.NoError(t, err)
	assert.Equal(t, "ctr_1", ev.EntityID)
	assert.Equal(t, "0xabc", ev.TransactionID)

	_, err = ParseCommitEvent([]byte(`{"entity_type":"contract"}`))
	require.Error(t, err)

	_, err = ParseCommitEvent([]byte(`not json`))
	require.Error(t, err)
}
