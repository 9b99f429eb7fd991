package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	return Event{
		Type:        EntityContract,
		EntityID:    "ctr_1",
		Action:      "CREATE",
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Contract: &ContractDoc{
			ContractID:      "ctr_1",
			VendorID:        "vnd_1",
			ContractType:    "PURCHASE",
			State:           "CREATED",
			TotalValueCents: 5_000_000,
			ExpiryDate:      "2027-03-01",
		},
	}
}

func newTestClient(submitURL, queryURL string) *Client {
	return New(Config{
		SubmitBaseURL: submitURL,
		QueryBaseURL:  queryURL,
		Timeout:       2 * time.Second,
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}, slog.Default())
}

func TestSubmitAccepted(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/contracts", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "transaction_id": "0xabc123"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	res, err := c.Submit(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, "0xabc123", res.TransactionID)
	assert.Equal(t, testEvent().DedupKey(), gotKey)
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "transaction_id": "0xretry"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	res, err := c.Submit(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSubmitUnavailableAfterBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	res, err := c.Submit(context.Background(), testEvent())
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Empty(t, res.TransactionID)

	var lu *domain.LedgerUnavailableError
	require.True(t, errors.As(err, &lu))
	assert.EqualValues(t, 3, calls.Load())
}

func TestSubmitFallbackInDegradedMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := Config{
		SubmitBaseURL: srv.URL,
		MaxAttempts:   2,
		BaseDelay:     time.Millisecond,
		DegradedMode:  true,
	}
	c := New(cfg, slog.Default())
	ev := testEvent()
	res, err := c.Submit(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusFallback, res.Status)
	assert.Equal(t, FallbackTxID(ev.EntityID, ev.Action, ev.SubmittedAt), res.TransactionID)
	// Fallback ids are never reported as accepted.
	assert.NotEqual(t, StatusAccepted, res.Status)
}

func TestDedupKeyDeterministic(t *testing.T) {
	a := testEvent()
	b := testEvent()
	assert.Equal(t, a.DedupKey(), b.DedupKey())

	b.Contract.TotalValueCents++
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())

	c := testEvent()
	c.Action = "VERIFY"
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestFallbackTxIDStable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, FallbackTxID("ctr_1", "CREATE", at), FallbackTxID("ctr_1", "CREATE", at))
	assert.NotEqual(t, FallbackTxID("ctr_1", "CREATE", at), FallbackTxID("ctr_1", "CREATE", at.Add(time.Nanosecond)))
	assert.Len(t, FallbackTxID("ctr_1", "CREATE", at), 66)
}

func TestSubmitRouteMapping(t *testing.T) {
	method, path := submitRoute(Event{Type: EntityVendor, EntityID: "vnd_1", Action: "CREATE"})
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/vendors", path)

	method, path = submitRoute(Event{Type: EntityVendor, EntityID: "vnd_1", Action: "UPDATE"})
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/vendors/vnd_1", path)

	method, path = submitRoute(Event{Type: EntityContract, EntityID: "ctr_1", Action: "VERIFY"})
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/workflow/contracts/ctr_1/verify", path)

	method, path = submitRoute(Event{
		Type: EntityPayment, EntityID: "pay_1", Action: "RECORD",
		Payment: &PaymentDoc{PaymentID: "pay_1", ContractID: "ctr_1"},
	})
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/contracts/ctr_1/payments", path)
}
