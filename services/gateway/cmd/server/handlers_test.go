package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/config"
	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/webhooks"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/payments"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/store"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	contract domain.Contract
	vendor   domain.Vendor
	err      error

	transitions []domain.Action
	commits     []string
}

func (f *fakeEngine) RegisterVendor(_ context.Context, _ workflow.NewVendor) (domain.Vendor, error) {
	return f.vendor, f.err
}

func (f *fakeEngine) UpdateVendor(_ context.Context, _ string, _ workflow.VendorUpdate) (domain.Vendor, error) {
	return f.vendor, f.err
}

func (f *fakeEngine) CreateContract(_ context.Context, _ workflow.NewContract, _ string) (domain.Contract, error) {
	return f.contract, f.err
}

func (f *fakeEngine) Transition(_ context.Context, _ string, action domain.Action, _, _ string) (domain.Contract, error) {
	f.transitions = append(f.transitions, action)
	return f.contract, f.err
}

func (f *fakeEngine) ApplyLedgerCommit(_ context.Context, entityType, entityID, action, txID string) error {
	f.commits = append(f.commits, entityType+"/"+entityID+"/"+action+"/"+txID)
	return f.err
}

type fakePayments struct{}

func (fakePayments) Record(_ context.Context, contractID string, in payments.NewPayment, _ string) (domain.PaymentRecord, domain.Contract, error) {
	return domain.PaymentRecord{PaymentID: "pay_1", ContractID: contractID, AmountCents: in.AmountCents},
		domain.Contract{ContractID: contractID, TotalValueCents: 100, PaidAmountCents: in.AmountCents}, nil
}

func (fakePayments) Delete(_ context.Context, _, _ string) error { return nil }

func (fakePayments) List(_ context.Context, _ string) ([]domain.PaymentRecord, error) {
	return nil, nil
}

type fakeVerifier struct{ result domain.VerificationResult }

func (f fakeVerifier) VerifyContract(_ context.Context, _ string) (domain.VerificationResult, error) {
	return f.result, nil
}

func (f fakeVerifier) VerifyVendor(_ context.Context, _ string) (domain.VerificationResult, error) {
	return f.result, nil
}

type fakeDirectory struct{ contract domain.Contract }

func (f fakeDirectory) GetVendor(_ context.Context, id string) (domain.Vendor, error) {
	return domain.Vendor{VendorID: id}, nil
}

func (f fakeDirectory) ListVendors(_ context.Context, _ domain.VendorStatus) ([]domain.Vendor, error) {
	return nil, nil
}

func (f fakeDirectory) GetContract(_ context.Context, _ string) (domain.Contract, error) {
	return f.contract, nil
}

func (f fakeDirectory) ListContracts(_ context.Context, _ store.ContractFilter) ([]domain.Contract, error) {
	return []domain.Contract{f.contract}, nil
}

func (f fakeDirectory) DeleteContract(_ context.Context, _ string) error { return nil }

func (f fakeDirectory) ListWorkflowLog(_ context.Context, _ string) ([]domain.WorkflowLogEntry, error) {
	return nil, nil
}

func (f fakeDirectory) ListTamperAlerts(_ context.Context, _ string) ([]domain.TamperAlert, error) {
	return nil, nil
}

type fakeHealth struct{ up bool }

func (f fakeHealth) Healthy(_ context.Context) bool { return f.up }

func newTestServer(engine *fakeEngine) *server {
	return &server{
		store:         fakeDirectory{contract: engine.contract},
		engine:        engine,
		payments:      fakePayments{},
		verifier:      fakeVerifier{result: domain.VerificationResult{Status: domain.VerificationVerified}},
		ledger:        fakeHealth{up: true},
		auth:          newAuthenticator(config.AuthConfig{JWTSecret: "s", TokenExpireHours: 1}, []config.User{{Username: "u", Password: "p"}}),
		webhookSecret: "hook-secret",
		log:           slog.Default(),
	}
}

func authedRequest(t *testing.T, s *server, method, path string, body []byte) *http.Request {
	t.Helper()
	token, err := s.auth.issueToken("u", "operator")
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	r := s.router()

	for _, path := range []string{"/api/v1/vendors", "/api/v1/contracts", "/api/v1/tamper-alerts"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ledger", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthLedgerDown(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	s.ledger = fakeHealth{up: false}
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ledger", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateContractRoute(t *testing.T) {
	engine := &fakeEngine{contract: domain.Contract{
		ContractID:      "ctr_1",
		VendorID:        "vnd_1",
		State:           domain.StateCreated,
		TotalValueCents: 100,
		ExpiryDate:      time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	s := newTestServer(engine)
	r := s.router()

	body := []byte(`{"vendor_id":"vnd_1","contract_type":"SERVICE","total_value_cents":100,"expiry_date":"2027-01-01T00:00:00Z"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/contracts", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	contract := resp["contract"].(map[string]any)
	assert.Equal(t, "ctr_1", contract["contract_id"])
	assert.Equal(t, float64(100), contract["remaining_cents"])
}

func TestTransitionRouteMapsActions(t *testing.T) {
	engine := &fakeEngine{contract: domain.Contract{ContractID: "ctr_1", State: domain.StateVerified}}
	s := newTestServer(engine)
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/workflow/contracts/ctr_1/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.Action{domain.ActionVerify}, engine.transitions)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/workflow/contracts/ctr_1/frobnicate", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionRouteStateConflict(t *testing.T) {
	engine := &fakeEngine{err: &domain.StateTransitionError{Action: domain.ActionSubmit, State: domain.StateCreated}}
	s := newTestServer(engine)
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/workflow/contracts/ctr_1/submit", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordPaymentRoute(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	r := s.router()

	body := []byte(`{"amount_cents":40,"reference":"INV-1","method":"WIRE"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/contracts/ctr_1/payments", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(40), resp["paid_cents"])
	assert.Equal(t, float64(60), resp["remaining_cents"])
}

func TestLedgerWebhook(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(engine)
	r := s.router()

	body := []byte(`{"entity_type":"contract","entity_id":"ctr_1","action":"VERIFY","transaction_id":"tx-9"}`)

	// Unsigned request is rejected.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/ledger", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.commits)

	// Properly signed request is applied.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ledger", bytes.NewReader(body))
	req.Header.Set(webhooks.SignatureHeader, webhooks.Sign(body, "hook-secret"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.commits, 1)
	assert.Equal(t, "contract/ctr_1/VERIFY/tx-9", engine.commits[0])
}

func TestVerifyIntegrityRoute(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, s, http.MethodPost, "/api/v1/contracts/ctr_1/verify-integrity", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	verification := resp["verification"].(map[string]any)
	assert.Equal(t, "verified", verification["status"])
}
