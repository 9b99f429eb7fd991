package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/httpx"
	"github.com/akhdaniel/vendorchain/pkg/webhooks"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/payments"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/store"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/workflow"

	"github.com/go-chi/chi/v5"
)

type engineAPI interface {
	RegisterVendor(ctx context.Context, in workflow.NewVendor) (domain.Vendor, error)
	UpdateVendor(ctx context.Context, vendorID string, in workflow.VendorUpdate) (domain.Vendor, error)
	CreateContract(ctx context.Context, in workflow.NewContract, createdBy string) (domain.Contract, error)
	Transition(ctx context.Context, contractID string, action domain.Action, performedBy, notes string) (domain.Contract, error)
	ApplyLedgerCommit(ctx context.Context, entityType, entityID, action, txID string) error
}

type paymentsAPI interface {
	Record(ctx context.Context, contractID string, in payments.NewPayment, recordedBy string) (domain.PaymentRecord, domain.Contract, error)
	Delete(ctx context.Context, contractID, paymentID string) error
	List(ctx context.Context, contractID string) ([]domain.PaymentRecord, error)
}

type verifierAPI interface {
	VerifyContract(ctx context.Context, contractID string) (domain.VerificationResult, error)
	VerifyVendor(ctx context.Context, vendorID string) (domain.VerificationResult, error)
}

type directory interface {
	GetVendor(ctx context.Context, id string) (domain.Vendor, error)
	ListVendors(ctx context.Context, status domain.VendorStatus) ([]domain.Vendor, error)
	GetContract(ctx context.Context, id string) (domain.Contract, error)
	ListContracts(ctx context.Context, f store.ContractFilter) ([]domain.Contract, error)
	DeleteContract(ctx context.Context, id string) error
	ListWorkflowLog(ctx context.Context, contractID string) ([]domain.WorkflowLogEntry, error)
	ListTamperAlerts(ctx context.Context, status string) ([]domain.TamperAlert, error)
}

type ledgerHealth interface {
	Healthy(ctx context.Context) bool
}

type server struct {
	store         directory
	engine        engineAPI
	payments      paymentsAPI
	verifier      verifierAPI
	ledger        ledgerHealth
	auth          *authenticator
	webhookSecret string
	log           *slog.Logger
}

var workflowActions = map[string]domain.Action{
	"verify":    domain.ActionVerify,
	"submit":    domain.ActionSubmit,
	"expire":    domain.ActionExpire,
	"terminate": domain.ActionTerminate,
}

func (s *server) router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/health/ledger", func(w http.ResponseWriter, r *http.Request) {
		if s.ledger.Healthy(r.Context()) {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"ledger": "up"})
			return
		}
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ledger": "down"})
	})
	r.Post("/webhooks/ledger", s.handleLedgerWebhook)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/login", s.auth.login)

		api.Group(func(authed chi.Router) {
			authed.Use(s.auth.middleware)

			authed.Post("/vendors", s.handleRegisterVendor)
			authed.Get("/vendors", s.handleListVendors)
			authed.Get("/vendors/{vendor_id}", s.handleGetVendor)
			authed.Put("/vendors/{vendor_id}", s.handleUpdateVendor)
			authed.Post("/vendors/{vendor_id}/deactivate", s.handleDeactivateVendor)
			authed.Post("/vendors/{vendor_id}/verify", s.handleVerifyVendor)

			authed.Post("/contracts", s.handleCreateContract)
			authed.Get("/contracts", s.handleListContracts)
			authed.Get("/contracts/{contract_id}", s.handleGetContract)
			authed.Delete("/contracts/{contract_id}", s.handleDeleteContract)
			authed.Get("/contracts/{contract_id}/workflow-logs", s.handleWorkflowLogs)
			authed.Post("/workflow/contracts/{contract_id}/{action}", s.handleTransition)

			authed.Post("/contracts/{contract_id}/payments", s.handleRecordPayment)
			authed.Get("/contracts/{contract_id}/payments", s.handleListPayments)
			authed.Delete("/contracts/{contract_id}/payments/{payment_id}", s.handleDeletePayment)

			authed.Post("/contracts/{contract_id}/verify-integrity", s.handleVerifyContract)
			authed.Get("/tamper-alerts", s.handleListTamperAlerts)
		})
	})
	return r
}

func (s *server) handleRegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req workflow.NewVendor
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	v, err := s.engine.RegisterVendor(r.Context(), req)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": httpx.NewRequestID(), "vendor": v})
}

func (s *server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := s.store.ListVendors(r.Context(), domain.VendorStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "vendors": vendors})
}

func (s *server) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.GetVendor(r.Context(), chi.URLParam(r, "vendor_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "vendor": v})
}

func (s *server) handleUpdateVendor(w http.ResponseWriter, r *http.Request) {
	var req workflow.VendorUpdate
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	v, err := s.engine.UpdateVendor(r.Context(), chi.URLParam(r, "vendor_id"), req)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "vendor": v})
}

func (s *server) handleDeactivateVendor(w http.ResponseWriter, r *http.Request) {
	inactive := domain.VendorInactive
	off := false
	v, err := s.engine.UpdateVendor(r.Context(), chi.URLParam(r, "vendor_id"), workflow.VendorUpdate{
		Status: &inactive,
		Active: &off,
	})
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "vendor": v})
}

func (s *server) handleVerifyVendor(w http.ResponseWriter, r *http.Request) {
	res, err := s.verifier.VerifyVendor(r.Context(), chi.URLParam(r, "vendor_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "verification": res})
}

func (s *server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req workflow.NewContract
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	c, err := s.engine.CreateContract(r.Context(), req, userFrom(r.Context()))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": httpx.NewRequestID(), "contract": contractView(c)})
}

func (s *server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	f := store.ContractFilter{
		State:    domain.ContractState(r.URL.Query().Get("state")),
		VendorID: r.URL.Query().Get("vendor_id"),
	}
	contracts, err := s.store.ListContracts(r.Context(), f)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(contracts))
	for _, c := range contracts {
		views = append(views, contractView(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "contracts": views})
}

func (s *server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "contract": contractView(c)})
}

func (s *server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteContract(r.Context(), chi.URLParam(r, "contract_id")); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleWorkflowLogs(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contract_id")
	if _, err := s.store.GetContract(r.Context(), contractID); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	logs, err := s.store.ListWorkflowLog(r.Context(), contractID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "workflow_logs": logs})
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	action, ok := workflowActions[chi.URLParam(r, "action")]
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown workflow action", nil)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength > 0 {
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
			return
		}
	}
	c, err := s.engine.Transition(r.Context(), chi.URLParam(r, "contract_id"), action, userFrom(r.Context()), req.Notes)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "contract": contractView(c)})
}

func (s *server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.NewPayment
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	p, c, err := s.payments.Record(r.Context(), chi.URLParam(r, "contract_id"), req, userFrom(r.Context()))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id":      httpx.NewRequestID(),
		"payment":         p,
		"paid_cents":      c.PaidAmountCents,
		"remaining_cents": c.RemainingCents(),
	})
}

func (s *server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contract_id")
	if _, err := s.store.GetContract(r.Context(), contractID); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	list, err := s.payments.List(r.Context(), contractID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "payments": list})
}

func (s *server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	err := s.payments.Delete(r.Context(), chi.URLParam(r, "contract_id"), chi.URLParam(r, "payment_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleVerifyContract(w http.ResponseWriter, r *http.Request) {
	res, err := s.verifier.VerifyContract(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "verification": res})
}

func (s *server) handleListTamperAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListTamperAlerts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID(), "tamper_alerts": alerts})
}

// handleLedgerWebhook accepts commit notifications from the ledger gateway.
// The path is unauthenticated; the HMAC signature is the credential.
func (s *server) handleLedgerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error(), nil)
		return
	}
	res, err := webhooks.VerifyHMAC(r.Header, body, s.webhookSecret)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "WEBHOOK_MISCONFIGURED", err.Error(), nil)
		return
	}
	if !res.Valid {
		httpx.WriteError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature verification failed", nil)
		return
	}
	ev, err := webhooks.ParseCommitEvent(body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_EVENT", err.Error(), nil)
		return
	}
	if err := s.engine.ApplyLedgerCommit(r.Context(), ev.EntityType, ev.EntityID, ev.Action, ev.TransactionID); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	s.log.Info("ledger commit applied",
		"event_id", res.EventID, "entity_type", ev.EntityType, "entity_id", ev.EntityID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func contractView(c domain.Contract) map[string]any {
	view := map[string]any{
		"contract_id":         c.ContractID,
		"vendor_id":           c.VendorID,
		"contract_type":       c.ContractType,
		"description":         c.Description,
		"state":               c.State,
		"total_value_cents":   c.TotalValueCents,
		"paid_cents":          c.PaidAmountCents,
		"remaining_cents":     c.RemainingCents(),
		"expiry_date":         c.ExpiryDate.Format("2006-01-02"),
		"transaction_id":      c.TransactionID,
		"sync_status":         c.SyncStatus,
		"verification_status": c.VerificationStatus,
		"created_by":          c.CreatedBy,
		"created_at":          c.CreatedAt.Format(time.RFC3339),
		"updated_at":          c.UpdatedAt.Format(time.RFC3339),
	}
	if c.LastVerifiedAt != nil {
		view["last_verified_at"] = c.LastVerifiedAt.Format(time.RFC3339)
	}
	return view
}
