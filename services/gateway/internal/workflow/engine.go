// Package workflow drives the contract lifecycle. Every mutation commits
// locally first; the ledger submission is dispatched afterwards and its
// outcome is folded back into the sync status, so a slow or dead ledger
// never blocks a transition.
package workflow

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/canonhash"
	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/ledger"

	"github.com/google/uuid"
)

// Store is the persistence surface the engine needs.
type Store interface {
	CreateVendor(ctx context.Context, v domain.Vendor) error
	GetVendor(ctx context.Context, id string) (domain.Vendor, error)
	UpdateVendor(ctx context.Context, v domain.Vendor) error
	SetVendorSync(ctx context.Context, vendorID, txID string, status domain.SyncStatus) error

	CreateContract(ctx context.Context, c domain.Contract, entry domain.WorkflowLogEntry) error
	GetContract(ctx context.Context, id string) (domain.Contract, error)
	TransitionContract(ctx context.Context, contractID string, from, to domain.ContractState, digest string, entry domain.WorkflowLogEntry) error
	SetContractSync(ctx context.Context, contractID, txID string, status domain.SyncStatus) error
	BackfillWorkflowLogTx(ctx context.Context, contractID string, action domain.Action, txID string) error

	ListSyncPendingContracts(ctx context.Context, limit int) ([]domain.Contract, error)
	ListSyncPendingVendors(ctx context.Context, limit int) ([]domain.Vendor, error)
}

// Submitter records events on the external ledger.
type Submitter interface {
	Submit(ctx context.Context, ev ledger.Event) (ledger.SubmitResult, error)
}

type Engine struct {
	store  Store
	ledger Submitter
	log    *slog.Logger
	now    func() time.Time

	// submitTimeout bounds each background ledger dispatch.
	submitTimeout time.Duration

	// locks are striped by entity id hash so the set stays fixed-size;
	// unrelated ids may share a stripe.
	locks [64]sync.Mutex

	wg       sync.WaitGroup
	dispatch func(fn func())
}

func NewEngine(st Store, lc Submitter, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:         st,
		ledger:        lc,
		log:           log,
		now:           time.Now,
		submitTimeout: 30 * time.Second,
	}
	e.dispatch = func(fn func()) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			fn()
		}()
	}
	return e
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithSyncDispatch makes ledger dispatches run inline, for tests.
func (e *Engine) WithSyncDispatch() *Engine {
	e.dispatch = func(fn func()) { fn() }
	return e
}

// Wait blocks until in-flight ledger dispatches finish, for shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) lockEntity(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	l := &e.locks[h.Sum32()%uint32(len(e.locks))]
	l.Lock()
	return l.Unlock
}

func newID(prefix string) string { return prefix + "_" + uuid.NewString() }

type NewVendor struct {
	Name               string            `json:"name"`
	RegistrationNumber string            `json:"registration_number"`
	ContactEmail       string            `json:"contact_email"`
	ContactPhone       string            `json:"contact_phone"`
	Address            string            `json:"address"`
	VendorType         domain.VendorType `json:"vendor_type"`
	LedgerIdentity     string            `json:"ledger_identity"`
}

func (e *Engine) RegisterVendor(ctx context.Context, in NewVendor) (domain.Vendor, error) {
	now := e.now().UTC()
	v := domain.Vendor{
		VendorID:           newID("vnd"),
		Name:               in.Name,
		RegistrationNumber: in.RegistrationNumber,
		ContactEmail:       in.ContactEmail,
		ContactPhone:       in.ContactPhone,
		Address:            in.Address,
		VendorType:         in.VendorType,
		Status:             domain.VendorActive,
		LedgerIdentity:     in.LedgerIdentity,
		SyncStatus:         domain.SyncPending,
		PendingAction:      string(domain.ActionCreate),
		VerificationStatus: domain.VerificationPending,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := v.Validate(); err != nil {
		return domain.Vendor{}, err
	}
	digest, err := canonhash.VendorDigest(&v)
	if err != nil {
		return domain.Vendor{}, err
	}
	v.DataDigest = digest

	if err := e.store.CreateVendor(ctx, v); err != nil {
		return domain.Vendor{}, err
	}
	e.submitVendor(v, string(domain.ActionCreate))
	return v, nil
}

type VendorUpdate struct {
	Name               *string              `json:"name,omitempty"`
	RegistrationNumber *string              `json:"registration_number,omitempty"`
	ContactEmail       *string              `json:"contact_email,omitempty"`
	ContactPhone       *string              `json:"contact_phone,omitempty"`
	Address            *string              `json:"address,omitempty"`
	VendorType         *domain.VendorType   `json:"vendor_type,omitempty"`
	Status             *domain.VendorStatus `json:"status,omitempty"`
	Active             *bool                `json:"active,omitempty"`
}

// UpdateVendor applies the patch. Only changes to the ledger-synced fields
// trigger a new ledger submission; everything else is a local edit.
func (e *Engine) UpdateVendor(ctx context.Context, vendorID string, in VendorUpdate) (domain.Vendor, error) {
	unlock := e.lockEntity(vendorID)
	defer unlock()

	v, err := e.store.GetVendor(ctx, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	before := vendorSyncKey(v)

	if in.Name != nil {
		v.Name = *in.Name
	}
	if in.RegistrationNumber != nil {
		v.RegistrationNumber = *in.RegistrationNumber
	}
	if in.ContactEmail != nil {
		v.ContactEmail = *in.ContactEmail
	}
	if in.ContactPhone != nil {
		v.ContactPhone = *in.ContactPhone
	}
	if in.Address != nil {
		v.Address = *in.Address
	}
	if in.VendorType != nil {
		v.VendorType = *in.VendorType
	}
	if in.Status != nil {
		v.Status = *in.Status
	}
	if in.Active != nil {
		v.Active = *in.Active
	}
	if err := v.Validate(); err != nil {
		return domain.Vendor{}, err
	}

	syncNeeded := vendorSyncKey(v) != before
	digest, err := canonhash.VendorDigest(&v)
	if err != nil {
		return domain.Vendor{}, err
	}
	v.DataDigest = digest
	v.UpdatedAt = e.now().UTC()
	if syncNeeded {
		v.SyncStatus = domain.SyncPending
		v.PendingAction = "UPDATE"
	}

	if err := e.store.UpdateVendor(ctx, v); err != nil {
		return domain.Vendor{}, err
	}
	if syncNeeded {
		e.submitVendor(v, "UPDATE")
	}
	return v, nil
}

func vendorSyncKey(v domain.Vendor) string {
	return v.Name + "\x00" + string(v.Status) + "\x00" + string(v.VendorType) + "\x00" + v.ContactEmail
}

type NewContract struct {
	VendorID        string              `json:"vendor_id"`
	ContractType    domain.ContractType `json:"contract_type"`
	Description     string              `json:"description"`
	TotalValueCents int64               `json:"total_value_cents"`
	ExpiryDate      time.Time           `json:"expiry_date"`
}

func (e *Engine) CreateContract(ctx context.Context, in NewContract, createdBy string) (domain.Contract, error) {
	now := e.now().UTC()
	c := domain.Contract{
		ContractID:         newID("ctr"),
		VendorID:           in.VendorID,
		ContractType:       in.ContractType,
		Description:        in.Description,
		State:              domain.StateCreated,
		TotalValueCents:    in.TotalValueCents,
		ExpiryDate:         in.ExpiryDate,
		SyncStatus:         domain.SyncPending,
		VerificationStatus: domain.VerificationPending,
		CreatedBy:          createdBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.ValidateNew(now); err != nil {
		return domain.Contract{}, err
	}
	if _, err := e.store.GetVendor(ctx, c.VendorID); err != nil {
		return domain.Contract{}, err
	}
	digest, err := canonhash.ContractDigest(&c)
	if err != nil {
		return domain.Contract{}, err
	}
	c.DataDigest = digest

	entry := domain.WorkflowLogEntry{
		ContractID:  c.ContractID,
		Action:      domain.ActionCreate,
		ToState:     domain.StateCreated,
		PerformedBy: createdBy,
		PerformedAt: now,
	}
	if err := e.store.CreateContract(ctx, c, entry); err != nil {
		return domain.Contract{}, err
	}
	e.submitContract(c, domain.ActionCreate)
	return c, nil
}

// Transition applies a workflow action. The state change, the refreshed
// digest and the log entry land in one local transaction before any ledger
// traffic happens.
func (e *Engine) Transition(ctx context.Context, contractID string, action domain.Action, performedBy, notes string) (domain.Contract, error) {
	unlock := e.lockEntity(contractID)
	defer unlock()

	c, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	now := e.now().UTC()
	next, err := c.NextState(action, now)
	if err != nil {
		return domain.Contract{}, err
	}

	from := c.State
	c.State = next
	c.UpdatedAt = now
	c.SyncStatus = domain.SyncPending
	digest, err := canonhash.ContractDigest(&c)
	if err != nil {
		return domain.Contract{}, err
	}
	c.DataDigest = digest

	entry := domain.WorkflowLogEntry{
		ContractID:  contractID,
		Action:      action,
		FromState:   from,
		ToState:     next,
		PerformedBy: performedBy,
		PerformedAt: now,
		Notes:       notes,
	}
	if err := e.store.TransitionContract(ctx, contractID, from, next, digest, entry); err != nil {
		return domain.Contract{}, err
	}
	e.submitContract(c, action)
	return c, nil
}

// ApplyLedgerCommit handles an asynchronous commit notification and
// backfills the authoritative transaction id.
func (e *Engine) ApplyLedgerCommit(ctx context.Context, entityType, entityID, action, txID string) error {
	switch entityType {
	case string(ledger.EntityVendor):
		return e.store.SetVendorSync(ctx, entityID, txID, domain.SyncSynced)
	case string(ledger.EntityContract):
		if err := e.store.SetContractSync(ctx, entityID, txID, domain.SyncSynced); err != nil {
			return err
		}
		return e.store.BackfillWorkflowLogTx(ctx, entityID, domain.Action(action), txID)
	default:
		return &domain.ValidationError{Field: "entity_type", Reason: "unknown entity type"}
	}
}

// RetryPending re-dispatches entities whose ledger submission has not been
// acknowledged. Fallback ids are retried too; they are never promoted
// without an accepted response.
func (e *Engine) RetryPending(ctx context.Context, limit int) error {
	vendors, err := e.store.ListSyncPendingVendors(ctx, limit)
	if err != nil {
		return err
	}
	for _, v := range vendors {
		action := v.PendingAction
		if action == "" {
			action = string(domain.ActionCreate)
		}
		e.submitVendor(v, action)
	}
	contracts, err := e.store.ListSyncPendingContracts(ctx, limit)
	if err != nil {
		return err
	}
	for _, c := range contracts {
		action := domain.ActionCreate
		switch c.State {
		case domain.StateVerified:
			action = domain.ActionVerify
		case domain.StateSubmitted:
			action = domain.ActionSubmit
		case domain.StateExpired:
			action = domain.ActionExpire
		case domain.StateTerminated:
			action = domain.ActionTerminate
		}
		e.submitContract(c, action)
	}
	return nil
}

func (e *Engine) submitVendor(v domain.Vendor, action string) {
	ev := ledger.Event{
		Type:     ledger.EntityVendor,
		EntityID: v.VendorID,
		Action:   action,
		Vendor: &ledger.VendorDoc{
			VendorID:           v.VendorID,
			Name:               v.Name,
			VendorType:         string(v.VendorType),
			Status:             string(v.Status),
			ContactEmail:       v.ContactEmail,
			RegistrationNumber: v.RegistrationNumber,
			LedgerIdentity:     v.LedgerIdentity,
		},
	}
	e.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.submitTimeout)
		defer cancel()
		res, err := e.ledger.Submit(ctx, ev)
		e.recordOutcome(ctx, err, res, func(txID string, status domain.SyncStatus) error {
			return e.store.SetVendorSync(ctx, v.VendorID, txID, status)
		}, "vendor", v.VendorID, action)
	})
}

func (e *Engine) submitContract(c domain.Contract, action domain.Action) {
	ev := ledger.Event{
		Type:     ledger.EntityContract,
		EntityID: c.ContractID,
		Action:   string(action),
		Contract: &ledger.ContractDoc{
			ContractID:      c.ContractID,
			VendorID:        c.VendorID,
			ContractType:    string(c.ContractType),
			Description:     c.Description,
			State:           string(c.State),
			TotalValueCents: c.TotalValueCents,
			ExpiryDate:      c.ExpiryDate.Format("2006-01-02"),
		},
	}
	e.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.submitTimeout)
		defer cancel()
		res, err := e.ledger.Submit(ctx, ev)
		e.recordOutcome(ctx, err, res, func(txID string, status domain.SyncStatus) error {
			if err := e.store.SetContractSync(ctx, c.ContractID, txID, status); err != nil {
				return err
			}
			if status == domain.SyncSynced {
				return e.store.BackfillWorkflowLogTx(ctx, c.ContractID, action, txID)
			}
			return nil
		}, "contract", c.ContractID, string(action))
	})
}

// recordOutcome maps the submit result onto the entity's sync columns. Only
// an accepted response produces SYNCED; fallback ids are recorded as such
// and unavailable leaves the row pending for the retry job.
func (e *Engine) recordOutcome(ctx context.Context, submitErr error, res ledger.SubmitResult, set func(txID string, status domain.SyncStatus) error, kind, id, action string) {
	switch res.Status {
	case ledger.StatusAccepted:
		if err := set(res.TransactionID, domain.SyncSynced); err != nil {
			e.log.Error("record ledger outcome", "kind", kind, "id", id, "err", err)
		}
	case ledger.StatusFallback:
		if err := set(res.TransactionID, domain.SyncFallback); err != nil {
			e.log.Error("record ledger outcome", "kind", kind, "id", id, "err", err)
		}
		e.log.Warn("ledger submission degraded to fallback id", "kind", kind, "id", id, "action", action)
	default:
		e.log.Warn("ledger submission unavailable, will retry",
			"kind", kind, "id", id, "action", action, "err", submitErr)
	}
}
