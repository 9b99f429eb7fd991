package payments

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	contract domain.Contract
	payments map[string]domain.PaymentRecord
}

func newFakeStore(c domain.Contract) *fakeStore {
	return &fakeStore{contract: c, payments: map[string]domain.PaymentRecord{}}
}

func (f *fakeStore) AddPayment(_ context.Context, p domain.PaymentRecord) (domain.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ContractID != f.contract.ContractID {
		return domain.Contract{}, &domain.NotFoundError{Kind: "contract", ID: p.ContractID}
	}
	if !f.contract.Active() {
		return domain.Contract{}, &domain.ValidationError{Field: "contract_id", Reason: "contract is not active"}
	}
	if p.AmountCents > f.contract.RemainingCents() {
		return domain.Contract{}, &domain.ValidationError{Field: "amount_cents", Reason: "payment exceeds remaining balance"}
	}
	f.payments[p.PaymentID] = p
	f.contract.PaidAmountCents += p.AmountCents
	return f.contract, nil
}

func (f *fakeStore) DeletePayment(_ context.Context, contractID, paymentID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok || p.ContractID != contractID {
		return &domain.NotFoundError{Kind: "payment", ID: paymentID}
	}
	delete(f.payments, paymentID)
	var sum int64
	for _, q := range f.payments {
		sum += q.AmountCents
	}
	f.contract.PaidAmountCents = sum
	return nil
}

func (f *fakeStore) ListPayments(_ context.Context, contractID string) ([]domain.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range f.payments {
		if p.ContractID == contractID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPaymentSync(_ context.Context, paymentID, txID string, status domain.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payments[paymentID]
	p.TransactionID = txID
	p.SyncStatus = status
	f.payments[paymentID] = p
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	events []ledger.Event
	result ledger.SubmitResult
}

func (f *fakeLedger) Submit(_ context.Context, ev ledger.Event) (ledger.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.result, nil
}

func activeContract() domain.Contract {
	return domain.Contract{
		ContractID:      "ctr_1",
		VendorID:        "vnd_1",
		State:           domain.StateSubmitted,
		TotalValueCents: 10_000,
	}
}

func newTestRecorder(st *fakeStore, lc *fakeLedger) *Recorder {
	return NewRecorder(st, lc, nil).WithSyncDispatch()
}

func TestRecordPayment(t *testing.T) {
	st := newFakeStore(activeContract())
	lc := &fakeLedger{result: ledger.SubmitResult{TransactionID: "tx-p", Status: ledger.StatusAccepted}}
	r := newTestRecorder(st, lc)

	p, c, err := r.Record(context.Background(), "ctr_1", NewPayment{
		AmountCents: 4_000,
		Reference:   "INV-100",
		Method:      domain.PaymentWire,
	}, "ap-clerk")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.PaymentID, "pay_"))
	assert.Equal(t, int64(4_000), c.PaidAmountCents)
	assert.Equal(t, int64(6_000), c.RemainingCents())

	stored := st.payments[p.PaymentID]
	assert.Equal(t, domain.SyncSynced, stored.SyncStatus)
	assert.Equal(t, "tx-p", stored.TransactionID)
	require.Len(t, lc.events, 1)
	assert.Equal(t, ledger.EntityPayment, lc.events[0].Type)
}

func TestRecordPaymentOverpayRejected(t *testing.T) {
	st := newFakeStore(activeContract())
	r := newTestRecorder(st, &fakeLedger{})

	_, _, err := r.Record(context.Background(), "ctr_1", NewPayment{
		AmountCents: 6_000,
		Reference:   "INV-1",
		Method:      domain.PaymentACH,
	}, "u")
	require.NoError(t, err)

	_, _, err = r.Record(context.Background(), "ctr_1", NewPayment{
		AmountCents: 6_000,
		Reference:   "INV-2",
		Method:      domain.PaymentACH,
	}, "u")
	assert.True(t, domain.IsValidation(err), "second payment exceeds remaining balance")
}

func TestRecordPaymentValidation(t *testing.T) {
	st := newFakeStore(activeContract())
	r := newTestRecorder(st, &fakeLedger{})

	_, _, err := r.Record(context.Background(), "ctr_1", NewPayment{AmountCents: 0, Reference: "x", Method: domain.PaymentCash}, "u")
	assert.True(t, domain.IsValidation(err))

	_, _, err = r.Record(context.Background(), "ctr_1", NewPayment{AmountCents: 10, Method: domain.PaymentCash}, "u")
	assert.True(t, domain.IsValidation(err), "missing reference")

	_, _, err = r.Record(context.Background(), "ctr_1", NewPayment{AmountCents: 10, Reference: "x", Method: "BARTER"}, "u")
	assert.True(t, domain.IsValidation(err), "unknown method")
}

func TestRecordPaymentInactiveContract(t *testing.T) {
	c := activeContract()
	c.State = domain.StateTerminated
	st := newFakeStore(c)
	r := newTestRecorder(st, &fakeLedger{})

	_, _, err := r.Record(context.Background(), "ctr_1", NewPayment{
		AmountCents: 10,
		Reference:   "INV-1",
		Method:      domain.PaymentCheck,
	}, "u")
	assert.True(t, domain.IsValidation(err))
}

func TestDeletePaymentRecomputesSum(t *testing.T) {
	st := newFakeStore(activeContract())
	lc := &fakeLedger{result: ledger.SubmitResult{Status: ledger.StatusAccepted}}
	r := newTestRecorder(st, lc)

	p1, _, err := r.Record(context.Background(), "ctr_1", NewPayment{AmountCents: 3_000, Reference: "A", Method: domain.PaymentWire}, "u")
	require.NoError(t, err)
	_, c, err := r.Record(context.Background(), "ctr_1", NewPayment{AmountCents: 2_000, Reference: "B", Method: domain.PaymentWire}, "u")
	require.NoError(t, err)
	require.Equal(t, int64(5_000), c.PaidAmountCents)

	require.NoError(t, r.Delete(context.Background(), "ctr_1", p1.PaymentID))
	assert.Equal(t, int64(2_000), st.contract.PaidAmountCents)

	err = r.Delete(context.Background(), "ctr_1", p1.PaymentID)
	assert.True(t, domain.IsNotFound(err))
}
