// Package payments appends payment records against active contracts. The
// paid amount is maintained as the sum of the surviving records; the
// remaining balance is always derived, never stored on its own.
package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/pkg/ledger"

	"github.com/google/uuid"
)

type Store interface {
	AddPayment(ctx context.Context, p domain.PaymentRecord) (domain.Contract, error)
	DeletePayment(ctx context.Context, contractID, paymentID string, at time.Time) error
	ListPayments(ctx context.Context, contractID string) ([]domain.PaymentRecord, error)
	SetPaymentSync(ctx context.Context, paymentID, txID string, status domain.SyncStatus) error
}

type Submitter interface {
	Submit(ctx context.Context, ev ledger.Event) (ledger.SubmitResult, error)
}

type Recorder struct {
	store  Store
	ledger Submitter
	log    *slog.Logger
	now    func() time.Time

	submitTimeout time.Duration
	wg            sync.WaitGroup
	dispatch      func(fn func())
}

func NewRecorder(st Store, lc Submitter, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store:         st,
		ledger:        lc,
		log:           log,
		now:           time.Now,
		submitTimeout: 30 * time.Second,
	}
	r.dispatch = func(fn func()) {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			fn()
		}()
	}
	return r
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) WithSyncDispatch() *Recorder {
	r.dispatch = func(fn func()) { fn() }
	return r
}

func (r *Recorder) Wait() { r.wg.Wait() }

type NewPayment struct {
	AmountCents int64                `json:"amount_cents"`
	Date        time.Time            `json:"date"`
	Reference   string               `json:"reference"`
	Method      domain.PaymentMethod `json:"method"`
	Notes       string               `json:"notes"`
}

// Record validates the payment, appends it under the contract's row lock
// and dispatches the ledger event. The balance guard runs against the live
// remaining amount inside the store transaction.
func (r *Recorder) Record(ctx context.Context, contractID string, in NewPayment, recordedBy string) (domain.PaymentRecord, domain.Contract, error) {
	now := r.now().UTC()
	p := domain.PaymentRecord{
		PaymentID:   "pay_" + uuid.NewString(),
		ContractID:  contractID,
		AmountCents: in.AmountCents,
		Date:        in.Date,
		Reference:   in.Reference,
		Method:      in.Method,
		Notes:       in.Notes,
		RecordedBy:  recordedBy,
		RecordedAt:  now,
		SyncStatus:  domain.SyncPending,
	}
	if p.Date.IsZero() {
		p.Date = now
	}
	if err := p.Validate(); err != nil {
		return domain.PaymentRecord{}, domain.Contract{}, err
	}

	c, err := r.store.AddPayment(ctx, p)
	if err != nil {
		return domain.PaymentRecord{}, domain.Contract{}, err
	}
	r.submit(p)
	return p, c, nil
}

// Delete removes a record administratively; the contract's paid sum is
// recomputed from what is left.
func (r *Recorder) Delete(ctx context.Context, contractID, paymentID string) error {
	return r.store.DeletePayment(ctx, contractID, paymentID, r.now().UTC())
}

func (r *Recorder) List(ctx context.Context, contractID string) ([]domain.PaymentRecord, error) {
	return r.store.ListPayments(ctx, contractID)
}

func (r *Recorder) submit(p domain.PaymentRecord) {
	ev := ledger.Event{
		Type:     ledger.EntityPayment,
		EntityID: p.PaymentID,
		Action:   "RECORD",
		Payment: &ledger.PaymentDoc{
			PaymentID:   p.PaymentID,
			ContractID:  p.ContractID,
			AmountCents: p.AmountCents,
			Date:        p.Date.Format("2006-01-02"),
			Reference:   p.Reference,
			Method:      string(p.Method),
		},
	}
	r.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.submitTimeout)
		defer cancel()
		res, err := r.ledger.Submit(ctx, ev)
		switch res.Status {
		case ledger.StatusAccepted:
			if serr := r.store.SetPaymentSync(ctx, p.PaymentID, res.TransactionID, domain.SyncSynced); serr != nil {
				r.log.Error("record payment sync", "payment_id", p.PaymentID, "err", serr)
			}
		case ledger.StatusFallback:
			if serr := r.store.SetPaymentSync(ctx, p.PaymentID, res.TransactionID, domain.SyncFallback); serr != nil {
				r.log.Error("record payment sync", "payment_id", p.PaymentID, "err", serr)
			}
		default:
			r.log.Warn("payment ledger submission unavailable, will retry",
				"payment_id", p.PaymentID, "err", err)
		}
	})
}
