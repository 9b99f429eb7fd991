// Package tamper runs the periodic integrity scan: recompute digests for
// recently touched entities, escalate drift to the ledger verifier and
// raise alerts. It also owns the expiry sweep and the sync retry, the two
// other background duties of the gateway.
package tamper

import (
	"context"
	"log/slog"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/canonhash"
	"github.com/akhdaniel/vendorchain/pkg/domain"
)

type Store interface {
	ListRecentlyMutatedContracts(ctx context.Context, since time.Time) ([]domain.Contract, error)
	ListRecentlyMutatedVendors(ctx context.Context, since time.Time) ([]domain.Vendor, error)
	ListExpiryCandidates(ctx context.Context, now time.Time) ([]domain.Contract, error)
	InsertTamperAlert(ctx context.Context, a domain.TamperAlert) (int64, error)
	HasOpenTamperAlert(ctx context.Context, entityType, entityID string) (bool, error)
}

type Verifier interface {
	VerifyContract(ctx context.Context, contractID string) (domain.VerificationResult, error)
	VerifyVendor(ctx context.Context, vendorID string) (domain.VerificationResult, error)
}

type Engine interface {
	Transition(ctx context.Context, contractID string, action domain.Action, performedBy, notes string) (domain.Contract, error)
	RetryPending(ctx context.Context, limit int) error
}

// AlertSink receives every raised alert. Alerts are reported, never
// auto-corrected; a sink failure is logged but does not stop the scan.
type AlertSink interface {
	Notify(ctx context.Context, a domain.TamperAlert)
}

// LogSink is the default sink: structured warning per alert.
type LogSink struct{ Log *slog.Logger }

func (s LogSink) Notify(_ context.Context, a domain.TamperAlert) {
	s.Log.Warn("tamper alert raised",
		"entity_type", a.EntityType, "entity_id", a.EntityID,
		"status", a.Status, "stored_digest", a.StoredDigest, "actual_digest", a.ActualDigest)
}

type Scheduler struct {
	store    Store
	verifier Verifier
	engine   Engine
	sink     AlertSink
	log      *slog.Logger
	now      func() time.Time

	interval time.Duration
	window   time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewScheduler(st Store, v Verifier, e Engine, sink AlertSink, interval, window time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Scheduler{
		store:    st,
		verifier: v,
		engine:   e,
		sink:     sink,
		log:      log,
		now:      time.Now,
		interval: interval,
		window:   window,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the ticker loop. Stop blocks until the in-flight scan
// finishes.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				s.RunOnce(ctx)
				cancel()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// RunOnce executes one full scan cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.scanDigests(ctx)
	s.sweepExpired(ctx)
	if err := s.engine.RetryPending(ctx, 100); err != nil {
		s.log.Error("retry pending ledger submissions", "err", err)
	}
}

func (s *Scheduler) scanDigests(ctx context.Context) {
	since := s.now().Add(-s.window)

	contracts, err := s.store.ListRecentlyMutatedContracts(ctx, since)
	if err != nil {
		s.log.Error("list recently mutated contracts", "err", err)
	}
	for _, c := range contracts {
		actual, err := canonhash.ContractDigest(&c)
		if err != nil {
			s.log.Error("recompute contract digest", "contract_id", c.ContractID, "err", err)
			continue
		}
		if actual == c.DataDigest {
			continue
		}
		status := s.escalate(ctx, "contract", c.ContractID)
		s.raise(ctx, domain.TamperAlert{
			EntityType:   "contract",
			EntityID:     c.ContractID,
			StoredDigest: c.DataDigest,
			ActualDigest: actual,
			Status:       status,
			DetectedAt:   s.now().UTC(),
		})
	}

	vendors, err := s.store.ListRecentlyMutatedVendors(ctx, since)
	if err != nil {
		s.log.Error("list recently mutated vendors", "err", err)
	}
	for _, v := range vendors {
		actual, err := canonhash.VendorDigest(&v)
		if err != nil {
			s.log.Error("recompute vendor digest", "vendor_id", v.VendorID, "err", err)
			continue
		}
		if actual == v.DataDigest {
			continue
		}
		status := s.escalate(ctx, "vendor", v.VendorID)
		s.raise(ctx, domain.TamperAlert{
			EntityType:   "vendor",
			EntityID:     v.VendorID,
			StoredDigest: v.DataDigest,
			ActualDigest: actual,
			Status:       status,
			DetectedAt:   s.now().UTC(),
		})
	}
}

// escalate asks the ledger verifier for a verdict on a drifted entity. The
// drift itself already warrants an alert; an unreachable ledger downgrades
// the verdict to pending, it does not suppress the alert.
func (s *Scheduler) escalate(ctx context.Context, entityType, entityID string) domain.VerificationStatus {
	var (
		res domain.VerificationResult
		err error
	)
	if entityType == "contract" {
		res, err = s.verifier.VerifyContract(ctx, entityID)
	} else {
		res, err = s.verifier.VerifyVendor(ctx, entityID)
	}
	if err != nil {
		s.log.Error("escalate drifted entity to ledger verifier",
			"entity_type", entityType, "entity_id", entityID, "err", err)
		return domain.VerificationPending
	}
	return res.Status
}

func (s *Scheduler) raise(ctx context.Context, a domain.TamperAlert) {
	open, err := s.store.HasOpenTamperAlert(ctx, a.EntityType, a.EntityID)
	if err != nil {
		s.log.Error("check existing tamper alert", "entity_id", a.EntityID, "err", err)
	}
	if open {
		return
	}
	id, err := s.store.InsertTamperAlert(ctx, a)
	if err != nil {
		s.log.Error("persist tamper alert", "entity_id", a.EntityID, "err", err)
	}
	a.ID = id
	s.sink.Notify(ctx, a)
}

func (s *Scheduler) sweepExpired(ctx context.Context) {
	candidates, err := s.store.ListExpiryCandidates(ctx, s.now())
	if err != nil {
		s.log.Error("list expiry candidates", "err", err)
		return
	}
	for _, c := range candidates {
		if _, err := s.engine.Transition(ctx, c.ContractID, domain.ActionExpire, "system", "expiry sweep"); err != nil {
			// A concurrent transition may have beaten the sweep; next cycle
			// picks the contract up again if it is still due.
			s.log.Warn("expiry sweep transition failed", "contract_id", c.ContractID, "err", err)
		}
	}
}
