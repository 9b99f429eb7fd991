package store

import (
	"context"
	"errors"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const vendorCols = `vendor_id,name,registration_number,contact_email,contact_phone,address,vendor_type,status,ledger_identity,transaction_id,sync_status,pending_action,data_digest,verification_status,last_verified_at,active,created_at,updated_at`

func scanVendor(row pgx.Row) (domain.Vendor, error) {
	var v domain.Vendor
	err := row.Scan(&v.VendorID, &v.Name, &v.RegistrationNumber, &v.ContactEmail, &v.ContactPhone,
		&v.Address, &v.VendorType, &v.Status, &v.LedgerIdentity, &v.TransactionID, &v.SyncStatus,
		&v.PendingAction, &v.DataDigest, &v.VerificationStatus, &v.LastVerifiedAt, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, &domain.NotFoundError{Kind: "vendor", ID: v.VendorID}
	}
	return v, err
}

func (s *Store) CreateVendor(ctx context.Context, v domain.Vendor) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO vendors(`+vendorCols+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		v.VendorID, v.Name, v.RegistrationNumber, v.ContactEmail, v.ContactPhone,
		v.Address, v.VendorType, v.Status, v.LedgerIdentity, v.TransactionID, v.SyncStatus,
		v.PendingAction, v.DataDigest, v.VerificationStatus, v.LastVerifiedAt, v.Active, v.CreatedAt, v.UpdatedAt)
	return err
}

func (s *Store) GetVendor(ctx context.Context, id string) (domain.Vendor, error) {
	v, err := scanVendor(s.DB.QueryRow(ctx, `SELECT `+vendorCols+` FROM vendors WHERE vendor_id=$1`, id))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return v, err
	}
	return v, nil
}

func (s *Store) ListVendors(ctx context.Context, status domain.VendorStatus) ([]domain.Vendor, error) {
	q := `SELECT ` + vendorCols + ` FROM vendors ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		q = `SELECT ` + vendorCols + ` FROM vendors WHERE status=$1 ORDER BY created_at DESC`
		args = append(args, status)
	}
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVendor(ctx context.Context, v domain.Vendor) error {
	tag, err := s.DB.Exec(ctx, `UPDATE vendors SET name=$2,registration_number=$3,contact_email=$4,contact_phone=$5,
address=$6,vendor_type=$7,status=$8,ledger_identity=$9,sync_status=$10,pending_action=$11,data_digest=$12,active=$13,updated_at=$14
WHERE vendor_id=$1`,
		v.VendorID, v.Name, v.RegistrationNumber, v.ContactEmail, v.ContactPhone,
		v.Address, v.VendorType, v.Status, v.LedgerIdentity, v.SyncStatus, v.PendingAction, v.DataDigest, v.Active, v.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "vendor", ID: v.VendorID}
	}
	return nil
}

const contractCols = `contract_id,vendor_id,contract_type,description,state,total_value_cents,paid_amount_cents,expiry_date,transaction_id,sync_status,data_digest,verification_status,last_verified_at,created_by,created_at,updated_at`

func scanContract(row pgx.Row) (domain.Contract, error) {
	var c domain.Contract
	err := row.Scan(&c.ContractID, &c.VendorID, &c.ContractType, &c.Description, &c.State,
		&c.TotalValueCents, &c.PaidAmountCents, &c.ExpiryDate, &c.TransactionID, &c.SyncStatus,
		&c.DataDigest, &c.VerificationStatus, &c.LastVerifiedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, &domain.NotFoundError{Kind: "contract", ID: c.ContractID}
	}
	return c, err
}

func (s *Store) CreateContract(ctx context.Context, c domain.Contract, entry domain.WorkflowLogEntry) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO contracts(`+contractCols+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ContractID, c.VendorID, c.ContractType, c.Description, c.State,
		c.TotalValueCents, c.PaidAmountCents, c.ExpiryDate, c.TransactionID, c.SyncStatus,
		c.DataDigest, c.VerificationStatus, c.LastVerifiedAt, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertWorkflowLog(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	c, err := scanContract(s.DB.QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE contract_id=$1`, id))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return c, err
	}
	return c, nil
}

// DeleteContract removes a contract that never entered the workflow.
// Anything past CREATED is immutable history and cannot be deleted.
func (s *Store) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE contract_id=$1 FOR UPDATE`, id))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = id
		}
		return err
	}
	if c.State != domain.StateCreated {
		return &domain.StateTransitionError{Action: "DELETE", State: c.State, Reason: "only contracts in CREATED state can be deleted"}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_logs WHERE contract_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE contract_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM contracts WHERE contract_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type ContractFilter struct {
	State    domain.ContractState
	VendorID string
}

func (s *Store) ListContracts(ctx context.Context, f ContractFilter) ([]domain.Contract, error) {
	q := `SELECT ` + contractCols + ` FROM contracts WHERE 1=1`
	args := []any{}
	if f.State != "" {
		args = append(args, f.State)
		q += ` AND state=$1`
	}
	if f.VendorID != "" {
		args = append(args, f.VendorID)
		if len(args) == 2 {
			q += ` AND vendor_id=$2`
		} else {
			q += ` AND vendor_id=$1`
		}
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionContract commits the state change, the digest refresh, and the
// workflow log entry in one transaction. The WHERE clause on the previous
// state rejects lost updates from concurrent transitions.
func (s *Store) TransitionContract(ctx context.Context, contractID string, from, to domain.ContractState, digest string, entry domain.WorkflowLogEntry) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE contracts SET state=$3, data_digest=$4, sync_status=$5, updated_at=$6
WHERE contract_id=$1 AND state=$2`,
		contractID, from, to, digest, domain.SyncPending, entry.PerformedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.StateTransitionError{Action: entry.Action, State: from, Reason: "contract state changed concurrently"}
	}
	if err := insertWorkflowLog(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertWorkflowLog(ctx context.Context, tx pgx.Tx, e domain.WorkflowLogEntry) error {
	_, err := tx.Exec(ctx, `INSERT INTO workflow_logs(contract_id,action,from_state,to_state,performed_by,performed_at,transaction_id,notes)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ContractID, e.Action, e.FromState, e.ToState, e.PerformedBy, e.PerformedAt, e.TransactionID, e.Notes)
	return err
}

func (s *Store) ListWorkflowLog(ctx context.Context, contractID string) ([]domain.WorkflowLogEntry, error) {
	rows, err := s.DB.Query(ctx, `SELECT id,contract_id,action,from_state,to_state,performed_by,performed_at,transaction_id,notes
FROM workflow_logs WHERE contract_id=$1 ORDER BY performed_at DESC, id DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WorkflowLogEntry
	for rows.Next() {
		var e domain.WorkflowLogEntry
		if err := rows.Scan(&e.ID, &e.ContractID, &e.Action, &e.FromState, &e.ToState,
			&e.PerformedBy, &e.PerformedAt, &e.TransactionID, &e.Notes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddPayment appends the record and moves the paid sum forward under a row
// lock, so the remaining-balance guard sees the live balance even under
// concurrent payments.
func (s *Store) AddPayment(ctx context.Context, p domain.PaymentRecord) (domain.Contract, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback(ctx)

	c, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE contract_id=$1 FOR UPDATE`, p.ContractID))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = p.ContractID
		}
		return domain.Contract{}, err
	}
	if !c.Active() {
		return domain.Contract{}, &domain.ValidationError{Field: "contract_id", Reason: "contract is not active"}
	}
	if p.AmountCents > c.RemainingCents() {
		return domain.Contract{}, &domain.ValidationError{Field: "amount_cents", Reason: "payment exceeds remaining balance"}
	}

	_, err = tx.Exec(ctx, `INSERT INTO payments(payment_id,contract_id,amount_cents,payment_date,reference,method,notes,recorded_by,recorded_at,transaction_id,sync_status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.PaymentID, p.ContractID, p.AmountCents, p.Date, p.Reference, p.Method, p.Notes,
		p.RecordedBy, p.RecordedAt, p.TransactionID, p.SyncStatus)
	if err != nil {
		return domain.Contract{}, err
	}

	c.PaidAmountCents += p.AmountCents
	c.UpdatedAt = p.RecordedAt
	_, err = tx.Exec(ctx, `UPDATE contracts SET paid_amount_cents=$2, updated_at=$3 WHERE contract_id=$1`,
		c.ContractID, c.PaidAmountCents, c.UpdatedAt)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// DeletePayment removes the record and recomputes the paid sum from the
// surviving rows rather than subtracting.
func (s *Store) DeletePayment(ctx context.Context, contractID, paymentID string, at time.Time) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE payment_id=$1 AND contract_id=$2`, paymentID, contractID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "payment", ID: paymentID}
	}
	var sum int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents),0) FROM payments WHERE contract_id=$1`, contractID).Scan(&sum); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE contracts SET paid_amount_cents=$2, updated_at=$3 WHERE contract_id=$1`, contractID, sum, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListPayments(ctx context.Context, contractID string) ([]domain.PaymentRecord, error) {
	rows, err := s.DB.Query(ctx, `SELECT payment_id,contract_id,amount_cents,payment_date,reference,method,notes,recorded_by,recorded_at,transaction_id,sync_status
FROM payments WHERE contract_id=$1 ORDER BY payment_date DESC, recorded_at DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PaymentRecord
	for rows.Next() {
		var p domain.PaymentRecord
		if err := rows.Scan(&p.PaymentID, &p.ContractID, &p.AmountCents, &p.Date, &p.Reference,
			&p.Method, &p.Notes, &p.RecordedBy, &p.RecordedAt, &p.TransactionID, &p.SyncStatus); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetContractSync records the ledger outcome for a contract. A fallback id
// never overwrites an authoritative one.
func (s *Store) SetContractSync(ctx context.Context, contractID, txID string, status domain.SyncStatus) error {
	_, err := s.DB.Exec(ctx, `UPDATE contracts SET transaction_id=$2, sync_status=$3, updated_at=now()
WHERE contract_id=$1 AND (sync_status <> $4 OR $3 = $4)`,
		contractID, txID, status, domain.SyncSynced)
	return err
}

func (s *Store) SetVendorSync(ctx context.Context, vendorID, txID string, status domain.SyncStatus) error {
	_, err := s.DB.Exec(ctx, `UPDATE vendors SET transaction_id=$2, sync_status=$3, updated_at=now()
WHERE vendor_id=$1 AND (sync_status <> $4 OR $3 = $4)`,
		vendorID, txID, status, domain.SyncSynced)
	return err
}

func (s *Store) SetPaymentSync(ctx context.Context, paymentID, txID string, status domain.SyncStatus) error {
	_, err := s.DB.Exec(ctx, `UPDATE payments SET transaction_id=$2, sync_status=$3
WHERE payment_id=$1 AND (sync_status <> $4 OR $3 = $4)`,
		paymentID, txID, status, domain.SyncSynced)
	return err
}

// BackfillWorkflowLogTx fills the transaction id on the most recent log
// entry for the action that is still missing one.
func (s *Store) BackfillWorkflowLogTx(ctx context.Context, contractID string, action domain.Action, txID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE workflow_logs SET transaction_id=$3
WHERE id = (SELECT max(id) FROM workflow_logs WHERE contract_id=$1 AND action=$2 AND transaction_id='')`,
		contractID, action, txID)
	return err
}

func (s *Store) SetContractVerification(ctx context.Context, contractID string, status domain.VerificationStatus, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE contracts SET verification_status=$2, last_verified_at=$3 WHERE contract_id=$1`,
		contractID, status, at)
	return err
}

func (s *Store) SetVendorVerification(ctx context.Context, vendorID string, status domain.VerificationStatus, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE vendors SET verification_status=$2, last_verified_at=$3 WHERE vendor_id=$1`,
		vendorID, status, at)
	return err
}

// ListRecentlyMutatedContracts returns contracts touched inside the scan
// window, the tamper scheduler's working set.
func (s *Store) ListRecentlyMutatedContracts(ctx context.Context, since time.Time) ([]domain.Contract, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+contractCols+` FROM contracts WHERE updated_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListRecentlyMutatedVendors(ctx context.Context, since time.Time) ([]domain.Vendor, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+vendorCols+` FROM vendors WHERE updated_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListExpiryCandidates returns active contracts whose expiry date has
// passed, for the scheduler's expiry sweep.
func (s *Store) ListExpiryCandidates(ctx context.Context, now time.Time) ([]domain.Contract, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+contractCols+` FROM contracts
WHERE state IN ($1,$2,$3) AND expiry_date <= $4`,
		domain.StateCreated, domain.StateVerified, domain.StateSubmitted, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListSyncPendingContracts(ctx context.Context, limit int) ([]domain.Contract, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+contractCols+` FROM contracts
WHERE sync_status IN ($1,$2) ORDER BY updated_at ASC LIMIT $3`,
		domain.SyncPending, domain.SyncFallback, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListSyncPendingVendors(ctx context.Context, limit int) ([]domain.Vendor, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+vendorCols+` FROM vendors
WHERE sync_status IN ($1,$2) ORDER BY updated_at ASC LIMIT $3`,
		domain.SyncPending, domain.SyncFallback, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) InsertTamperAlert(ctx context.Context, a domain.TamperAlert) (int64, error) {
	var id int64
	err := s.DB.QueryRow(ctx, `INSERT INTO tamper_alerts(entity_type,entity_id,stored_digest,actual_digest,status,detected_at)
VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		a.EntityType, a.EntityID, a.StoredDigest, a.ActualDigest, a.Status, a.DetectedAt).Scan(&id)
	return id, err
}

func (s *Store) ListTamperAlerts(ctx context.Context, status string) ([]domain.TamperAlert, error) {
	q := `SELECT id,entity_type,entity_id,stored_digest,actual_digest,status,detected_at FROM tamper_alerts ORDER BY detected_at DESC`
	args := []any{}
	if status != "" {
		q = `SELECT id,entity_type,entity_id,stored_digest,actual_digest,status,detected_at FROM tamper_alerts WHERE status=$1 ORDER BY detected_at DESC`
		args = append(args, status)
	}
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TamperAlert
	for rows.Next() {
		var a domain.TamperAlert
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.StoredDigest, &a.ActualDigest, &a.Status, &a.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasOpenTamperAlert reports whether an alert for the entity already exists,
// so repeated scans do not raise duplicates.
func (s *Store) HasOpenTamperAlert(ctx context.Context, entityType, entityID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tamper_alerts WHERE entity_type=$1 AND entity_id=$2)`,
		entityType, entityID).Scan(&exists)
	return exists, err
}
