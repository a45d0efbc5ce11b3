package posting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
)

// RecordStatus enumerates idempotency record lifecycle values.
type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "PENDING"
	RecordStatusCompleted RecordStatus = "COMPLETED"
	RecordStatusFailed    RecordStatus = "FAILED"
)

// Record guarantees at-most-once execution per (org, operation, key).
type Record struct {
	ID        uuid.UUID
	OrgID     int64
	Operation string
	Key       string
	Status    RecordStatus
	Result    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists idempotency records. Uniqueness is enforced by the storage
// layer, not by a read-then-write, so two racing requests cannot both win.
// The COMPLETED flip happens through TxStore inside the unit of work's own
// transaction, so a committed posting is never left PENDING.
type Store interface {
	// Begin claims the key. When a COMPLETED record already exists it is
	// returned with existing=true; a PENDING record yields
	// ErrOperationInFlight; a FAILED record is reclaimed for retry.
	Begin(ctx context.Context, orgID int64, operation, key string) (Record, bool, error)
	Fail(ctx context.Context, orgID int64, operation, key string) error
}

// TxStore marks a claimed record COMPLETED inside the caller's storage
// transaction, committing or rolling back together with the ledger writes.
type TxStore interface {
	Complete(ctx context.Context, orgID int64, operation, key string, result []byte) error
}

// PGStore implements Store against PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const recordColumns = `id, org_id, operation, idem_key, status, result, created_at, updated_at`

func (s *PGStore) Begin(ctx context.Context, orgID int64, operation, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, errors.New("posting: idempotency key required")
	}
	if operation == "" {
		return Record{}, false, errors.New("posting: operation required")
	}
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_records (id, org_id, operation, idem_key, status) VALUES ($1,$2,$3,$4,'PENDING')`, id, orgID, operation, key)
	if err == nil {
		return Record{ID: id, OrgID: orgID, Operation: operation, Key: key, Status: RecordStatusPending}, false, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return Record{}, false, err
	}

	existing, err := s.get(ctx, orgID, operation, key)
	if err != nil {
		return Record{}, false, err
	}
	switch existing.Status {
	case RecordStatusCompleted:
		return existing, true, nil
	case RecordStatusFailed:
		// Reclaim atomically; losing the race means someone else retried first.
		cmd, err := s.pool.Exec(ctx, `UPDATE idempotency_records SET status='PENDING', updated_at=NOW()
WHERE org_id=$1 AND operation=$2 AND idem_key=$3 AND status='FAILED'`, orgID, operation, key)
		if err != nil {
			return Record{}, false, err
		}
		if cmd.RowsAffected() == 0 {
			return Record{}, false, accshared.ErrOperationInFlight
		}
		existing.Status = RecordStatusPending
		return existing, false, nil
	default:
		return Record{}, false, accshared.ErrOperationInFlight
	}
}

func (s *PGStore) get(ctx context.Context, orgID int64, operation, key string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM idempotency_records WHERE org_id=$1 AND operation=$2 AND idem_key=$3`, orgID, operation, key).
		Scan(&rec.ID, &rec.OrgID, &rec.Operation, &rec.Key, &rec.Status, &rec.Result, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, accshared.ErrOperationInFlight
		}
		return Record{}, err
	}
	return rec, nil
}

// NewTxStore wraps a pgx transaction for the COMPLETED flip.
func NewTxStore(tx pgx.Tx) TxStore {
	return &pgTxStore{tx: tx}
}

type pgTxStore struct {
	tx pgx.Tx
}

func (s *pgTxStore) Complete(ctx context.Context, orgID int64, operation, key string, result []byte) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE idempotency_records SET status='COMPLETED', result=$4, updated_at=NOW()
WHERE org_id=$1 AND operation=$2 AND idem_key=$3 AND status='PENDING'`, orgID, operation, key, result)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("posting: idempotency record is not pending")
	}
	return nil
}

func (s *PGStore) Fail(ctx context.Context, orgID int64, operation, key string) error {
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_records SET status='FAILED', updated_at=NOW()
WHERE org_id=$1 AND operation=$2 AND idem_key=$3 AND status='PENDING'`, orgID, operation, key)
	return err
}

// Cleanup removes completed or failed records older than retention.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1 AND status <> 'PENDING'`, cutoff)
	return err
}
