package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/shared"
)

// Repository encapsulates DB operations for accounting periods.
type Repository interface {
	FindPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error)
	UpdateStatus(ctx context.Context, orgID, periodID int64, status PeriodStatus, actorID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, org_id, fiscal_year, period_no, code, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.OrgID, &p.FiscalYear, &p.PeriodNo, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// FindPeriodByDate returns the period covering the supplied date.
func (r *repository) FindPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE org_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, orgID, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// UpdateStatus transitions a period; closing records actor and timestamp.
func (r *repository) UpdateStatus(ctx context.Context, orgID, periodID int64, status PeriodStatus, actorID int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounting_periods
SET status=$3,
    closed_at=CASE WHEN $3='CLOSED' THEN NOW() ELSE NULL END,
    closed_by=CASE WHEN $3='CLOSED' THEN $4 ELSE NULL END,
    updated_at=NOW()
WHERE org_id=$1 AND id=$2`, orgID, periodID, status, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TxRepository exposes period reads available inside a transaction. The
// FOR UPDATE lock keeps a close/reopen from racing an in-flight posting.
type TxRepository interface {
	FindPeriodByDateForUpdate(ctx context.Context, orgID int64, date time.Time) (Period, error)
}

// NewTxRepository wraps a pgx transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindPeriodByDateForUpdate(ctx context.Context, orgID int64, date time.Time) (Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE org_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, orgID, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}
