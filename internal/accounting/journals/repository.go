package journals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/accounting/shared"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	List(ctx context.Context, orgID int64) ([]Journal, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the journal operations available within a transaction.
type TxRepository interface {
	InsertJournal(ctx context.Context, in PostingInput) (Journal, error)
	InsertJournalLines(ctx context.Context, journalID int64, lines []PostingLineInput) error
	GetJournalWithLines(ctx context.Context, orgID, journalID int64) (Journal, []JournalLine, error)
	UpdateJournalStatus(ctx context.Context, orgID, journalID int64, status JournalStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const journalColumns = `id, org_id, number, journal_date, posting_date, source_module, source_id, memo, total_debit, total_credit, status, reversal_of, posted_by, posted_at, created_at, updated_at`

func (r *repository) List(ctx context.Context, orgID int64) ([]Journal, error) {
	rows, err := r.db.Query(ctx, `SELECT `+journalColumns+` FROM journals WHERE org_id=$1 ORDER BY number DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Journal
	for rows.Next() {
		var j Journal
		err := rows.Scan(&j.ID, &j.OrgID, &j.Number, &j.JournalDate, &j.PostingDate, &j.SourceModule, &j.SourceID, &j.Memo, &j.TotalDebit, &j.TotalCredit, &j.Status, &j.ReversalOf, &j.PostedBy, &j.PostedAt, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, j)
	}
	return entries, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, NewTxRepository(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// NewTxRepository wraps a pgx transaction so a coordinator-owned transaction
// can span journals and inventory.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertJournal(ctx context.Context, in PostingInput) (Journal, error) {
	debit, credit := in.Totals()
	row := r.tx.QueryRow(ctx, `INSERT INTO journals (org_id, journal_date, posting_date, source_module, source_id, memo, total_debit, total_credit, status, reversal_of, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'ACTIVE',$9,$10) RETURNING id, number, posted_at, created_at, updated_at`,
		in.OrgID, in.JournalDate, in.PostingDate, in.SourceModule, in.SourceID, in.Memo, toNumeric(debit), toNumeric(credit), in.ReversalOf, nullInt(in.PostedBy))
	var j Journal
	j.OrgID = in.OrgID
	j.JournalDate = in.JournalDate
	j.PostingDate = in.PostingDate
	j.SourceModule = in.SourceModule
	j.SourceID = in.SourceID
	j.Memo = in.Memo
	j.TotalDebit = debit
	j.TotalCredit = credit
	j.Status = JournalStatusActive
	j.ReversalOf = in.ReversalOf
	j.PostedBy = in.PostedBy
	if err := row.Scan(&j.ID, &j.Number, &j.PostedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, journalID int64, lines []PostingLineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (journal_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5)`, journalID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit), line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, orgID, journalID int64) (Journal, []JournalLine, error) {
	var j Journal
	err := r.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journals WHERE org_id=$1 AND id=$2`, orgID, journalID).
		Scan(&j.ID, &j.OrgID, &j.Number, &j.JournalDate, &j.PostingDate, &j.SourceModule, &j.SourceID, &j.Memo, &j.TotalDebit, &j.TotalCredit, &j.Status, &j.ReversalOf, &j.PostedBy, &j.PostedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, nil, shared.ErrJournalNotFound
		}
		return Journal{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, journal_id, account_id, debit, credit, description, created_at
FROM journal_lines WHERE journal_id=$1 ORDER BY id ASC`, journalID)
	if err != nil {
		return Journal{}, nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.Debit, &line.Credit, &line.Description, &line.CreatedAt); err != nil {
			return Journal{}, nil, err
		}
		lines = append(lines, line)
	}
	return j, lines, rows.Err()
}

func (r *txRepository) UpdateJournalStatus(ctx context.Context, orgID, journalID int64, status JournalStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journals SET status=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, journalID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrJournalNotFound
	}
	return nil
}

// Helpers
func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
