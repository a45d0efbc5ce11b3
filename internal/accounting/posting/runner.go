package posting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/periods"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/platform/db"
)

// PGRunner opens one pgx transaction and exposes it to every package through
// the LedgerTx bundle.
type PGRunner struct {
	pool *pgxpool.Pool
}

// NewPGRunner constructs the runner.
func NewPGRunner(pool *pgxpool.Pool) *PGRunner {
	return &PGRunner{pool: pool}
}

func (r *PGRunner) WithLedgerTx(ctx context.Context, timeout time.Duration, fn func(context.Context, LedgerTx) error) error {
	return db.WithTxTimeout(ctx, r.pool, timeout, func(txCtx context.Context, tx pgx.Tx) error {
		return fn(txCtx, &pgLedgerTx{
			journals:  journals.NewTxRepository(tx),
			inventory: inventory.NewTxRepository(tx),
			periods:   periods.NewTxRepository(tx),
			records:   NewTxStore(tx),
		})
	})
}

type pgLedgerTx struct {
	journals  journals.TxRepository
	inventory inventory.TxRepository
	periods   periods.TxRepository
	records   TxStore
}

func (t *pgLedgerTx) Journals() journals.TxRepository   { return t.journals }
func (t *pgLedgerTx) Inventory() inventory.TxRepository { return t.inventory }
func (t *pgLedgerTx) Periods() periods.TxRepository     { return t.periods }
func (t *pgLedgerTx) Records() TxStore                  { return t.records }
