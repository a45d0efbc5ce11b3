package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger state and persists reconciliation results. The
// checks re-derive balances independently of the posting path on purpose.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TrialBalanceTotals sums debits and credits across active journals.
func (r *Repository) TrialBalanceTotals(ctx context.Context, orgID int64) (float64, float64, error) {
	var debit, credit float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journals j ON j.id = l.journal_id
WHERE j.org_id=$1 AND j.status='ACTIVE'`, orgID).Scan(&debit, &credit)
	return debit, credit, err
}

// UnbalancedJournals scans for individual journals whose lines disagree,
// surfaced only when the aggregate trial balance fails.
func (r *Repository) UnbalancedJournals(ctx context.Context, orgID int64, limit int) ([]UnbalancedJournal, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT j.id, COALESCE(SUM(l.debit), 0) AS d, COALESCE(SUM(l.credit), 0) AS c
FROM journals j
JOIN journal_lines l ON l.journal_id = j.id
WHERE j.org_id=$1 AND j.status='ACTIVE'
GROUP BY j.id
HAVING ABS(COALESCE(SUM(l.debit), 0) - COALESCE(SUM(l.credit), 0)) >= 0.01
ORDER BY ABS(COALESCE(SUM(l.debit), 0) - COALESCE(SUM(l.credit), 0)) DESC
LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedJournal
	for rows.Next() {
		var u UnbalancedJournal
		if err := rows.Scan(&u.JournalID, &u.TotalDebit, &u.TotalCredit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// InventoryValue sums qty_remaining * unit_cost across all layers.
func (r *Repository) InventoryValue(ctx context.Context, orgID int64) (float64, error) {
	var value float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_remaining * unit_cost), 0) FROM inventory_layers WHERE org_id=$1`, orgID).Scan(&value)
	return value, err
}

// InventoryValueByWarehouse breaks the layer valuation down for triage.
func (r *Repository) InventoryValueByWarehouse(ctx context.Context, orgID int64) ([]WarehouseValue, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, COALESCE(SUM(qty_remaining * unit_cost), 0)
FROM inventory_layers WHERE org_id=$1 GROUP BY warehouse_id ORDER BY warehouse_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WarehouseValue
	for rows.Next() {
		var wv WarehouseValue
		if err := rows.Scan(&wv.WarehouseID, &wv.Value); err != nil {
			return nil, err
		}
		out = append(out, wv)
	}
	return out, rows.Err()
}

// ControlBalance computes the GL balance of accounts flagged with the given
// control kind (INVENTORY, AR, AP). AR/inventory are debit-normal; AP is
// credit-normal.
func (r *Repository) ControlBalance(ctx context.Context, orgID int64, kind string) (float64, error) {
	var debit, credit float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journals j ON j.id = l.journal_id
JOIN accounts a ON a.id = l.account_id
WHERE j.org_id=$1 AND j.status='ACTIVE' AND a.control_kind=$2`, orgID, kind).Scan(&debit, &credit)
	if err != nil {
		return 0, err
	}
	if kind == "AP" {
		return credit - debit, nil
	}
	return debit - credit, nil
}

// SubledgerTotal sums open party balances for AR or AP.
func (r *Repository) SubledgerTotal(ctx context.Context, orgID int64, kind string) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM subledger_balances WHERE org_id=$1 AND kind=$2`, orgID, kind).Scan(&total)
	return total, err
}

// ActiveOrgIDs lists organizations eligible for a scheduled run.
func (r *Repository) ActiveOrgIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertRun persists a run header. Runs stay IN_PROGRESS until FinishRun
// records the outcome, so an interrupted run never masquerades as completed.
func (r *Repository) InsertRun(ctx context.Context, orgID int64, trigger Trigger, triggeredBy int64) (Run, error) {
	run := Run{OrgID: orgID, Trigger: trigger, TriggeredBy: triggeredBy}
	err := r.pool.QueryRow(ctx, `INSERT INTO reconciliation_runs (org_id, trigger, status, triggered_by)
VALUES ($1,$2,'IN_PROGRESS',$3) RETURNING id, started_at`, orgID, trigger, triggeredBy).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return Run{}, err
	}
	run.Status = RunStatusInProgress
	return run, nil
}

// FinishRun records the final status and summary.
func (r *Repository) FinishRun(ctx context.Context, runID int64, status RunStatus, summary string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE reconciliation_runs SET status=$2, summary=$3, completed_at=NOW() WHERE id=$1`, runID, status, summary)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// InsertVariances persists variance rows for a run.
func (r *Repository) InsertVariances(ctx context.Context, runID int64, variances []Variance) ([]Variance, error) {
	out := make([]Variance, 0, len(variances))
	for _, v := range variances {
		v.RunID = runID
		err := r.pool.QueryRow(ctx, `INSERT INTO reconciliation_variances (run_id, variance_type, amount, severity, description)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`, runID, v.Type, v.Amount, v.Severity, v.Description).Scan(&v.ID, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetRun loads a run with its variances.
func (r *Repository) GetRun(ctx context.Context, orgID, runID int64) (Run, error) {
	var run Run
	err := r.pool.QueryRow(ctx, `SELECT id, org_id, trigger, status, COALESCE(summary, ''), triggered_by, started_at, completed_at
FROM reconciliation_runs WHERE org_id=$1 AND id=$2`, orgID, runID).
		Scan(&run.ID, &run.OrgID, &run.Trigger, &run.Status, &run.Summary, &run.TriggeredBy, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, run_id, variance_type, amount, severity, description, resolved, resolved_by, resolved_at, created_at
FROM reconciliation_variances WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var v Variance
		if err := rows.Scan(&v.ID, &v.RunID, &v.Type, &v.Amount, &v.Severity, &v.Description, &v.Resolved, &v.ResolvedBy, &v.ResolvedAt, &v.CreatedAt); err != nil {
			return Run{}, err
		}
		run.Variances = append(run.Variances, v)
	}
	return run, rows.Err()
}

// ResolveVariance marks a variance resolved with the resolving actor.
func (r *Repository) ResolveVariance(ctx context.Context, orgID, varianceID, actorID int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE reconciliation_variances v SET resolved=TRUE, resolved_by=$3, resolved_at=NOW()
FROM reconciliation_runs ru
WHERE v.id=$2 AND ru.id=v.run_id AND ru.org_id=$1 AND v.resolved=FALSE`, orgID, varianceID, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reconciliation_variances v
JOIN reconciliation_runs ru ON ru.id = v.run_id
WHERE v.id=$2 AND ru.org_id=$1)`, orgID, varianceID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrVarianceNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// SummaryCounts aggregates unresolved variances and the latest run outcome.
func (r *Repository) SummaryCounts(ctx context.Context, orgID int64) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(COUNT(*) FILTER (WHERE NOT v.resolved), 0),
COALESCE(COUNT(*) FILTER (WHERE NOT v.resolved AND v.severity='CRITICAL'), 0)
FROM reconciliation_variances v
JOIN reconciliation_runs ru ON ru.id = v.run_id
WHERE ru.org_id=$1`, orgID).Scan(&s.UnresolvedVarianceCount, &s.CriticalCount)
	if err != nil {
		return Summary{}, err
	}
	var status RunStatus
	var startedAt time.Time
	err = r.pool.QueryRow(ctx, `SELECT status, started_at FROM reconciliation_runs WHERE org_id=$1 ORDER BY started_at DESC LIMIT 1`, orgID).Scan(&status, &startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return Summary{}, err
	}
	s.LastRunStatus = status
	s.LastRunAt = startedAt
	return s, nil
}
