package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, orgID, itemID, warehouseID int64, limit int) ([]Movement, error)
}

// TxRepository exposes the inventory operations available within a
// transaction. Layer reads for consumption take row locks so concurrent
// consumers of the same (item, warehouse) serialize.
type TxRepository interface {
	InsertLayer(ctx context.Context, layer Layer) (Layer, error)
	GetLayersForConsumption(ctx context.Context, orgID, itemID, warehouseID int64, asOf time.Time) ([]Layer, error)
	GetLayer(ctx context.Context, orgID, layerID int64) (Layer, error)
	DecrementLayer(ctx context.Context, layerID int64, qty float64) error
	IncrementLayer(ctx context.Context, layerID int64, qty float64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	GetMovement(ctx context.Context, orgID, movementID int64) (Movement, error)
	UpdateMovementStatus(ctx context.Context, orgID, movementID int64, status MovementStatus) error
	GetOnHand(ctx context.Context, orgID, itemID, warehouseID int64) (float64, error)
	GetOnHandValue(ctx context.Context, orgID int64) (float64, error)
	GetWarehouseProfile(ctx context.Context, orgID, warehouseID int64) (WarehouseProfile, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
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

const movementColumns = `id, org_id, item_id, warehouse_id, layer_id, direction, qty, unit_cost, total_value, source_type, source_id, status, created_at`

func (r *repository) ListMovements(ctx context.Context, orgID, itemID, warehouseID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM inventory_movements WHERE org_id=$1 AND item_id=$2 AND warehouse_id=$3 ORDER BY created_at DESC LIMIT $4`, orgID, itemID, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.OrgID, &m.ItemID, &m.WarehouseID, &m.LayerID, &m.Direction, &m.Qty, &m.UnitCost, &m.TotalValue, &m.SourceType, &m.SourceID, &m.Status, &m.CreatedAt)
	return m, err
}

// NewTxRepository wraps a pgx transaction so a coordinator-owned transaction
// can span inventory and journals.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

const layerColumns = `id, org_id, item_id, warehouse_id, qty_remaining, unit_cost, source_type, source_id, created_at`

func (r *txRepo) InsertLayer(ctx context.Context, layer Layer) (Layer, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_layers (org_id, item_id, warehouse_id, qty_remaining, unit_cost, source_type, source_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW())) RETURNING id, created_at`,
		layer.OrgID, layer.ItemID, layer.WarehouseID, toNumeric(layer.QtyRemaining), toNumeric(layer.UnitCost), layer.SourceType, layer.SourceID, nullTime(layer.CreatedAt))
	if err := row.Scan(&layer.ID, &layer.CreatedAt); err != nil {
		return Layer{}, err
	}
	return layer, nil
}

// GetLayersForConsumption returns lockable layers eligible for FIFO
// consumption as of the posting date, oldest first. Excluding layers created
// after asOf keeps costing temporally consistent for back-dated postings.
func (r *txRepo) GetLayersForConsumption(ctx context.Context, orgID, itemID, warehouseID int64, asOf time.Time) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+`
FROM inventory_layers
WHERE org_id=$1 AND item_id=$2 AND warehouse_id=$3 AND qty_remaining > 0 AND created_at <= $4
ORDER BY created_at ASC, id ASC
FOR UPDATE`, orgID, itemID, warehouseID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.ID, &l.OrgID, &l.ItemID, &l.WarehouseID, &l.QtyRemaining, &l.UnitCost, &l.SourceType, &l.SourceID, &l.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func (r *txRepo) GetLayer(ctx context.Context, orgID, layerID int64) (Layer, error) {
	var l Layer
	err := r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM inventory_layers WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, layerID).
		Scan(&l.ID, &l.OrgID, &l.ItemID, &l.WarehouseID, &l.QtyRemaining, &l.UnitCost, &l.SourceType, &l.SourceID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Layer{}, accshared.ErrLayerNotFound
		}
		return Layer{}, err
	}
	return l, nil
}

// DecrementLayer reduces qty_remaining, refusing to go below zero at the
// storage layer as a final backstop.
func (r *txRepo) DecrementLayer(ctx context.Context, layerID int64, qty float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_layers SET qty_remaining = qty_remaining - $2
WHERE id=$1 AND qty_remaining >= $2`, layerID, toNumeric(qty))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_layers WHERE id=$1)`, layerID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return accshared.ErrLayerInsufficientQty
		}
		return accshared.ErrLayerNotFound
	}
	return nil
}

func (r *txRepo) IncrementLayer(ctx context.Context, layerID int64, qty float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_layers SET qty_remaining = qty_remaining + $2 WHERE id=$1`, layerID, toNumeric(qty))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return accshared.ErrLayerNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (org_id, item_id, warehouse_id, layer_id, direction, qty, unit_cost, total_value, source_type, source_id, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.OrgID, m.ItemID, m.WarehouseID, m.LayerID, m.Direction, toNumeric(m.Qty), toNumeric(m.UnitCost), toNumeric(m.TotalValue), m.SourceType, m.SourceID, m.Status).Scan(&id)
	return id, err
}

func (r *txRepo) GetMovement(ctx context.Context, orgID, movementID int64) (Movement, error) {
	m, err := scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, movementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, accshared.ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

func (r *txRepo) UpdateMovementStatus(ctx context.Context, orgID, movementID int64, status MovementStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_movements SET status=$3 WHERE org_id=$1 AND id=$2`, orgID, movementID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return accshared.ErrMovementNotFound
	}
	return nil
}

func (r *txRepo) GetOnHand(ctx context.Context, orgID, itemID, warehouseID int64) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty_remaining), 0) FROM inventory_layers
WHERE org_id=$1 AND item_id=$2 AND warehouse_id=$3`, orgID, itemID, warehouseID).Scan(&qty)
	return qty, err
}

func (r *txRepo) GetOnHandValue(ctx context.Context, orgID int64) (float64, error) {
	var value float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty_remaining * unit_cost), 0) FROM inventory_layers WHERE org_id=$1`, orgID).Scan(&value)
	return value, err
}

func (r *txRepo) GetWarehouseProfile(ctx context.Context, orgID, warehouseID int64) (WarehouseProfile, error) {
	var p WarehouseProfile
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, allow_negative FROM warehouses WHERE org_id=$1 AND id=$2`, orgID, warehouseID).
		Scan(&p.ID, &p.OrgID, &p.AllowNegative)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WarehouseProfile{}, shared.ErrNotFound
		}
		return WarehouseProfile{}, err
	}
	return p, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.4f", v)
}
