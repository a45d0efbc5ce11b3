package inventory

import (
	"errors"
	"time"
)

// ErrInvalidQuantity indicates a zero or negative quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must not be negative")

// OpeningBalanceInput seeds the first layer for an item/warehouse and the
// balancing journal. Account ids come from the master-data layer.
type OpeningBalanceInput struct {
	OrgID              int64
	ItemID             int64
	WarehouseID        int64
	Qty                float64
	UnitCost           float64
	AsOfDate           time.Time
	InventoryAccountID int64
	EquityAccountID    int64
	ActorID            int64
}

// Validate checks minimum criteria.
func (in OpeningBalanceInput) Validate() error {
	if in.OrgID == 0 || in.ItemID == 0 || in.WarehouseID == 0 {
		return errors.New("inventory: org, item and warehouse required")
	}
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	if in.AsOfDate.IsZero() {
		return errors.New("inventory: as-of date required")
	}
	if in.InventoryAccountID == 0 || in.EquityAccountID == 0 {
		return errors.New("inventory: inventory and equity accounts required")
	}
	return nil
}

// InboundInput appends one layer. The caller's own document posting is
// responsible for the debit/credit, so no journal is created here.
type InboundInput struct {
	OrgID       int64
	ItemID      int64
	WarehouseID int64
	Qty         float64
	UnitCost    float64
	SourceType  LayerSource
	SourceID    string
	PostingDate time.Time
}

// Validate checks minimum criteria.
func (in InboundInput) Validate() error {
	if in.OrgID == 0 || in.ItemID == 0 || in.WarehouseID == 0 {
		return errors.New("inventory: org, item and warehouse required")
	}
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	switch in.SourceType {
	case LayerSourceOpening, LayerSourcePurchase, LayerSourceTransferIn:
	default:
		return errors.New("inventory: unknown layer source")
	}
	return nil
}

// OutboundInput consumes FIFO layers as of PostingDate.
type OutboundInput struct {
	OrgID       int64
	ItemID      int64
	WarehouseID int64
	Qty         float64
	SourceType  string
	SourceID    string
	PostingDate time.Time
}

// Validate checks minimum criteria.
func (in OutboundInput) Validate() error {
	if in.OrgID == 0 || in.ItemID == 0 || in.WarehouseID == 0 {
		return errors.New("inventory: org, item and warehouse required")
	}
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if in.PostingDate.IsZero() {
		return errors.New("inventory: posting date required")
	}
	return nil
}

// COGSInput books cost of goods sold against the inventory asset.
type COGSInput struct {
	OrgID              int64
	ItemID             int64
	TotalCost          float64
	SourceID           string
	PostingDate        time.Time
	COGSAccountID      int64
	InventoryAccountID int64
	ActorID            int64
}

// ReversalInput restores a movement's effect on its layer.
type ReversalInput struct {
	OrgID      int64
	MovementID int64
	SourceID   string
	ActorID    int64
}

// TransferInput moves stock between warehouses at FIFO cost.
type TransferInput struct {
	OrgID        int64
	ItemID       int64
	SrcWarehouse int64
	DstWarehouse int64
	Qty          float64
	SourceID     string
	PostingDate  time.Time
}
