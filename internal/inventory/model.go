package inventory

import "time"

// LayerSource enumerates how a cost layer came to exist.
type LayerSource string

const (
	LayerSourceOpening    LayerSource = "OPENING"
	LayerSourcePurchase   LayerSource = "PURCHASE"
	LayerSourceTransferIn LayerSource = "TRANSFER_IN"
)

// MovementDirection enumerates movement flow.
type MovementDirection string

const (
	DirectionIn  MovementDirection = "IN"
	DirectionOut MovementDirection = "OUT"
)

// MovementStatus enumerates movement lifecycle values.
type MovementStatus string

const (
	MovementStatusActive   MovementStatus = "ACTIVE"
	MovementStatusReversed MovementStatus = "REVERSED"
)

// Layer is one FIFO cost layer. Immutable except qty_remaining, which only
// decreases; the single exception is the compensating increment written by an
// explicit movement reversal.
type Layer struct {
	ID           int64
	OrgID        int64
	ItemID       int64
	WarehouseID  int64
	QtyRemaining float64
	UnitCost     float64
	SourceType   LayerSource
	SourceID     string
	CreatedAt    time.Time
}

// Movement is the append-only audit trail: one row per layer touched during a
// consumption, one row per inbound layer created.
type Movement struct {
	ID          int64
	OrgID       int64
	ItemID      int64
	WarehouseID int64
	LayerID     *int64
	Direction   MovementDirection
	Qty         float64
	UnitCost    float64
	TotalValue  float64
	SourceType  string
	SourceID    string
	Status      MovementStatus
	CreatedAt   time.Time
}

// WarehouseProfile carries the engine-relevant warehouse settings. Negative
// inventory is a warehouse-level default, never a per-transaction override.
type WarehouseProfile struct {
	ID            int64
	OrgID         int64
	AllowNegative bool
}

// ConsumedLayer reports one layer's contribution to an outbound consumption.
type ConsumedLayer struct {
	LayerID    int64
	MovementID int64
	Qty        float64
	UnitCost   float64
	Cost       float64
}

// ConsumptionResult summarizes a FIFO consumption.
type ConsumptionResult struct {
	TotalCost      float64
	AverageCost    float64
	ConsumedLayers []ConsumedLayer
	MovementIDs    []int64
}
