package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
)

// CreateOpeningBalance seeds the first FIFO layer and posts the balancing
// journal: debit inventory asset, credit opening-balance equity.
func CreateOpeningBalance(ctx context.Context, tx TxRepository, jtx journals.TxRepository, in OpeningBalanceInput) (Layer, journals.Journal, error) {
	if err := in.Validate(); err != nil {
		return Layer{}, journals.Journal{}, err
	}
	sourceID := uuid.New()
	layer, err := tx.InsertLayer(ctx, Layer{
		OrgID:        in.OrgID,
		ItemID:       in.ItemID,
		WarehouseID:  in.WarehouseID,
		QtyRemaining: in.Qty,
		UnitCost:     in.UnitCost,
		SourceType:   LayerSourceOpening,
		SourceID:     sourceID.String(),
		CreatedAt:    in.AsOfDate,
	})
	if err != nil {
		return Layer{}, journals.Journal{}, err
	}
	layerID := layer.ID
	if _, err := tx.InsertMovement(ctx, Movement{
		OrgID:       in.OrgID,
		ItemID:      in.ItemID,
		WarehouseID: in.WarehouseID,
		LayerID:     &layerID,
		Direction:   DirectionIn,
		Qty:         in.Qty,
		UnitCost:    in.UnitCost,
		TotalValue:  accshared.Round2(in.Qty * in.UnitCost),
		SourceType:  string(LayerSourceOpening),
		SourceID:    sourceID.String(),
		Status:      MovementStatusActive,
	}); err != nil {
		return Layer{}, journals.Journal{}, err
	}
	amount := accshared.Round2(in.Qty * in.UnitCost)
	journal, err := journals.CreateInTx(ctx, jtx, journals.PostingInput{
		OrgID:        in.OrgID,
		JournalDate:  in.AsOfDate,
		PostingDate:  in.AsOfDate,
		SourceModule: "inventory.opening",
		SourceID:     sourceID,
		Memo:         fmt.Sprintf("Opening balance item %d warehouse %d", in.ItemID, in.WarehouseID),
		PostedBy:     in.ActorID,
		Lines: []journals.PostingLineInput{
			{AccountID: in.InventoryAccountID, Debit: amount, Description: "Opening inventory"},
			{AccountID: in.EquityAccountID, Credit: amount, Description: "Opening balance equity"},
		},
	})
	if err != nil {
		return Layer{}, journals.Journal{}, err
	}
	return layer, journal, nil
}

// ProcessInbound appends one layer and records the IN movement. No journal is
// created here: the owning document (purchase bill, transfer) books its own
// debit and credit.
func ProcessInbound(ctx context.Context, tx TxRepository, in InboundInput) (Layer, Movement, error) {
	if err := in.Validate(); err != nil {
		return Layer{}, Movement{}, err
	}
	layer, err := tx.InsertLayer(ctx, Layer{
		OrgID:        in.OrgID,
		ItemID:       in.ItemID,
		WarehouseID:  in.WarehouseID,
		QtyRemaining: in.Qty,
		UnitCost:     in.UnitCost,
		SourceType:   in.SourceType,
		SourceID:     in.SourceID,
		CreatedAt:    in.PostingDate,
	})
	if err != nil {
		return Layer{}, Movement{}, err
	}
	layerID := layer.ID
	movement := Movement{
		OrgID:       in.OrgID,
		ItemID:      in.ItemID,
		WarehouseID: in.WarehouseID,
		LayerID:     &layerID,
		Direction:   DirectionIn,
		Qty:         in.Qty,
		UnitCost:    in.UnitCost,
		TotalValue:  accshared.Round2(in.Qty * in.UnitCost),
		SourceType:  string(in.SourceType),
		SourceID:    in.SourceID,
		Status:      MovementStatusActive,
	}
	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Layer{}, Movement{}, err
	}
	movement.ID = movementID
	return layer, movement, nil
}

// ProcessOutbound consumes FIFO layers for the requested quantity. Only
// layers created at or before the posting date are eligible, so a back-dated
// sale cannot consume inventory that did not yet exist. One movement is
// written per layer touched.
func ProcessOutbound(ctx context.Context, tx TxRepository, in OutboundInput) (ConsumptionResult, error) {
	if err := in.Validate(); err != nil {
		return ConsumptionResult{}, err
	}
	profile, err := tx.GetWarehouseProfile(ctx, in.OrgID, in.WarehouseID)
	if err != nil {
		return ConsumptionResult{}, err
	}
	layers, err := tx.GetLayersForConsumption(ctx, in.OrgID, in.ItemID, in.WarehouseID, in.PostingDate)
	if err != nil {
		return ConsumptionResult{}, err
	}
	var available float64
	for _, layer := range layers {
		available += layer.QtyRemaining
	}
	if available+accshared.QtyEpsilon < in.Qty && !profile.AllowNegative {
		return ConsumptionResult{}, &accshared.InsufficientInventoryError{
			ItemID:      in.ItemID,
			WarehouseID: in.WarehouseID,
			Available:   available,
			Requested:   in.Qty,
		}
	}

	result := ConsumptionResult{}
	remaining := in.Qty
	lastCost := 0.0
	for _, layer := range layers {
		if remaining <= accshared.QtyEpsilon {
			break
		}
		consume := layer.QtyRemaining
		if remaining < consume {
			consume = remaining
		}
		if err := tx.DecrementLayer(ctx, layer.ID, consume); err != nil {
			return ConsumptionResult{}, err
		}
		layerID := layer.ID
		movementID, err := tx.InsertMovement(ctx, Movement{
			OrgID:       in.OrgID,
			ItemID:      in.ItemID,
			WarehouseID: in.WarehouseID,
			LayerID:     &layerID,
			Direction:   DirectionOut,
			Qty:         consume,
			UnitCost:    layer.UnitCost,
			TotalValue:  accshared.Round2(consume * layer.UnitCost),
			SourceType:  in.SourceType,
			SourceID:    in.SourceID,
			Status:      MovementStatusActive,
		})
		if err != nil {
			return ConsumptionResult{}, err
		}
		cost := consume * layer.UnitCost
		result.TotalCost += cost
		result.ConsumedLayers = append(result.ConsumedLayers, ConsumedLayer{
			LayerID:    layer.ID,
			MovementID: movementID,
			Qty:        consume,
			UnitCost:   layer.UnitCost,
			Cost:       accshared.Round2(cost),
		})
		result.MovementIDs = append(result.MovementIDs, movementID)
		remaining -= consume
		lastCost = layer.UnitCost
	}

	// Warehouse allows going negative: cost the uncovered remainder at the
	// newest consumed layer's unit cost.
	if remaining > accshared.QtyEpsilon {
		movementID, err := tx.InsertMovement(ctx, Movement{
			OrgID:       in.OrgID,
			ItemID:      in.ItemID,
			WarehouseID: in.WarehouseID,
			Direction:   DirectionOut,
			Qty:         remaining,
			UnitCost:    lastCost,
			TotalValue:  accshared.Round2(remaining * lastCost),
			SourceType:  in.SourceType,
			SourceID:    in.SourceID,
			Status:      MovementStatusActive,
		})
		if err != nil {
			return ConsumptionResult{}, err
		}
		result.TotalCost += remaining * lastCost
		result.MovementIDs = append(result.MovementIDs, movementID)
	}

	result.TotalCost = accshared.Round2(result.TotalCost)
	if in.Qty > 0 {
		result.AverageCost = accshared.Round2(result.TotalCost / in.Qty)
	}
	return result, nil
}

// CreateCOGSJournal books the consumption cost: debit COGS, credit inventory
// asset.
func CreateCOGSJournal(ctx context.Context, jtx journals.TxRepository, in COGSInput) (journals.Journal, error) {
	if in.TotalCost <= 0 {
		return journals.Journal{}, ErrInvalidUnitCost
	}
	sourceID, err := uuid.Parse(in.SourceID)
	if err != nil {
		sourceID = uuid.New()
	}
	amount := accshared.Round2(in.TotalCost)
	return journals.CreateInTx(ctx, jtx, journals.PostingInput{
		OrgID:        in.OrgID,
		JournalDate:  in.PostingDate,
		PostingDate:  in.PostingDate,
		SourceModule: "inventory.cogs",
		SourceID:     sourceID,
		Memo:         fmt.Sprintf("COGS item %d", in.ItemID),
		PostedBy:     in.ActorID,
		Lines: []journals.PostingLineInput{
			{AccountID: in.COGSAccountID, Debit: amount, Description: "Cost of goods sold"},
			{AccountID: in.InventoryAccountID, Credit: amount, Description: "Inventory relief"},
		},
	})
}

// ReverseMovement writes a compensating movement with flipped direction,
// restores the layer's quantity and marks the original REVERSED. Reversing
// an IN movement requires the layer to still hold the quantity.
func ReverseMovement(ctx context.Context, tx TxRepository, in ReversalInput) (Movement, error) {
	original, err := tx.GetMovement(ctx, in.OrgID, in.MovementID)
	if err != nil {
		return Movement{}, err
	}
	if original.Status != MovementStatusActive {
		return Movement{}, accshared.ErrInvalidStatus
	}
	reversal := Movement{
		OrgID:       original.OrgID,
		ItemID:      original.ItemID,
		WarehouseID: original.WarehouseID,
		LayerID:     original.LayerID,
		Qty:         original.Qty,
		UnitCost:    original.UnitCost,
		TotalValue:  original.TotalValue,
		SourceType:  original.SourceType + ":REVERSAL",
		SourceID:    in.SourceID,
		Status:      MovementStatusActive,
	}
	if original.Direction == DirectionOut {
		reversal.Direction = DirectionIn
		if original.LayerID != nil {
			if err := tx.IncrementLayer(ctx, *original.LayerID, original.Qty); err != nil {
				return Movement{}, err
			}
		}
	} else {
		reversal.Direction = DirectionOut
		if original.LayerID != nil {
			if err := tx.DecrementLayer(ctx, *original.LayerID, original.Qty); err != nil {
				return Movement{}, err
			}
		}
	}
	movementID, err := tx.InsertMovement(ctx, reversal)
	if err != nil {
		return Movement{}, err
	}
	if err := tx.UpdateMovementStatus(ctx, in.OrgID, original.ID, MovementStatusReversed); err != nil {
		return Movement{}, err
	}
	reversal.ID = movementID
	return reversal, nil
}
