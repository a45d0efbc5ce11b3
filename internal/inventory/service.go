package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-books/meridian/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodGuard validates posting dates before any write.
type PeriodGuard interface {
	ValidatePostingDate(ctx context.Context, orgID int64, date time.Time, allowReversal bool) error
}

// Service exposes standalone inventory operations. Document-level flows go
// through the posting coordinator, which composes the same engine functions
// under one transaction.
type Service struct {
	repo  Repository
	audit AuditPort
	guard PeriodGuard
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, guard PeriodGuard) *Service {
	return &Service{repo: repo, audit: audit, guard: guard}
}

// ProcessInbound appends one layer (e.g. purchase receipt).
func (s *Service) ProcessInbound(ctx context.Context, input InboundInput) (Layer, Movement, error) {
	if err := input.Validate(); err != nil {
		return Layer{}, Movement{}, err
	}
	if s.guard != nil && !input.PostingDate.IsZero() {
		if err := s.guard.ValidatePostingDate(ctx, input.OrgID, input.PostingDate, false); err != nil {
			return Layer{}, Movement{}, err
		}
	}
	var layer Layer
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		layer, movement, err = ProcessInbound(ctx, tx, input)
		return err
	})
	if err != nil {
		return Layer{}, Movement{}, err
	}
	s.record(ctx, input.OrgID, 0, "inventory.inbound", movement.ID, map[string]any{
		"item_id":      input.ItemID,
		"warehouse_id": input.WarehouseID,
		"qty":          input.Qty,
		"unit_cost":    input.UnitCost,
	})
	return layer, movement, nil
}

// ProcessOutbound validates the posting date then consumes FIFO layers.
func (s *Service) ProcessOutbound(ctx context.Context, input OutboundInput) (ConsumptionResult, error) {
	if err := input.Validate(); err != nil {
		return ConsumptionResult{}, err
	}
	if s.guard != nil {
		if err := s.guard.ValidatePostingDate(ctx, input.OrgID, input.PostingDate, false); err != nil {
			return ConsumptionResult{}, err
		}
	}
	var result ConsumptionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = ProcessOutbound(ctx, tx, input)
		return err
	})
	if err != nil {
		return ConsumptionResult{}, err
	}
	s.record(ctx, input.OrgID, 0, "inventory.outbound", input.ItemID, map[string]any{
		"warehouse_id": input.WarehouseID,
		"qty":          input.Qty,
		"total_cost":   result.TotalCost,
		"layers":       len(result.ConsumedLayers),
	})
	return result, nil
}

// Reverse restores a movement's effect and flags the original.
func (s *Service) Reverse(ctx context.Context, input ReversalInput) (Movement, error) {
	if input.MovementID == 0 {
		return Movement{}, errors.New("inventory: movement id required")
	}
	var reversal Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = ReverseMovement(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.record(ctx, input.OrgID, input.ActorID, "inventory.reverse", input.MovementID, map[string]any{
		"reversal_id": reversal.ID,
	})
	return reversal, nil
}

// Transfer consumes FIFO layers at the source warehouse and creates one
// TRANSFER_IN layer at the destination carrying the blended cost, all in one
// transaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (ConsumptionResult, Layer, error) {
	if input.SrcWarehouse == 0 || input.DstWarehouse == 0 || input.ItemID == 0 {
		return ConsumptionResult{}, Layer{}, errors.New("inventory: warehouse and item required")
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return ConsumptionResult{}, Layer{}, errors.New("inventory: source and destination warehouse must differ")
	}
	if input.Qty <= 0 {
		return ConsumptionResult{}, Layer{}, ErrInvalidQuantity
	}
	if s.guard != nil {
		if err := s.guard.ValidatePostingDate(ctx, input.OrgID, input.PostingDate, false); err != nil {
			return ConsumptionResult{}, Layer{}, err
		}
	}
	var result ConsumptionResult
	var inLayer Layer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = ProcessOutbound(ctx, tx, OutboundInput{
			OrgID:       input.OrgID,
			ItemID:      input.ItemID,
			WarehouseID: input.SrcWarehouse,
			Qty:         input.Qty,
			SourceType:  "TRANSFER",
			SourceID:    input.SourceID,
			PostingDate: input.PostingDate,
		})
		if err != nil {
			return err
		}
		inLayer, _, err = ProcessInbound(ctx, tx, InboundInput{
			OrgID:       input.OrgID,
			ItemID:      input.ItemID,
			WarehouseID: input.DstWarehouse,
			Qty:         input.Qty,
			UnitCost:    result.AverageCost,
			SourceType:  LayerSourceTransferIn,
			SourceID:    input.SourceID,
			PostingDate: input.PostingDate,
		})
		return err
	})
	if err != nil {
		return ConsumptionResult{}, Layer{}, err
	}
	s.record(ctx, input.OrgID, 0, "inventory.transfer", input.ItemID, map[string]any{
		"src_warehouse": input.SrcWarehouse,
		"dst_warehouse": input.DstWarehouse,
		"qty":           input.Qty,
		"total_cost":    result.TotalCost,
	})
	return result, inLayer, nil
}

// ListMovements exposes the movement audit trail.
func (s *Service) ListMovements(ctx context.Context, orgID, itemID, warehouseID int64, limit int) ([]Movement, error) {
	if orgID == 0 || itemID == 0 || warehouseID == 0 {
		return nil, errors.New("inventory: org, item and warehouse required")
	}
	return s.repo.ListMovements(ctx, orgID, itemID, warehouseID, limit)
}

func (s *Service) record(ctx context.Context, orgID, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_movement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
