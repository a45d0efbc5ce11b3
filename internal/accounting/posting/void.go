package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/inventory"
)

// DependencyChecker reports whether a document has downstream records that
// block voiding, e.g. an invoice with recorded payments.
type DependencyChecker interface {
	HasIrreversibleDependents(ctx context.Context, orgID int64, docType string, docID int64) (bool, error)
}

// VoidRequest describes a document void. The caller names the journals and
// movements its document produced; MarkVoided flips the document row itself,
// since document tables belong to the caller.
type VoidRequest struct {
	OrgID          int64
	DocType        string
	DocID          int64
	IdempotencyKey string
	ReversalDate   time.Time
	ActorID        int64
	Reason         string
	JournalIDs     []int64
	MovementIDs    []int64
	MarkVoided     func(ctx context.Context, tx LedgerTx) error
}

// VoidDocument reverses a document's journals and inventory movements and
// marks it voided, all under one idempotent atomic unit of work. Reversals
// are allowed into soft-closed and closed periods.
func (c *Coordinator) VoidDocument(ctx context.Context, checker DependencyChecker, req VoidRequest) (Result, error) {
	if req.DocType == "" || req.DocID == 0 {
		return Result{}, errors.New("posting: document type and id required")
	}
	if checker != nil {
		blocked, err := checker.HasIrreversibleDependents(ctx, req.OrgID, req.DocType, req.DocID)
		if err != nil {
			return Result{}, err
		}
		if blocked {
			return Result{}, accshared.ErrDocumentHasDependents
		}
	}
	return c.Execute(ctx, Request{
		OrgID:          req.OrgID,
		IdempotencyKey: req.IdempotencyKey,
		Operation:      fmt.Sprintf("void.%s", req.DocType),
		PostingDate:    req.ReversalDate,
		ActorID:        req.ActorID,
		AllowReversal:  true,
		AuditMeta: map[string]any{
			"doc_type": req.DocType,
			"doc_id":   req.DocID,
			"reason":   req.Reason,
		},
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			var out Result
			for _, journalID := range req.JournalIDs {
				reversal, err := journals.ReverseInTx(ctx, ltx.Journals(), journals.ReverseInput{
					OrgID:        req.OrgID,
					JournalID:    journalID,
					ActorID:      req.ActorID,
					Reason:       req.Reason,
					ReversalDate: req.ReversalDate,
				})
				if err != nil {
					return Result{}, err
				}
				out.JournalIDs = append(out.JournalIDs, reversal.ID)
			}
			for _, movementID := range req.MovementIDs {
				reversal, err := inventory.ReverseMovement(ctx, ltx.Inventory(), inventory.ReversalInput{
					OrgID:      req.OrgID,
					MovementID: movementID,
					SourceID:   fmt.Sprintf("%s:%d:void", req.DocType, req.DocID),
					ActorID:    req.ActorID,
				})
				if err != nil {
					return Result{}, err
				}
				out.MovementIDs = append(out.MovementIDs, reversal.ID)
				out.InventoryChanges = append(out.InventoryChanges, InventoryChange{ItemID: reversal.ItemID, WarehouseID: reversal.WarehouseID})
			}
			if req.MarkVoided != nil {
				if err := req.MarkVoided(ctx, ltx); err != nil {
					return Result{}, err
				}
			}
			return out, nil
		},
	})
}
