package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/periods"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/shared"
)

// LedgerTx bundles the per-package transactional repositories over one
// storage transaction.
type LedgerTx interface {
	Journals() journals.TxRepository
	Inventory() inventory.TxRepository
	Periods() periods.TxRepository
	Records() TxStore
}

// TxRunner opens the atomic unit of work the coordinator executes inside.
type TxRunner interface {
	WithLedgerTx(ctx context.Context, timeout time.Duration, fn func(context.Context, LedgerTx) error) error
}

// InventoryChange names an (item, warehouse) whose on-hand quantity the unit
// of work touched; the coordinator re-verifies it is not negative.
type InventoryChange struct {
	ItemID      int64 `json:"item_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// Result links the business document to its ledger effects.
type Result struct {
	JournalIDs       []int64           `json:"journal_ids"`
	MovementIDs      []int64           `json:"movement_ids"`
	InventoryChanges []InventoryChange `json:"inventory_changes,omitempty"`
	Payload          any               `json:"payload,omitempty"`
	Replayed         bool              `json:"-"`
}

// Request describes one accounting unit of work.
type Request struct {
	OrgID          int64
	IdempotencyKey string
	Operation      string
	PostingDate    time.Time
	ActorID        int64
	AllowReversal  bool
	AuditMeta      map[string]any
	Fn             func(ctx context.Context, tx LedgerTx) (Result, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes coordinator outcomes.
type Metrics interface {
	PostingCommitted(operation string)
	PostingFailed(operation string)
	IdempotentReplay(operation string)
}

// Coordinator wraps an arbitrary unit of work in idempotency tracking, one
// atomic storage transaction, post-hoc balance and inventory validation, and
// audit logging.
type Coordinator struct {
	store   Store
	runner  TxRunner
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewCoordinator builds a Coordinator. timeout bounds the storage transaction;
// zero means no explicit ceiling.
func NewCoordinator(store Store, runner TxRunner, audit AuditPort, logger *slog.Logger, timeout time.Duration) *Coordinator {
	return &Coordinator{store: store, runner: runner, audit: audit, logger: logger, timeout: timeout, now: time.Now}
}

// WithMetrics attaches outcome counters.
func (c *Coordinator) WithMetrics(m Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Execute runs the unit of work with at-most-once semantics. A repeated key
// returns the stored result without re-executing Fn. Any failure inside the
// transaction rolls back every side effect; domain errors pass through
// unchanged.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	rec, existing, err := c.store.Begin(ctx, req.OrgID, req.Operation, req.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	if existing {
		var cached Result
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &cached); err != nil {
				return Result{}, fmt.Errorf("posting: decode cached result: %w", err)
			}
		}
		cached.Replayed = true
		if c.metrics != nil {
			c.metrics.IdempotentReplay(req.Operation)
		}
		if c.logger != nil {
			c.logger.Info("idempotent replay", slog.String("operation", req.Operation), slog.String("key", req.IdempotencyKey))
		}
		return cached, nil
	}

	var result Result
	err = c.runner.WithLedgerTx(ctx, c.timeout, func(ctx context.Context, ltx LedgerTx) error {
		if _, err := periods.ValidateInTx(ctx, ltx.Periods(), req.OrgID, req.PostingDate, req.AllowReversal); err != nil {
			return err
		}
		out, err := req.Fn(ctx, ltx)
		if err != nil {
			return err
		}
		for _, journalID := range out.JournalIDs {
			if err := journals.ValidateBalance(ctx, ltx.Journals(), req.OrgID, journalID); err != nil {
				return err
			}
		}
		for _, change := range out.InventoryChanges {
			if err := verifyOnHand(ctx, ltx.Inventory(), req.OrgID, change); err != nil {
				return err
			}
		}
		serialized, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("posting: encode result: %w", err)
		}
		// The COMPLETED flip rides the same transaction: a crash between
		// commit and a separate status update cannot strand the record
		// PENDING with the posting already durable.
		if err := ltx.Records().Complete(ctx, req.OrgID, req.Operation, req.IdempotencyKey, serialized); err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		if failErr := c.store.Fail(ctx, req.OrgID, req.Operation, req.IdempotencyKey); failErr != nil && c.logger != nil {
			c.logger.Warn("failed to mark idempotency record", slog.Any("error", failErr))
		}
		if c.metrics != nil {
			c.metrics.PostingFailed(req.Operation)
		}
		return Result{}, err
	}

	if c.metrics != nil {
		c.metrics.PostingCommitted(req.Operation)
	}
	if c.audit != nil {
		meta := map[string]any{
			"operation":    req.Operation,
			"journal_ids":  result.JournalIDs,
			"movement_ids": result.MovementIDs,
		}
		for k, v := range req.AuditMeta {
			meta[k] = v
		}
		_ = c.audit.Record(ctx, shared.AuditLog{
			OrgID:    req.OrgID,
			ActorID:  req.ActorID,
			Action:   "posting." + req.Operation,
			Entity:   "accounting_transaction",
			EntityID: req.IdempotencyKey,
			Meta:     meta,
			At:       c.now(),
		})
	}
	return result, nil
}

func validateRequest(req Request) error {
	if req.OrgID == 0 {
		return errors.New("posting: organization required")
	}
	if req.IdempotencyKey == "" {
		return errors.New("posting: idempotency key required")
	}
	if req.Operation == "" {
		return errors.New("posting: operation required")
	}
	if req.PostingDate.IsZero() {
		return errors.New("posting: posting date required")
	}
	if req.Fn == nil {
		return errors.New("posting: transaction fn required")
	}
	return nil
}

func verifyOnHand(ctx context.Context, tx inventory.TxRepository, orgID int64, change InventoryChange) error {
	qty, err := tx.GetOnHand(ctx, orgID, change.ItemID, change.WarehouseID)
	if err != nil {
		return err
	}
	if qty >= -accshared.QtyEpsilon {
		return nil
	}
	profile, err := tx.GetWarehouseProfile(ctx, orgID, change.WarehouseID)
	if err != nil {
		return err
	}
	if profile.AllowNegative {
		return nil
	}
	return &accshared.NegativeInventoryError{ItemID: change.ItemID, WarehouseID: change.WarehouseID, Qty: qty}
}
