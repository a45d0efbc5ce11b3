package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal not found")
	// ErrMovementNotFound indicates missing inventory movement.
	ErrMovementNotFound = errors.New("accounting: inventory movement not found")
	// ErrLayerNotFound indicates missing inventory layer.
	ErrLayerNotFound = errors.New("accounting: inventory layer not found")
	// ErrLayerInsufficientQty indicates a layer decrement larger than the
	// quantity remaining, usually a concurrent consumer winning the row.
	ErrLayerInsufficientQty = errors.New("accounting: inventory layer has insufficient quantity remaining")
	// ErrInvalidStatus indicates action can't proceed from current status.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrOperationInFlight indicates another request holds the same
	// idempotency key and has not finished; callers should back off and retry.
	ErrOperationInFlight = errors.New("accounting: operation with this idempotency key is in flight")
	// ErrDocumentHasDependents indicates a document cannot be voided because
	// irreversible downstream records exist.
	ErrDocumentHasDependents = errors.New("accounting: document has dependent records")
)

// NoPeriodError reports a posting date not covered by any accounting period.
type NoPeriodError struct {
	OrgID int64
	Date  time.Time
}

func (e *NoPeriodError) Error() string {
	return fmt.Sprintf("accounting: no period covers %s", e.Date.Format("2006-01-02"))
}

// PeriodClosedError reports a posting into a closed period.
type PeriodClosedError struct {
	PeriodCode string
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("accounting: period %s is closed", e.PeriodCode)
}

// PeriodSoftClosedError reports a non-reversal posting into a soft-closed period.
type PeriodSoftClosedError struct {
	PeriodCode string
}

func (e *PeriodSoftClosedError) Error() string {
	return fmt.Sprintf("accounting: period %s is soft-closed", e.PeriodCode)
}

// UnbalancedJournalError reports a journal whose debits and credits disagree.
type UnbalancedJournalError struct {
	JournalID   int64
	TotalDebit  float64
	TotalCredit float64
}

func (e *UnbalancedJournalError) Error() string {
	return fmt.Sprintf("accounting: journal %d unbalanced: debit %.2f credit %.2f", e.JournalID, e.TotalDebit, e.TotalCredit)
}

// NegativeInventoryError reports a unit of work that would leave an item's
// on-hand quantity below zero in a warehouse that disallows it.
type NegativeInventoryError struct {
	ItemID      int64
	WarehouseID int64
	Qty         float64
}

func (e *NegativeInventoryError) Error() string {
	return fmt.Sprintf("accounting: item %d in warehouse %d would go negative (%.4f)", e.ItemID, e.WarehouseID, e.Qty)
}

// InsufficientInventoryError reports demand exceeding available FIFO layers.
type InsufficientInventoryError struct {
	ItemID      int64
	WarehouseID int64
	Available   float64
	Requested   float64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("accounting: insufficient inventory for item %d in warehouse %d: available %.4f, requested %.4f", e.ItemID, e.WarehouseID, e.Available, e.Requested)
}
