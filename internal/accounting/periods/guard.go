package periods

import (
	"context"
	"errors"
	"time"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/shared"
)

// PeriodLookup is the narrow read the guard needs, satisfied by both the
// pool-backed repository and the tx-scoped one.
type PeriodLookup interface {
	FindPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error)
}

// Guard validates posting dates against period status. It reads, never writes.
type Guard struct {
	lookup PeriodLookup
}

// NewGuard constructs a Guard over a period lookup.
func NewGuard(lookup PeriodLookup) *Guard {
	return &Guard{lookup: lookup}
}

// ValidatePostingDate resolves the period covering date and checks its
// status. Reversals may post into closed periods when allowReversal is set;
// soft-closed periods reject any new posting but accept reversals.
func (g *Guard) ValidatePostingDate(ctx context.Context, orgID int64, date time.Time, allowReversal bool) error {
	period, err := g.lookup.FindPeriodByDate(ctx, orgID, date)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return &accshared.NoPeriodError{OrgID: orgID, Date: date}
		}
		return err
	}
	return checkStatus(period, allowReversal)
}

func checkStatus(period Period, allowReversal bool) error {
	switch period.Status {
	case PeriodStatusOpen:
		return nil
	case PeriodStatusSoftClosed:
		if allowReversal {
			return nil
		}
		return &accshared.PeriodSoftClosedError{PeriodCode: period.Code}
	case PeriodStatusClosed:
		if allowReversal {
			return nil
		}
		return &accshared.PeriodClosedError{PeriodCode: period.Code}
	default:
		return &accshared.PeriodClosedError{PeriodCode: period.Code}
	}
}

// ValidateInTx performs the same check against a tx-scoped lookup, locking
// the period row for the duration of the transaction.
func ValidateInTx(ctx context.Context, tx TxRepository, orgID int64, date time.Time, allowReversal bool) (Period, error) {
	period, err := tx.FindPeriodByDateForUpdate(ctx, orgID, date)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Period{}, &accshared.NoPeriodError{OrgID: orgID, Date: date}
		}
		return Period{}, err
	}
	if err := checkStatus(period, allowReversal); err != nil {
		return Period{}, err
	}
	return period, nil
}
