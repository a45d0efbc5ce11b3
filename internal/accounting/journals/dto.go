package journals

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/accounting/shared"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID   int64
	Debit       float64
	Credit      float64
	Description string
}

// PostingInput groups fields required to create a journal.
type PostingInput struct {
	OrgID        int64
	JournalDate  time.Time
	PostingDate  time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	ReversalOf   *int64
	Lines        []PostingLineInput
}

// Validate ensures posting input meets minimum criteria, including the
// balance check within AmountEpsilon.
func (in PostingInput) Validate() error {
	if in.OrgID == 0 {
		return errors.New("accounting: organization required")
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("accounting: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("accounting: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("accounting: line %d cannot be both debit and credit", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if math.Abs(debit-credit) >= shared.AmountEpsilon {
		return &shared.UnbalancedJournalError{TotalDebit: debit, TotalCredit: credit}
	}
	if in.SourceModule == "" {
		return errors.New("accounting: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("accounting: source id required")
	}
	if in.PostingDate.IsZero() {
		return errors.New("accounting: posting date required")
	}
	return nil
}

// Totals sums the debit and credit sides.
func (in PostingInput) Totals() (debit, credit float64) {
	for _, line := range in.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	OrgID        int64
	JournalID    int64
	ActorID      int64
	Reason       string
	ReversalDate time.Time
}

// VoidInput wraps parameters for voiding.
type VoidInput struct {
	OrgID     int64
	JournalID int64
	ActorID   int64
	Reason    string
}
