package journals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/accounting/shared"
)

// CreateInTx validates the posting input and inserts a journal with its lines
// inside the caller's transaction.
func CreateInTx(ctx context.Context, tx TxRepository, in PostingInput) (Journal, error) {
	if err := in.Validate(); err != nil {
		return Journal{}, err
	}
	inserted, err := tx.InsertJournal(ctx, in)
	if err != nil {
		return Journal{}, err
	}
	if err := tx.InsertJournalLines(ctx, inserted.ID, in.Lines); err != nil {
		return Journal{}, err
	}
	inserted.Lines = toJournalLines(inserted.ID, in.Lines)
	return inserted, nil
}

// ValidateBalance re-reads the journal's lines and confirms debits equal
// credits within epsilon. The coordinator runs this post-hoc against what was
// actually written, not what the caller claimed.
func ValidateBalance(ctx context.Context, tx TxRepository, orgID, journalID int64) error {
	_, lines, err := tx.GetJournalWithLines(ctx, orgID, journalID)
	if err != nil {
		return err
	}
	var debit, credit float64
	for _, line := range lines {
		debit += line.Debit
		credit += line.Credit
	}
	if math.Abs(debit-credit) >= shared.AmountEpsilon {
		return &shared.UnbalancedJournalError{JournalID: journalID, TotalDebit: debit, TotalCredit: credit}
	}
	return nil
}

// ReverseInTx creates the mirror journal of an active one and marks the
// original REVERSED. The mirror swaps each line's debit and credit, so it is
// balanced by construction whenever the original was.
func ReverseInTx(ctx context.Context, tx TxRepository, in ReverseInput) (Journal, error) {
	original, lines, err := tx.GetJournalWithLines(ctx, in.OrgID, in.JournalID)
	if err != nil {
		return Journal{}, err
	}
	if original.Status != JournalStatusActive {
		return Journal{}, shared.ErrInvalidStatus
	}
	reversalDate := in.ReversalDate
	if reversalDate.IsZero() {
		reversalDate = original.PostingDate
	}
	posting := PostingInput{
		OrgID:        in.OrgID,
		JournalDate:  reversalDate,
		PostingDate:  reversalDate,
		SourceModule: original.SourceModule + ":REVERSAL",
		SourceID:     uuid.New(),
		Memo:         defaultReversalMemo(in.Reason, original.Number),
		PostedBy:     in.ActorID,
		ReversalOf:   &original.ID,
		Lines:        reverseLines(lines),
	}
	reversal, err := CreateInTx(ctx, tx, posting)
	if err != nil {
		return Journal{}, err
	}
	if err := tx.UpdateJournalStatus(ctx, in.OrgID, original.ID, JournalStatusReversed); err != nil {
		return Journal{}, err
	}
	return reversal, nil
}

// VoidInTx flips an active journal to VOIDED without touching amounts.
func VoidInTx(ctx context.Context, tx TxRepository, in VoidInput) (Journal, error) {
	current, lines, err := tx.GetJournalWithLines(ctx, in.OrgID, in.JournalID)
	if err != nil {
		return Journal{}, err
	}
	if current.Status != JournalStatusActive {
		return Journal{}, shared.ErrInvalidStatus
	}
	if err := tx.UpdateJournalStatus(ctx, in.OrgID, current.ID, JournalStatusVoided); err != nil {
		return Journal{}, err
	}
	current.Status = JournalStatusVoided
	current.Lines = lines
	return current, nil
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func toJournalLines(journalID int64, lines []PostingLineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID:   journalID,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return out
}

func defaultReversalMemo(reason string, number int64) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}
