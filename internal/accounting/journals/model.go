package journals

import (
	"time"

	"github.com/google/uuid"
)

// JournalStatus enumerates journal lifecycle values. Journals are append-only:
// the only transitions are ACTIVE -> REVERSED and ACTIVE -> VOIDED, and
// amounts are never updated in place.
type JournalStatus string

const (
	JournalStatusActive   JournalStatus = "ACTIVE"
	JournalStatusReversed JournalStatus = "REVERSED"
	JournalStatusVoided   JournalStatus = "VOIDED"
)

// Journal captures posting metadata for a balanced set of lines.
type Journal struct {
	ID           int64
	OrgID        int64
	Number       int64
	JournalDate  time.Time
	PostingDate  time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	TotalDebit   float64
	TotalCredit  float64
	Status       JournalStatus
	ReversalOf   *int64
	PostedBy     int64
	PostedAt     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID          int64
	JournalID   int64
	AccountID   int64
	Debit       float64
	Credit      float64
	Description string
	CreatedAt   time.Time
}
