package periods

import "time"

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen       PeriodStatus = "OPEN"
	PeriodStatusSoftClosed PeriodStatus = "SOFT_CLOSED"
	PeriodStatusClosed     PeriodStatus = "CLOSED"
)

// Period represents a fiscal period window. Exactly one period covers any
// calendar date per organization.
type Period struct {
	ID         int64
	OrgID      int64
	FiscalYear int
	PeriodNo   int
	Code       string
	StartDate  time.Time
	EndDate    time.Time
	Status     PeriodStatus
	ClosedAt   *time.Time
	ClosedBy   *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Covers reports whether the period window contains the date.
func (p Period) Covers(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}
