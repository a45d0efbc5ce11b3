package periods

import (
	"context"
	"fmt"
	"time"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages period lifecycle transitions. Period generation itself is
// owned by period-management tooling; the engine only transitions status.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds the Service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// FindPeriodByDate resolves the period covering date.
func (s *Service) FindPeriodByDate(ctx context.Context, orgID int64, date time.Time) (Period, error) {
	return s.repo.FindPeriodByDate(ctx, orgID, date)
}

// SoftClose moves a period to SOFT_CLOSED: reversals still allowed, new
// postings rejected.
func (s *Service) SoftClose(ctx context.Context, orgID, periodID, actorID int64) error {
	return s.transition(ctx, orgID, periodID, PeriodStatusSoftClosed, actorID, "period.soft_close")
}

// Close locks the period against everything except flagged reversals.
func (s *Service) Close(ctx context.Context, orgID, periodID, actorID int64) error {
	return s.transition(ctx, orgID, periodID, PeriodStatusClosed, actorID, "period.close")
}

// Reopen is the explicit escape hatch for a closed period.
func (s *Service) Reopen(ctx context.Context, orgID, periodID, actorID int64) error {
	return s.transition(ctx, orgID, periodID, PeriodStatusOpen, actorID, "period.reopen")
}

func (s *Service) transition(ctx context.Context, orgID, periodID int64, status PeriodStatus, actorID int64, action string) error {
	if periodID == 0 {
		return accshared.ErrInvalidStatus
	}
	if err := s.repo.UpdateStatus(ctx, orgID, periodID, status, actorID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  actorID,
			Action:   action,
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%d", periodID),
			Meta:     map[string]any{"status": string(status)},
			At:       s.now(),
		})
	}
	return nil
}
