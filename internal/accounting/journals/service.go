package journals

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

// Service exposes standalone journal operations. Document-level flows go
// through the posting coordinator instead, which composes the same InTx
// functions under one transaction.
type Service struct {
	repo  Repository
	audit AuditPort
	guard PeriodGuard
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort, guard PeriodGuard) *Service {
	return &Service{repo: repo, audit: audit, guard: guard, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, orgID int64) ([]Journal, error) {
	return s.repo.List(ctx, orgID)
}

// Post validates the period and creates a balanced journal.
func (s *Service) Post(ctx context.Context, input PostingInput) (Journal, error) {
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	if s.guard != nil {
		if err := s.guard.ValidatePostingDate(ctx, input.OrgID, input.PostingDate, false); err != nil {
			return Journal{}, err
		}
	}
	var entry Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := CreateInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return Journal{}, err
	}
	s.record(ctx, input.OrgID, input.PostedBy, "journal.post", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": input.SourceModule,
		"source_id":     input.SourceID.String(),
	})
	return entry, nil
}

// Reverse posts the mirror journal and flags the original.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (Journal, error) {
	if input.JournalID == 0 {
		return Journal{}, errors.New("accounting: journal id required")
	}
	if s.guard != nil && !input.ReversalDate.IsZero() {
		if err := s.guard.ValidatePostingDate(ctx, input.OrgID, input.ReversalDate, true); err != nil {
			return Journal{}, err
		}
	}
	var reversal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out, err := ReverseInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		reversal = out
		return nil
	})
	if err != nil {
		return Journal{}, err
	}
	s.record(ctx, input.OrgID, input.ActorID, "journal.reverse", input.JournalID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
		"reason":          input.Reason,
	})
	return reversal, nil
}

// Void marks an active journal VOIDED.
func (s *Service) Void(ctx context.Context, input VoidInput) (Journal, error) {
	if input.JournalID == 0 {
		return Journal{}, errors.New("accounting: journal id required")
	}
	var entry Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out, err := VoidInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = out
		return nil
	})
	if err != nil {
		return Journal{}, err
	}
	s.record(ctx, input.OrgID, input.ActorID, "journal.void", entry.ID, map[string]any{
		"reason": input.Reason,
	})
	return entry, nil
}

func (s *Service) record(ctx context.Context, orgID, actorID int64, action string, journalID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal",
		EntityID: fmt.Sprintf("%d", journalID),
		Meta:     meta,
		At:       s.now(),
	})
}
