package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/shared"
)

// Storage is the persistence surface the service needs, implemented by
// Repository.
type Storage interface {
	TrialBalanceTotals(ctx context.Context, orgID int64) (float64, float64, error)
	UnbalancedJournals(ctx context.Context, orgID int64, limit int) ([]UnbalancedJournal, error)
	InventoryValue(ctx context.Context, orgID int64) (float64, error)
	InventoryValueByWarehouse(ctx context.Context, orgID int64) ([]WarehouseValue, error)
	ControlBalance(ctx context.Context, orgID int64, kind string) (float64, error)
	SubledgerTotal(ctx context.Context, orgID int64, kind string) (float64, error)
	InsertRun(ctx context.Context, orgID int64, trigger Trigger, triggeredBy int64) (Run, error)
	FinishRun(ctx context.Context, runID int64, status RunStatus, summary string) error
	InsertVariances(ctx context.Context, runID int64, variances []Variance) ([]Variance, error)
	GetRun(ctx context.Context, orgID, runID int64) (Run, error)
	ResolveVariance(ctx context.Context, orgID, varianceID, actorID int64) error
	SummaryCounts(ctx context.Context, orgID int64) (Summary, error)
}

// SummaryCache caches the dashboard summary per organization.
type SummaryCache interface {
	Get(ctx context.Context, orgID int64) (Summary, bool, error)
	Set(ctx context.Context, orgID int64, summary Summary) error
	Invalidate(ctx context.Context, orgID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes reconciliation outcomes.
type Metrics interface {
	ReconciliationRun(status string)
	UnresolvedVariances(count int)
}

// Service runs the three reconciliation checks and manages variances.
type Service struct {
	repo    Storage
	cache   SummaryCache
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the Service.
func NewService(repo Storage, cache SummaryCache, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// WithMetrics attaches outcome counters.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Run executes trial balance, inventory-GL and AR/AP checks, persists a run
// with nested variances, and classifies the outcome. A failing check is
// caught and recorded without preventing the other checks from completing.
func (s *Service) Run(ctx context.Context, orgID int64, trigger Trigger, userID int64) (Run, error) {
	run, err := s.repo.InsertRun(ctx, orgID, trigger, userID)
	if err != nil {
		return Run{}, err
	}

	var variances []Variance
	var checkErrors []string

	if result, err := s.checkTrialBalance(ctx, orgID); err != nil {
		checkErrors = append(checkErrors, fmt.Sprintf("trial_balance: %v", err))
		s.warn("trial balance check failed", err)
	} else {
		variances = append(variances, result.Variances...)
	}

	if result, err := s.checkInventoryGL(ctx, orgID); err != nil {
		checkErrors = append(checkErrors, fmt.Sprintf("inventory: %v", err))
		s.warn("inventory check failed", err)
	} else {
		variances = append(variances, result.Variances...)
	}

	for _, kind := range []VarianceType{VarianceAR, VarianceAP} {
		if result, err := s.checkSubledger(ctx, orgID, kind); err != nil {
			checkErrors = append(checkErrors, fmt.Sprintf("%s: %v", strings.ToLower(string(kind)), err))
			s.warn("subledger check failed", err)
		} else {
			variances = append(variances, result.Variances...)
		}
	}

	inserted, err := s.repo.InsertVariances(ctx, run.ID, variances)
	if err != nil {
		_ = s.repo.FinishRun(ctx, run.ID, RunStatusError, fmt.Sprintf("persist variances: %v", err))
		return Run{}, err
	}

	status := RunStatusCompleted
	summary := summarize(inserted)
	if len(checkErrors) > 0 {
		status = RunStatusError
		summary += "; errors: " + strings.Join(checkErrors, "; ")
	}
	if err := s.repo.FinishRun(ctx, run.ID, status, summary); err != nil {
		return Run{}, err
	}
	run.Status = status
	run.Summary = summary
	run.Variances = inserted

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, orgID)
	}
	if s.metrics != nil {
		s.metrics.ReconciliationRun(string(status))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  userID,
			Action:   "reconciliation.run",
			Entity:   "reconciliation_run",
			EntityID: fmt.Sprintf("%d", run.ID),
			Meta: map[string]any{
				"trigger":   string(trigger),
				"status":    string(status),
				"variances": len(inserted),
			},
			At: s.now(),
		})
	}
	return run, nil
}

func (s *Service) checkTrialBalance(ctx context.Context, orgID int64) (CheckResult, error) {
	debit, credit, err := s.repo.TrialBalanceTotals(ctx, orgID)
	if err != nil {
		return CheckResult{}, err
	}
	var unbalanced []UnbalancedJournal
	if !accshared.AmountsEqual(debit, credit) {
		unbalanced, err = s.repo.UnbalancedJournals(ctx, orgID, 20)
		if err != nil {
			return CheckResult{}, err
		}
	}
	return CheckTrialBalance(debit, credit, unbalanced), nil
}

func (s *Service) checkInventoryGL(ctx context.Context, orgID int64) (CheckResult, error) {
	layerValue, err := s.repo.InventoryValue(ctx, orgID)
	if err != nil {
		return CheckResult{}, err
	}
	glValue, err := s.repo.ControlBalance(ctx, orgID, "INVENTORY")
	if err != nil {
		return CheckResult{}, err
	}
	var perWarehouse []WarehouseValue
	if !accshared.AmountsEqual(layerValue, glValue) {
		perWarehouse, err = s.repo.InventoryValueByWarehouse(ctx, orgID)
		if err != nil {
			return CheckResult{}, err
		}
	}
	return CheckInventoryGL(layerValue, glValue, perWarehouse), nil
}

func (s *Service) checkSubledger(ctx context.Context, orgID int64, kind VarianceType) (CheckResult, error) {
	control, err := s.repo.ControlBalance(ctx, orgID, string(kind))
	if err != nil {
		return CheckResult{}, err
	}
	subledger, err := s.repo.SubledgerTotal(ctx, orgID, string(kind))
	if err != nil {
		return CheckResult{}, err
	}
	return CheckSubledger(kind, control, subledger), nil
}

// GetRun loads a run with variances.
func (s *Service) GetRun(ctx context.Context, orgID, runID int64) (Run, error) {
	return s.repo.GetRun(ctx, orgID, runID)
}

// ResolveVariance marks a variance resolved with an audit note.
func (s *Service) ResolveVariance(ctx context.Context, orgID, varianceID, actorID int64, note string) error {
	if err := s.repo.ResolveVariance(ctx, orgID, varianceID, actorID); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, orgID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  actorID,
			Action:   "reconciliation.resolve_variance",
			Entity:   "reconciliation_variance",
			EntityID: fmt.Sprintf("%d", varianceID),
			Meta:     map[string]any{"note": note},
			At:       s.now(),
		})
	}
	return nil
}

// Summary returns the dashboard summary, cache-first.
func (s *Service) Summary(ctx context.Context, orgID int64) (Summary, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, orgID); err == nil && ok {
			return cached, nil
		}
	}
	summary, err := s.repo.SummaryCounts(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}
	if s.metrics != nil {
		s.metrics.UnresolvedVariances(summary.UnresolvedVarianceCount)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, orgID, summary)
	}
	return summary, nil
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}

func summarize(variances []Variance) string {
	if len(variances) == 0 {
		return "balanced"
	}
	counts := map[Severity]int{}
	for _, v := range variances {
		counts[v.Severity]++
	}
	return fmt.Sprintf("%d variances (critical %d, warning %d, info %d)",
		len(variances), counts[SeverityCritical], counts[SeverityWarning], counts[SeverityInfo])
}
