package reconhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/reconciliation"
	"github.com/meridian-books/meridian/internal/shared"
)

// stubStorage serves canned balanced books plus one pre-seeded run.
type stubStorage struct {
	run      reconciliation.Run
	resolved map[int64]bool
}

func (s *stubStorage) TrialBalanceTotals(context.Context, int64) (float64, float64, error) {
	return 1000, 1000, nil
}

func (s *stubStorage) UnbalancedJournals(context.Context, int64, int) ([]reconciliation.UnbalancedJournal, error) {
	return nil, nil
}

func (s *stubStorage) InventoryValue(context.Context, int64) (float64, error) { return 500, nil }

func (s *stubStorage) InventoryValueByWarehouse(context.Context, int64) ([]reconciliation.WarehouseValue, error) {
	return nil, nil
}

func (s *stubStorage) ControlBalance(_ context.Context, _ int64, kind string) (float64, error) {
	if kind == "INVENTORY" {
		return 500, nil
	}
	return 200, nil
}

func (s *stubStorage) SubledgerTotal(context.Context, int64, string) (float64, error) {
	return 200, nil
}

func (s *stubStorage) InsertRun(_ context.Context, orgID int64, trigger reconciliation.Trigger, triggeredBy int64) (reconciliation.Run, error) {
	return reconciliation.Run{ID: 10, OrgID: orgID, Trigger: trigger, TriggeredBy: triggeredBy, StartedAt: time.Now()}, nil
}

func (s *stubStorage) FinishRun(context.Context, int64, reconciliation.RunStatus, string) error {
	return nil
}

func (s *stubStorage) InsertVariances(_ context.Context, _ int64, v []reconciliation.Variance) ([]reconciliation.Variance, error) {
	return v, nil
}

func (s *stubStorage) GetRun(_ context.Context, orgID, runID int64) (reconciliation.Run, error) {
	if runID != s.run.ID || orgID != s.run.OrgID {
		return reconciliation.Run{}, reconciliation.ErrRunNotFound
	}
	return s.run, nil
}

func (s *stubStorage) ResolveVariance(_ context.Context, _ int64, varianceID, _ int64) error {
	if s.resolved[varianceID] {
		return reconciliation.ErrAlreadyResolved
	}
	if s.resolved == nil {
		s.resolved = make(map[int64]bool)
	}
	s.resolved[varianceID] = true
	return nil
}

func (s *stubStorage) SummaryCounts(context.Context, int64) (reconciliation.Summary, error) {
	return reconciliation.Summary{UnresolvedVarianceCount: 2, CriticalCount: 1, LastRunStatus: reconciliation.RunStatusCompleted}, nil
}

func newTestRouter(storage *stubStorage) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := reconciliation.NewService(storage, nil, nil, logger)
	handler := NewHandler(logger, service)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func scopedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(shared.ContextWithScope(req.Context(), shared.Scope{OrgID: 1, UserID: 7}))
}

func TestTriggerRun(t *testing.T) {
	router := newTestRouter(&stubStorage{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/reconciliation/runs", `{"trigger":"MANUAL"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "COMPLETED", payload["status"])

	// Unknown trigger values are rejected up front.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/reconciliation/runs", `{"trigger":"NIGHTLY"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRunRequiresScope(t *testing.T) {
	router := newTestRouter(&stubStorage{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconciliation/runs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShowRun(t *testing.T) {
	storage := &stubStorage{run: reconciliation.Run{
		ID: 5, OrgID: 1, Status: reconciliation.RunStatusCompleted,
		Variances: []reconciliation.Variance{{ID: 9, Type: reconciliation.VarianceAR, Amount: 12.5, Severity: reconciliation.SeverityWarning}},
	}}
	router := newTestRouter(storage)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodGet, "/reconciliation/runs/5", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Variances []map[string]any `json:"variances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Variances, 1)
	require.Equal(t, "AR", payload.Variances[0]["type"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodGet, "/reconciliation/runs/404", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummary(t *testing.T) {
	router := newTestRouter(&stubStorage{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodGet, "/reconciliation/summary", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary reconciliation.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.UnresolvedVarianceCount)
	require.False(t, summary.Balanced())
}

func TestResolveVariance(t *testing.T) {
	router := newTestRouter(&stubStorage{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/reconciliation/variances/9/resolve", `{"note":"timing difference"}`))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Resolving twice conflicts.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/reconciliation/variances/9/resolve", `{"note":"timing difference"}`))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Note is mandatory.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/reconciliation/variances/9/resolve", `{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
