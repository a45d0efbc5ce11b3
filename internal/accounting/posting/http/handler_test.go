package postinghttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/periods"
	"github.com/meridian-books/meridian/internal/accounting/posting"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/shared"
)

// journalStore backs both the list endpoint and the transactional writes.
type journalStore struct {
	journals map[int64]journals.Journal
	lines    map[int64][]journals.JournalLine
	nextID   int64
}

func newJournalStore() *journalStore {
	return &journalStore{journals: make(map[int64]journals.Journal), lines: make(map[int64][]journals.JournalLine)}
}

func (s *journalStore) List(_ context.Context, orgID int64) ([]journals.Journal, error) {
	var out []journals.Journal
	for _, j := range s.journals {
		if j.OrgID == orgID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *journalStore) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *journalStore) InsertJournal(_ context.Context, in journals.PostingInput) (journals.Journal, error) {
	s.nextID++
	debit, credit := in.Totals()
	j := journals.Journal{
		ID: s.nextID, OrgID: in.OrgID, Number: s.nextID,
		JournalDate: in.JournalDate, PostingDate: in.PostingDate,
		SourceModule: in.SourceModule, SourceID: in.SourceID, Memo: in.Memo,
		TotalDebit: debit, TotalCredit: credit,
		Status: journals.JournalStatusActive, ReversalOf: in.ReversalOf, PostedBy: in.PostedBy,
	}
	s.journals[j.ID] = j
	return j, nil
}

func (s *journalStore) InsertJournalLines(_ context.Context, journalID int64, lines []journals.PostingLineInput) error {
	for _, line := range lines {
		s.lines[journalID] = append(s.lines[journalID], journals.JournalLine{
			JournalID: journalID, AccountID: line.AccountID,
			Debit: line.Debit, Credit: line.Credit, Description: line.Description,
		})
	}
	return nil
}

func (s *journalStore) GetJournalWithLines(_ context.Context, orgID, journalID int64) (journals.Journal, []journals.JournalLine, error) {
	j, ok := s.journals[journalID]
	if !ok || j.OrgID != orgID {
		return journals.Journal{}, nil, accshared.ErrJournalNotFound
	}
	return j, s.lines[journalID], nil
}

func (s *journalStore) UpdateJournalStatus(_ context.Context, orgID, journalID int64, status journals.JournalStatus) error {
	j, ok := s.journals[journalID]
	if !ok || j.OrgID != orgID {
		return accshared.ErrJournalNotFound
	}
	j.Status = status
	s.journals[journalID] = j
	return nil
}

// stubExecutor runs the request's unit of work directly against the store,
// or returns a canned outcome.
type stubExecutor struct {
	store   *journalStore
	err     error
	canned  *posting.Result
	lastReq posting.Request
}

func (e *stubExecutor) Execute(ctx context.Context, req posting.Request) (posting.Result, error) {
	e.lastReq = req
	if e.err != nil {
		return posting.Result{}, e.err
	}
	if e.canned != nil {
		return *e.canned, nil
	}
	return req.Fn(ctx, stubLedgerTx{store: e.store})
}

type stubLedgerTx struct {
	store *journalStore
}

func (t stubLedgerTx) Journals() journals.TxRepository   { return t.store }
func (t stubLedgerTx) Inventory() inventory.TxRepository { return nil }
func (t stubLedgerTx) Periods() periods.TxRepository     { return nil }
func (t stubLedgerTx) Records() posting.TxStore          { return nil }

func newTestRouter(executor *stubExecutor) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, executor, executor.store)
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

const balancedBody = `{
	"idempotency_key": "man-001",
	"journal_date": "2025-03-10",
	"posting_date": "2025-03-10",
	"memo": "accrual",
	"lines": [
		{"account_id": 10, "debit": 250.00},
		{"account_id": 20, "credit": 250.00}
	]
}`

func TestPostJournal(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore()}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusCreated, rec.Code)

	var payload struct {
		JournalIDs []int64 `json:"journal_ids"`
		Replayed   bool    `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.JournalIDs, 1)
	require.False(t, payload.Replayed)
	require.Equal(t, "journal.manual", executor.lastReq.Operation)
	require.Equal(t, "man-001", executor.lastReq.IdempotencyKey)
	require.Len(t, executor.store.lines[payload.JournalIDs[0]], 2)
}

func TestPostJournalUnbalanced(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore()}
	router := newTestRouter(executor)

	body := strings.Replace(balancedBody, `"credit": 250.00`, `"credit": 100.00`, 1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, executor.store.journals)
}

func TestPostJournalValidation(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore()}
	router := newTestRouter(executor)

	// Missing idempotency key never reaches the executor.
	body := strings.Replace(balancedBody, `"man-001"`, `""`, 1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, executor.lastReq.Operation)
}

func TestPostJournalReplayed(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore(), canned: &posting.Result{JournalIDs: []int64{42}, Replayed: true}}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPostJournalClosedPeriod(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore(), err: &accshared.PeriodClosedError{PeriodCode: "2025-01"}}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPostJournalDuplicateInFlight(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore(), err: accshared.ErrOperationInFlight}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPostJournalRequiresScope(t *testing.T) {
	router := newTestRouter(&stubExecutor{store: newJournalStore()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/journals/", strings.NewReader(balancedBody)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReverseJournal(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore()}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{"idempotency_key": "rev-001", "reversal_date": "2025-03-11", "reason": "entered twice"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/1/reverse", body))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, executor.lastReq.AllowReversal)
	require.Equal(t, journals.JournalStatusReversed, executor.store.journals[1].Status)

	// Unknown journals map to not found.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/99/reverse", body))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJournals(t *testing.T) {
	executor := &stubExecutor{store: newJournalStore()}
	router := newTestRouter(executor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodPost, "/journals/", balancedBody))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, scopedRequest(http.MethodGet, "/journals/", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload, 1)
	require.Equal(t, "MANUAL", payload[0]["source_module"])
}
