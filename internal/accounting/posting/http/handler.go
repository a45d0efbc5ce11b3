package postinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/posting"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/shared"
)

// Executor runs one idempotent accounting unit of work.
type Executor interface {
	Execute(ctx context.Context, req posting.Request) (posting.Result, error)
}

// Handler exposes manual journal entries over HTTP. Every write goes through
// the coordinator so period checks, balance validation and idempotency apply.
type Handler struct {
	logger   *slog.Logger
	executor Executor
	journals journals.Repository
	validate *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, executor Executor, repo journals.Repository) *Handler {
	return &Handler{logger: logger, executor: executor, journals: repo, validate: validator.New()}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.listJournals)
		r.Post("/", h.postJournal)
		r.Post("/{id}/reverse", h.reverseJournal)
	})
}

type journalLineRequest struct {
	AccountID   int64   `json:"account_id" validate:"required"`
	Debit       float64 `json:"debit" validate:"gte=0"`
	Credit      float64 `json:"credit" validate:"gte=0"`
	Description string  `json:"description"`
}

type postJournalRequest struct {
	IdempotencyKey string               `json:"idempotency_key" validate:"required"`
	JournalDate    string               `json:"journal_date" validate:"required,datetime=2006-01-02"`
	PostingDate    string               `json:"posting_date" validate:"required,datetime=2006-01-02"`
	Memo           string               `json:"memo"`
	Lines          []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	var req postJournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	journalDate, _ := time.Parse("2006-01-02", req.JournalDate)
	postingDate, _ := time.Parse("2006-01-02", req.PostingDate)

	lines := make([]journals.PostingLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, journals.PostingLineInput{
			AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Description: line.Description,
		})
	}

	result, err := h.executor.Execute(r.Context(), posting.Request{
		OrgID:          scope.OrgID,
		IdempotencyKey: req.IdempotencyKey,
		Operation:      "journal.manual",
		PostingDate:    postingDate,
		ActorID:        scope.UserID,
		Fn: func(ctx context.Context, ltx posting.LedgerTx) (posting.Result, error) {
			entry, err := journals.CreateInTx(ctx, ltx.Journals(), journals.PostingInput{
				OrgID:        scope.OrgID,
				JournalDate:  journalDate,
				PostingDate:  postingDate,
				SourceModule: "MANUAL",
				SourceID:     uuid.New(),
				Memo:         req.Memo,
				PostedBy:     scope.UserID,
				Lines:        lines,
			})
			if err != nil {
				return posting.Result{}, err
			}
			return posting.Result{JournalIDs: []int64{entry.ID}}, nil
		},
	})
	if err != nil {
		h.writeExecuteError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"journal_ids": result.JournalIDs,
		"replayed":    result.Replayed,
	})
}

type reverseJournalRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	ReversalDate   string `json:"reversal_date" validate:"required,datetime=2006-01-02"`
	Reason         string `json:"reason" validate:"required"`
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	journalID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var req reverseJournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reversalDate, _ := time.Parse("2006-01-02", req.ReversalDate)

	result, err := h.executor.Execute(r.Context(), posting.Request{
		OrgID:          scope.OrgID,
		IdempotencyKey: req.IdempotencyKey,
		Operation:      "journal.reverse",
		PostingDate:    reversalDate,
		ActorID:        scope.UserID,
		AllowReversal:  true,
		Fn: func(ctx context.Context, ltx posting.LedgerTx) (posting.Result, error) {
			reversal, err := journals.ReverseInTx(ctx, ltx.Journals(), journals.ReverseInput{
				OrgID:        scope.OrgID,
				JournalID:    journalID,
				ActorID:      scope.UserID,
				Reason:       req.Reason,
				ReversalDate: reversalDate,
			})
			if err != nil {
				return posting.Result{}, err
			}
			return posting.Result{JournalIDs: []int64{reversal.ID}}, nil
		},
	})
	if err != nil {
		h.writeExecuteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"journal_ids": result.JournalIDs,
		"replayed":    result.Replayed,
	})
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	entries, err := h.journals.List(r.Context(), scope.OrgID)
	if err != nil {
		h.logger.Error("list journals failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, j := range entries {
		out = append(out, map[string]any{
			"id":            j.ID,
			"number":        j.Number,
			"journal_date":  j.JournalDate,
			"posting_date":  j.PostingDate,
			"source_module": j.SourceModule,
			"memo":          j.Memo,
			"total_debit":   j.TotalDebit,
			"total_credit":  j.TotalCredit,
			"status":        j.Status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeExecuteError(w http.ResponseWriter, err error) {
	var noPeriod *accshared.NoPeriodError
	var closed *accshared.PeriodClosedError
	var softClosed *accshared.PeriodSoftClosedError
	var unbalanced *accshared.UnbalancedJournalError
	switch {
	case errors.Is(err, accshared.ErrOperationInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, accshared.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, accshared.ErrJournalNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, &noPeriod), errors.As(err, &closed), errors.As(err, &softClosed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &unbalanced), errors.Is(err, accshared.ErrTooFewLines):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("journal posting failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
