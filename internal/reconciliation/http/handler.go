package reconhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-books/meridian/internal/reconciliation"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler wires reconciliation API endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *reconciliation.Service
	validate *validator.Validate
	group    singleflight.Group
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service *reconciliation.Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reconciliation", func(r chi.Router) {
		r.Post("/runs", h.triggerRun)
		r.Get("/runs/{id}", h.showRun)
		r.Get("/summary", h.summary)
		r.Post("/variances/{id}/resolve", h.resolveVariance)
	})
}

type triggerRunRequest struct {
	Trigger string `json:"trigger" validate:"omitempty,oneof=MANUAL SCHEDULED"`
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	var req triggerRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trigger := reconciliation.TriggerManual
	if req.Trigger != "" {
		trigger = reconciliation.Trigger(req.Trigger)
	}
	run, err := h.service.Run(r.Context(), scope.OrgID, trigger, scope.UserID)
	if err != nil {
		h.logger.Error("reconciliation run failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, runResponse(run))
}

func (h *Handler) showRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	run, err := h.service.GetRun(r.Context(), scope.OrgID, id)
	if err != nil {
		if errors.Is(err, reconciliation.ErrRunNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	key := fmt.Sprintf("summary:%d", scope.OrgID)
	out, err, _ := h.group.Do(key, func() (any, error) {
		return h.service.Summary(context.WithoutCancel(r.Context()), scope.OrgID)
	})
	if err != nil {
		h.logger.Error("summary failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveVarianceRequest struct {
	Note string `json:"note" validate:"required,min=3,max=500"`
}

func (h *Handler) resolveVariance(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var req resolveVarianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.ResolveVariance(r.Context(), scope.OrgID, id, scope.UserID, req.Note); err != nil {
		if errors.Is(err, reconciliation.ErrAlreadyResolved) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, reconciliation.ErrVarianceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func runResponse(run reconciliation.Run) map[string]any {
	variances := make([]map[string]any, 0, len(run.Variances))
	for _, v := range run.Variances {
		variances = append(variances, map[string]any{
			"id":          v.ID,
			"type":        v.Type,
			"amount":      v.Amount,
			"severity":    v.Severity,
			"description": v.Description,
			"resolved":    v.Resolved,
		})
	}
	return map[string]any{
		"id":        run.ID,
		"trigger":   run.Trigger,
		"status":    run.Status,
		"summary":   run.Summary,
		"variances": variances,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
