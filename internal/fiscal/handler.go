package fiscal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/auth"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the fiscal calendar over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the fiscal handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fiscal calendar routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermFiscalView))
		r.Get("/periods", h.listPeriods)
		r.Get("/periods/resolve", h.resolvePeriod)
		r.Get("/periods/{id}", h.getPeriod)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermFiscalManage))
		r.Post("/years/{year}/generate", h.generateYear)
		r.Post("/periods/{id}/status", h.setPeriodStatus)
	})
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "year must be numeric")
			return
		}
		year = parsed
	}
	periods, err := h.service.ListPeriods(r.Context(), identity.Scope(), year)
	if err != nil {
		h.respondError(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) resolvePeriod(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.ResolvePeriod(r.Context(), identity.Scope(), date)
	if err != nil {
		h.respondError(w, "resolve period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	period, err := h.service.GetPeriod(r.Context(), identity.Scope(), id)
	if err != nil {
		h.respondError(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) generateYear(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid year")
		return
	}
	res, err := h.service.GenerateYear(r.Context(), identity.Scope(), year)
	if err != nil {
		h.respondError(w, "generate year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setPeriodStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	target := PeriodStatus(req.Status)
	if !target.Valid() {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidTransition, "Bad Request", "status must be OPEN, CLOSED or LOCKED", nil)
		return
	}
	period, err := h.service.SetPeriodStatus(r.Context(), identity.Scope(), id, target)
	if err != nil {
		h.respondError(w, "set period status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNoPeriod):
		httpx.ProblemCode(w, http.StatusNotFound, CodeNoPeriod, "Not Found", "no period covers the requested date", nil)
	case errors.Is(err, ErrPeriodNotFound), errors.Is(err, ErrYearNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrYearOutOfRange):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeYearOutOfRange, "Bad Request", err.Error(), nil)
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemCode(w, http.StatusConflict, CodeInvalidTransition, "Conflict", err.Error(), nil)
	case errors.Is(err, ErrTransitionConflict):
		httpx.ProblemCode(w, http.StatusConflict, CodeConflict, "Conflict", err.Error(), nil)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
